package rules

import (
	"fmt"
	"regexp"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

var phpErrorReplacements = []replacement{
	replace(`\n`, ""),
	replace(`Exception from line \d+ of [^:]+:`, "Exception:"),
	replace(`https?://[^\s]+`, "<URL>"),
	replace(`/usr/wikia/slot1/\d+(/src)?`, ""),
	replace(`/data/deploytools/build/wikia.[^/]+/src`, ""),
	replace(`DOMDocument::loadHTML\(\): Tag \w+ invalid in Entity, line: \d+`, "DOMDocument::loadHTML(): Tag X invalid in Entity, line: N"),
	replace(`DOMDocument::loadHTML\(\): [^,]+, line: \d+`, "DOMDocument::loadHTML(): X, line: N"),
	replace(`popen\([^\)]+\)`, "popen(X)"),
	replace(`Unable to fork \[[^\]]+\]`, "Unable to fork [X]"),
	replace(`/tmp/\w+`, "/tmp/X"),
	replace(`\(/images/[^)]+\)`, "(/images/X)"),
	replace(`mwstore://swift-backend/[^ ]+`, "mwstore://swift-backend/X"),
	replace(`\d+ bytes`, "N bytes"),
	replace(`Unknown modifier '\w+'`, "Unknown modifier X"),
	replace(`unmatched parentheses at offset \d+`, "unmatched parentheses at offset N"),
	replace(`(?i)(PHP Fatal Error:)\s+`, "$1 "),
	replace(`PHP Notice:\s+`, "PHP Notice: "),
	replace(`\s?Stack trace:(.*)\{main\}\s?`, ""),
	replace(`simplehtmldom/simple_html_dom.php on line \d+`, "simplehtmldom/simple_html_dom.php"),
	replace(`Undefined index: [^\s]+ in`, "Undefined index: X in"),
	replace(`Undefined offset: \d+ in`, "Undefined offset: N in"),
	replace(`<!--LINK \d+:\d+-->`, "<!--LINK N:N-->"),
	replace(`Error while sending \w+ packet. PID=\d+`, "Error while sending X packet. PID=N"),
}

var phpErrorLinkRe = regexp.MustCompile(`^(.*) in /usr/wikia/slot1/\d+(.*)$`)

// PHPErrors reports PHP fatal errors, warnings and notices.
type PHPErrors struct{ kibana }

func NewPHPErrors(d Deps) *PHPErrors {
	return &PHPErrors{newKibana(d, "", 0)}
}

func (*PHPErrors) Name() string { return LabelPHPErrors }

// Fetch queries entries whose message starts with the given severity prefix.
func (r *PHPErrors) Fetch(query string) ([]source.Entry, error) {
	return r.search(fmt.Sprintf(`@message:"^%s" AND @source_host: /[rs].*/`, query))
}

// Keep drops entries without a line number (they cannot be traced) and
// out-of-memory errors, which are tracked elsewhere.
func (*PHPErrors) Keep(e source.Entry) bool {
	msg, ok := e.StrOK("@message")
	if !ok || !source.IsProductionHost(e.Str("@source_host")) {
		return false
	}
	if !onLineRe.MatchString(msg) {
		return false
	}
	return !strings.Contains(msg, "Allowed memory size of")
}

var onLineRe = regexp.MustCompile(`on line \d+`)

func (*PHPErrors) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("PHP-%s-%s", normalizePHPError(msg), source.EnvFromEntry(e)), true
}

func normalizePHPError(msg string) string {
	return strings.TrimSpace(rewrite(msg, phpErrorReplacements))
}

func (*PHPErrors) Complete(e source.Entry) bool {
	return e.Has("@fields.http_url")
}

func (r *PHPErrors) Link(e source.Entry) string {
	m := phpErrorLinkRe.FindStringSubmatch(e.Str("@message"))
	if m == nil {
		return ""
	}
	host, _, _ := strings.Cut(e.StrOr("@source_host", "ap"), "-")
	query := fmt.Sprintf(`@source_host: %s-s* AND "%s" AND "%s"`, host, m[1], m[2])
	return r.link(query, "@timestamp", "@message", "@fields.http_url", "@source_host")
}

func (*PHPErrors) BuildReport(e source.Entry) (*report.Report, error) {
	msg := e.Str("@message")
	r := report.New(normalizePHPError(msg), phpDescription(msg, e), LabelPHPErrors)
	r.URL = phpURL(e)
	return r, nil
}

func phpURL(e source.Entry) string {
	if u := source.URLFromEntry(e); u != "" {
		return u
	}
	return e.Str("@fields.http_url")
}

var phpExceptionReplacements = []replacement{
	replace(`#\d+`, "#X"),
	replace(`\d+ sec`, "X sec"),
	replace(`/usr/wikia/slot\d/\d+/src`, ""),
	replace(`blobs\d+/\d+`, "blobsX"),
	replace(`WikiaDataAccess could not obtain lock to generate data for: .*`, "WikiaDataAccess could not obtain lock to generate data for: XXX"),
}

// PHPExceptions reports uncaught MediaWiki exceptions.
type PHPExceptions struct{ kibana }

func NewPHPExceptions(d Deps) *PHPExceptions {
	return &PHPExceptions{newKibana(d, "", 0)}
}

func (*PHPExceptions) Name() string { return LabelPHPExceptions }

func (r *PHPExceptions) Fetch(severity string) ([]source.Entry, error) {
	return r.search(fmt.Sprintf(`@fields.app_name: "mediawiki" AND severity: "%s" AND @exception.class: * `+
		`AND -@exception.class: "DBQueryError" AND -@context.logGroup: "createwiki"`, severity))
}

// Keep skips fatals as they are reported by PHPErrors.
func (*PHPExceptions) Keep(e source.Entry) bool {
	if !source.IsProductionHost(e.Str("@source_host")) {
		return false
	}
	return !strings.HasPrefix(e.Str("@message"), "PHP Fatal ")
}

func exceptionMessage(e source.Entry) string {
	msg := e.Str("@message")
	switch e.Str("@exception.class") {
	case "WikiaException", "Error":
		msg = e.Str("@exception.message")
	}
	return strings.TrimSpace(rewrite(msg, phpExceptionReplacements))
}

func (*PHPExceptions) Normalize(e source.Entry) (string, bool) {
	msg := exceptionMessage(e)
	if msg == "" {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%s", source.EnvFromEntry(e), className(e), msg), true
}

func (*PHPExceptions) Complete(e source.Entry) bool {
	return e.Has("@fields.http_url")
}

func (r *PHPExceptions) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`"%s"`, exceptionMessage(e)),
		"@timestamp", "@source_host", "@message", "@exception.message", "@fields.db_name", "@fields.http_url")
}

func (*PHPExceptions) BuildReport(e source.Entry) (*report.Report, error) {
	class := e.StrOr("@exception.class", "Error")
	msg := exceptionMessage(e)

	full := fmt.Sprintf("h1. %s\n\n%s\n\nh5. Backtrace\n%s", class, msg, source.Backtrace(e.Map("@exception"), 0))

	r := report.New(fmt.Sprintf("[%s] %s", class, msg), phpDescription(full, e), LabelPHPExceptions)
	if c := e.Str("@exception.class"); c != "" {
		r.AddLabel("PHP" + c)
	}
	r.URL = phpURL(e)
	return r, nil
}

var typeErrorCallerRe = regexp.MustCompile(`, called in (.*)$`)

// PHPTypeError reports TypeErrors thrown on type hint violations.
type PHPTypeError struct{ kibana }

func NewPHPTypeError(d Deps) *PHPTypeError {
	return &PHPTypeError{newKibana(d, "", 0)}
}

func (*PHPTypeError) Name() string { return LabelPHPTypeError }

func (r *PHPTypeError) Fetch(string) ([]source.Entry, error) {
	return r.search(`@exception.class: "TypeError"`)
}

func (*PHPTypeError) Keep(e source.Entry) bool {
	return source.IsProductionHost(e.Str("@source_host"))
}

func (*PHPTypeError) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@exception.message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%s", source.EnvFromEntry(e), className(e), msg), true
}

func (r *PHPTypeError) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`@exception.message: "%s"`, e.Str("@exception.message")),
		"@timestamp", "@source_host", "@exception.message")
}

func (*PHPTypeError) BuildReport(e source.Entry) (*report.Report, error) {
	msg := e.Str("@exception.message")
	summary := typeErrorCallerRe.ReplaceAllString(msg, "")

	full := fmt.Sprintf("h1. %s\n\n%s\n\nh5. Backtrace\n%s", className(e), msg, source.Backtrace(e.Map("@exception"), 0))
	r := report.New(summary, phpDescription(full, e), LabelPHPTypeError)
	r.URL = phpURL(e)
	return r, nil
}

const assertionClass = `Wikia\Util\AssertionException`

var assertionReplacements = []replacement{
	replace(`: a:\d+:\{.*\}$`, ""),
	replace(`/\d+`, "/X"),
	replace(`Attribute \w+ not found for user \d+`, "Attribute X not found for user N"),
}

// PHPAssertion reports failed Wikia\Util\Assert checks.
type PHPAssertion struct{ kibana }

func NewPHPAssertion(d Deps) *PHPAssertion {
	return &PHPAssertion{newKibana(d, "", 0)}
}

func (*PHPAssertion) Name() string { return LabelPHPAssertion }

func (r *PHPAssertion) Fetch(string) ([]source.Entry, error) {
	return r.match("@exception.class", assertionClass)
}

func (*PHPAssertion) Keep(e source.Entry) bool {
	return source.IsProductionHost(e.Str("@source_host"))
}

func (*PHPAssertion) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@exception.message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s-%s", className(e), rewrite(msg, assertionReplacements)), true
}

func (r *PHPAssertion) Link(e source.Entry) string {
	msg := rewrite(e.Str("@exception.message"), assertionReplacements[:1])
	return r.link(fmt.Sprintf(`@exception.class: "%s" AND @exception.message:"%s"`, assertionClass, msg),
		"@timestamp", "@source_host", "@fields.url")
}

func (*PHPAssertion) BuildReport(e source.Entry) (*report.Report, error) {
	msg := e.Str("@exception.message")
	full := fmt.Sprintf("h1. %s\n\nh5. Backtrace\n%s", msg, source.Backtrace(traceOf(e), 0))

	r := report.New("[Assertion failed] "+msg, phpDescription(full, e), LabelPHPAssertion)
	r.URL = phpURL(e)
	return r, nil
}

// PHPTriggered reports entries explicitly sent to Jira by application code
// (WikiaLogger with the jira_reporter flag).
type PHPTriggered struct{ kibana }

func NewPHPTriggered(d Deps) *PHPTriggered {
	return &PHPTriggered{newKibana(d, "", 0)}
}

func (*PHPTriggered) Name() string { return LabelPHPTriggered }

func (r *PHPTriggered) Fetch(string) ([]source.Entry, error) {
	return r.search(`@context.jira_reporter: 1 AND @context.tags: *`)
}

func (*PHPTriggered) Keep(e source.Entry) bool {
	return e.Has("@message")
}

func (*PHPTriggered) Normalize(e source.Entry) (string, bool) {
	return e.StrOK("@message")
}

func (*PHPTriggered) BuildReport(e source.Entry) (*report.Report, error) {
	r := report.New(e.Str("@message"), e.Str("@context.body"), LabelPHPTriggered)
	for _, tag := range e.Strings("@context.tags") {
		r.AddLabel(tag)
	}
	r.URL = phpURL(e)
	return r, nil
}

const timeoutQuery = `"PHP Fatal Error: Maximum execution time"`

// PHPTimeout reports URLs that keep hitting the execution time limit.
type PHPTimeout struct{ kibana }

func NewPHPTimeout(d Deps) *PHPTimeout {
	return &PHPTimeout{newKibana(d, "", 0)}
}

func (*PHPTimeout) Name() string { return LabelPHPTimeout }

func (r *PHPTimeout) Fetch(string) ([]source.Entry, error) {
	return r.search(timeoutQuery)
}

func (*PHPTimeout) Keep(e source.Entry) bool {
	return source.IsProductionHost(e.Str("@source_host"))
}

func (*PHPTimeout) Normalize(e source.Entry) (string, bool) {
	u := source.URLFromEntry(e)
	if u == "" {
		return "", false
	}
	return u + "-php-timeout", true
}

func (r *PHPTimeout) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`%s AND @fields.http_url:"%s"`, timeoutQuery, source.URLFromEntry(e)),
		"@timestamp", "@fields.http_url")
}

func (*PHPTimeout) BuildReport(e source.Entry) (*report.Report, error) {
	u := source.URLFromEntry(e)
	desc := "The below URL is taking too much time to render. This is usually caused by extremely large articles.\n\n*URL*: " + u

	r := report.New("Timeout error: "+u, desc, LabelPHPTimeout)
	r.URL = u
	return r, nil
}
