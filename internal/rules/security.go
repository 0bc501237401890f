package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

const securityExceptionClass = `Wikia\Security\Exception`

const csrfDetailsTemplate = `*A [Cross-site request forgery|https://cwe.mitre.org/data/definitions/352.html] attack is possible here*!
An attacker can make a request on behalf of a current Wikia user.

Please refer to [documentation on Confluence|https://fandom.atlassian.net/wiki/display/SEC/Cross-Site+Request+Forgery] on how to protect your code.

*Transaction*: {{%s}}
*Action performed*: {{%s}}
*Token checked*: %s
*HTTP method checked*: %s`

// frames below this offset belong to CSRFDetector itself
const csrfBacktraceOffset = 5

var frameLineRe = regexp.MustCompile(`:\d+$`)

// CSRF reports state-changing actions performed without a token or HTTP method check.
type CSRF struct{ kibana }

func NewCSRF(d Deps) *CSRF {
	return &CSRF{newKibana(d, "", 0)}
}

func (*CSRF) Name() string { return LabelCSRF }

func (r *CSRF) Fetch(string) ([]source.Entry, error) {
	return r.match("@exception.class", securityExceptionClass)
}

func (*CSRF) Keep(e source.Entry) bool {
	return source.IsFromProductionHost(e)
}

func (*CSRF) Normalize(e source.Entry) (string, bool) {
	if !strings.Contains(e.Str("@exception.file"), "CSRFDetector") {
		return "", false
	}
	caller, ok := securityCaller(e.Map("@exception"))
	if !ok {
		return "", false
	}
	return "CSRF-CSRF-" + caller, true
}

// securityCaller returns the first application frame outside of the Security extension.
func securityCaller(exception source.Entry) (string, bool) {
	for _, frame := range exception.Strings("trace") {
		frame = source.StripReleasePath(frame)
		if strings.Contains(frame, "/Security/") {
			continue
		}
		return frameLineRe.ReplaceAllString(frame, ""), true
	}
	return "", false
}

func (r *CSRF) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`@exception.class: "%s" AND @context.transaction: "%s" AND @context.hookName: "%s"`,
		securityExceptionClass, e.Str("@context.transaction"), e.Str("@context.hookName")),
		"@timestamp", "@source_host", "@fields.http_url")
}

func (*CSRF) BuildReport(e source.Entry) (*report.Report, error) {
	exception := e.Map("@exception")
	caller, ok := securityCaller(exception)
	if !ok {
		return nil, errors.New("no caller in the exception trace")
	}
	hook, ok := e.StrOK("@context.hookName")
	if !ok {
		return nil, errors.New("@context.hookName should be defined")
	}

	message := "CSRF detected in " + caller
	details := fmt.Sprintf(csrfDetailsTemplate,
		e.Str("@context.transaction"), hook,
		checked(e.Bool("@context.editTokenChecked")),
		checked(e.Bool("@context.httpMethodChecked")),
	)
	full := fmt.Sprintf("h2. %s\n\n%s\n\nh5. Backtrace\n%s", message, details, source.Backtrace(exception, csrfBacktraceOffset))

	r := report.New(message, phpDescription(full, e), LabelCSRF, "security", "CWE-352")
	r.URL = phpURL(e)
	return r, nil
}

func checked(ok bool) string {
	if ok {
		return "checked"
	}
	return "*not checked*"
}
