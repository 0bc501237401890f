package rules

import (
	"fmt"
	"sort"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

const ucpQuery = `NOT @message:"Wikimedia\\Rdbms" AND (event.type:"error" OR event.type:"fatal" OR event.type:"exception")`

// Jira priority ids per event type.
var ucpPriorities = map[string]string{
	"fatal":     "9",
	"error":     "8",
	"exception": "6",
}

var ucpReplacements = []replacement{
	replace(`\n`, ""),
	{re: urlRe, with: "<URL>"},
	{re: stackTraceRe, with: ""},
	{re: undefIndexRe, with: "Undefined index: X in"},
	{re: undefOffsetRe, with: "Undefined offset: N in"},
	replace(`Could not resolve cluster for DB name: (.*)`, "Could not resolve cluster for DB name: X"),
}

// UCP reports PHP errors, fatals and uncaught exceptions from the Unified Community Platform.
type UCP struct {
	kibana
	owners []owner
}

type owner struct {
	dir  string
	name string
}

func NewUCP(d Deps) *UCP {
	owners := make([]owner, 0, len(d.Owners))
	for dir, name := range d.Owners {
		owners = append(owners, owner{dir: "/" + strings.Trim(dir, "/") + "/", name: name})
	}
	// the most specific directory wins
	sort.Slice(owners, func(i, j int) bool {
		if len(owners[i].dir) != len(owners[j].dir) {
			return len(owners[i].dir) > len(owners[j].dir)
		}
		return owners[i].dir < owners[j].dir
	})
	return &UCP{kibana: newKibana(d, "logstash-mediawiki-unified-platform", 0), owners: owners}
}

func (*UCP) Name() string { return "UCPErrors" }

func (r *UCP) Fetch(string) ([]source.Entry, error) {
	return r.search(ucpQuery)
}

// Keep ignores the backup datacenter.
func (*UCP) Keep(e source.Entry) bool {
	return e.Has("@message") && e.Str("datacenter") != "RES"
}

// UCPEnv tells which UCP environment an entry was logged in.
func UCPEnv(e source.Entry) string {
	app := e.Str("kubernetes.labels.app")
	switch {
	case app == "mediawiki-preview-ucp":
		return source.EnvPreview
	case strings.HasPrefix(app, "mediawiki-sandbox-"):
		return source.EnvStaging
	case e.Str("datacenter") == "RES":
		return source.EnvBackupDC
	}
	return source.EnvProduction
}

func normalizeUCP(msg string) string {
	return rewrite(msg, ucpReplacements)
}

func (*UCP) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("PHP-%s-%s", normalizeUCP(msg), UCPEnv(e)), true
}

func (*UCP) Complete(e source.Entry) bool {
	return e.Has("@fields.http_url_domain") && e.Has("@fields.http_url_path") && e.Has("stack_trace")
}

func ucpURL(e source.Entry) string {
	domain, path := e.Str("@fields.http_url_domain"), e.Str("@fields.http_url_path")
	if domain == "" {
		return ""
	}
	return "https://" + domain + path
}

func (r *UCP) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`@message: "%s"`, e.Str("@message")),
		"@timestamp", "@message", "@fields.http_url_domain", "@fields.http_url_path")
}

// Owner returns the product owner of the code the stack trace goes through.
func (r *UCP) Owner(stackTrace string) (string, bool) {
	for _, o := range r.owners {
		if strings.Contains(stackTrace, o.dir) {
			return o.name, true
		}
	}
	return "", false
}

func (r *UCP) BuildReport(e source.Entry) (*report.Report, error) {
	msg, stack := e.Str("@message"), e.StrOr("stack_trace", "n/a")
	u := ucpURL(e)

	desc := fmt.Sprintf("%s\n\n*URL*: %s\n*Env*: %s\n\n*Stack trace:*\n{code}\n%s\n{code}",
		msg, source.OrNA(u), UCPEnv(e), stack)
	if name, ok := r.Owner(stack); ok {
		desc += "\n\n*Product owner*: " + name
	}

	rep := report.New(normalizeUCP(msg), strings.TrimSpace(desc), LabelUCP)
	rep.Priority = ucpPriorities[e.Str("event.type")]
	rep.URL = u
	return rep, nil
}
