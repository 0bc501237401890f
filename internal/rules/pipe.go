package rules

import (
	"fmt"
	"regexp"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

// Pipe reports issues pushed by external linters to the jira-reporter-pipe index.
// Each entry carries a ready report: title, message, hash and tags.
type Pipe struct{ kibana }

func NewPipe(d Deps) *Pipe {
	return &Pipe{newKibana(d, "logstash-jira-reporter-pipe", 0)}
}

func (*Pipe) Name() string { return "ReportsPipe" }

func (r *Pipe) Fetch(string) ([]source.Entry, error) {
	return r.search("report.hash: *")
}

func (*Pipe) Keep(e source.Entry) bool {
	return e.Has("report.hash") && e.Has("report.title")
}

func (*Pipe) Normalize(e source.Entry) (string, bool) {
	return e.StrOK("report.hash")
}

func (*Pipe) BuildReport(e source.Entry) (*report.Report, error) {
	return report.New(e.Str("report.title"), e.Str("report.message"), e.Strings("report.tags")...), nil
}

const indexDigestTemplate = `h1. %s

*Linter*: %s
*Table name*: {{%s}}
*Database*: {{%s}} (%s)
*Host*: {{%s}}

h3. Table schema

{code:sql}
%s
{code}

h3. Context

{code}
%s
{code}

h6. Reported by %s - https://github.com/macbre/index-digest#checks`

var digitsRe = regexp.MustCompile(`\d+`)

// IndexDigest reports database schema issues found by index-digest.
type IndexDigest struct{ kibana }

func NewIndexDigest(d Deps) *IndexDigest {
	return &IndexDigest{newKibana(d, "logstash-index-digest", 0)}
}

func (*IndexDigest) Name() string { return LabelIndexDigest }

func (r *IndexDigest) Fetch(string) ([]source.Entry, error) {
	return r.search("report.type: *")
}

func (*IndexDigest) Keep(e source.Entry) bool {
	return e.Has("report.type") && e.Has("report.message")
}

func (*IndexDigest) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("report.message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("index-digest-%s-%s-%s-%s",
		e.StrOr("meta.database_name", "None"), e.Str("report.type"), e.StrOr("report.table", "None"),
		digitsRe.ReplaceAllString(msg, "N"),
	), true
}

func (*IndexDigest) BuildReport(e source.Entry) (*report.Report, error) {
	msg, table, kind := e.Str("report.message"), e.Str("report.table"), e.Str("report.type")

	desc := fmt.Sprintf(indexDigestTemplate,
		msg, kind, table,
		e.Str("meta.database_name"), e.StrOr("meta.database_version", "n/a"), e.Str("meta.database_host"),
		e.StrOr("report.context.schema", "-- n/a"),
		e.JSON("report.context"),
		e.StrOr("meta.version", "index-digest"),
	)

	return report.New(fmt.Sprintf("%s | %s", table, msg), desc, LabelIndexDigest, "index-digest-"+kind), nil
}
