package rules

import (
	"fmt"
	"regexp"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

var dbdErrorRe = regexp.MustCompile(`^DBD::mysql::db do failed: (.*) \[for Statement "(.*)"\]`)

// ExtractErrorAndSQL splits a Perl DBD error into the MySQL error and the
// failed statement. The statement is empty when the error has another form.
func ExtractErrorAndSQL(dbdError string) (string, string) {
	m := dbdErrorRe.FindStringSubmatch(dbdError)
	if m == nil || m[1] == "" || m[2] == "" {
		return dbdError, ""
	}
	return m[1], strings.TrimSpace(m[2])
}

// Backend reports errors of the Perl backend scripts.
type Backend struct{ kibana }

func NewBackend(d Deps) *Backend {
	return &Backend{newKibana(d, "logstash-backend", 150000)}
}

func (*Backend) Name() string { return LabelBackend }

func (r *Backend) Fetch(string) ([]source.Entry, error) {
	return r.search(`@message: "LB::error" AND @context.error: *`)
}

func (*Backend) Keep(e source.Entry) bool {
	return source.IsProductionHost(e.Str("@source_host"))
}

func (*Backend) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Backend-%s-%s-%s",
		msg,
		e.StrOr("@fields.script_name", "n/a"),
		source.GeneralizeSQL(e.StrOr("@context.error", "n/a")),
	), true
}

func (r *Backend) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`@message: "%s"`, e.Str("@message")),
		"@timestamp", "@fields.script_name", "@message", "@context.error")
}

func (*Backend) BuildReport(e source.Entry) (*report.Report, error) {
	msg := e.Str("@message")
	dbdError, sql := ExtractErrorAndSQL(e.StrOr("@context.error", "n/a"))

	desc := fmt.Sprintf("h3. The Camel says \"{{%s}}\"\n\n%s\n\n{code:sql}\n%s\n{code}\n\n{code}\n%s\n{code}",
		msg, dbdError, source.OrNA(sql), e.JSON(""))

	return report.New(fmt.Sprintf("%s - %s", e.Str("@fields.script_name"), msg), desc, LabelBackend), nil
}
