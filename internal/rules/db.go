package rules

import (
	"errors"
	"fmt"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

// MySQL error codes skipped by DBQueryErrors.
const (
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
)

// DBQueryErrors reports failed MediaWiki database queries.
type DBQueryErrors struct{ kibana }

func NewDBQueryErrors(d Deps) *DBQueryErrors {
	return &DBQueryErrors{newKibana(d, "", 0)}
}

func (*DBQueryErrors) Name() string { return LabelDBQueryErrors }

func (r *DBQueryErrors) Fetch(string) ([]source.Entry, error) {
	return r.match("@exception.class", "DBQueryError")
}

// Keep skips lock wait timeouts and deadlocks.
func (*DBQueryErrors) Keep(e source.Entry) bool {
	if !source.IsProductionHost(e.Str("@source_host")) {
		return false
	}
	errno, _ := e.Int("@context.errno")
	return errno != erLockWaitTimeout && errno != erLockDeadlock
}

// DBContext is the query information parsed from a DBQueryError message.
type DBContext struct {
	Query    string
	Function string
	Error    string
}

// ParseDBContext extracts the failed query from the multi-line exception
// message ("Query: ...", "Function: ...") and the error from @context.
func ParseDBContext(e source.Entry) (DBContext, bool) {
	message, ok := e.StrOK("@exception.message")
	if !ok {
		return DBContext{}, false
	}

	parsed := make(map[string]string)
	lines := strings.Split(strings.TrimSpace(message), "\n")
	for _, line := range lines[1:] {
		if key, value, found := strings.Cut(line, ":"); found {
			parsed[key] = strings.TrimSpace(value)
		}
	}

	return DBContext{
		Query:    parsed["Query"],
		Function: source.StripReleasePath(parsed["Function"]),
		Error:    fmt.Sprintf("%s %s", e.StrOr("@context.errno", "None"), e.StrOr("@context.err", "None")),
	}, true
}

func (*DBQueryErrors) Normalize(e source.Entry) (string, bool) {
	ctx, ok := ParseDBContext(e)
	if !ok || ctx.Query == "" {
		return "", false
	}
	return fmt.Sprintf("%s-%s", source.GeneralizeSQL(ctx.Query), e.StrOr("@context.errno", "None")), true
}

func (*DBQueryErrors) BuildReport(e source.Entry) (*report.Report, error) {
	ctx, ok := ParseDBContext(e)
	if !ok || ctx.Query == "" {
		return nil, errors.New("no query in the exception message")
	}

	// the server IP is not part of the summary
	server := e.Str("@context.server")
	errorNoIP := ctx.Error
	if server != "" {
		errorNoIP = strings.ReplaceAll(errorNoIP, "("+server+")", "")
	}
	errorNoIP = strings.TrimSpace(errorNoIP)

	full := fmt.Sprintf("*Query*: {noformat}%s{noformat}\n*Function*: %s\n*DB server*: %s\n*Error*: %s\n\nh5. Backtrace\n%s",
		ctx.Query, ctx.Function, server, errorNoIP, source.Backtrace(traceOf(e), 0))

	summary := fmt.Sprintf("[DB error %s] %s - %s", errorNoIP, ctx.Function, source.GeneralizeSQL(ctx.Query))
	r := report.New(summary, phpDescription(full, e), LabelDBQueryErrors)
	r.URL = phpURL(e)
	return r, nil
}

const noLimitRowsThreshold = 2000

// DBQueryNoLimit reports queries returning an excessive number of rows.
type DBQueryNoLimit struct{ kibana }

func NewDBQueryNoLimit(d Deps) *DBQueryNoLimit {
	return &DBQueryNoLimit{newKibana(d, "", 0)}
}

func (*DBQueryNoLimit) Name() string { return LabelDBQueryNoLimit }

func (r *DBQueryNoLimit) Fetch(string) ([]source.Entry, error) {
	return r.search(fmt.Sprintf("@context.num_rows: [%d TO *]", noLimitRowsThreshold))
}

func (*DBQueryNoLimit) Keep(e source.Entry) bool {
	if !strings.HasPrefix(e.Str("@message"), "SQL ") {
		return false
	}
	if !source.IsProductionHost(e.Str("@source_host")) {
		return false
	}
	rows, ok := e.Int("@context.num_rows")
	return ok && rows >= noLimitRowsThreshold
}

func (*DBQueryNoLimit) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s-%s-no-limit", source.GeneralizeSQL(msg), e.StrOr("@context.method", "None")), true
}

func (*DBQueryNoLimit) BuildReport(e source.Entry) (*report.Report, error) {
	query := strings.TrimSpace(strings.TrimPrefix(e.Str("@message"), "SQL"))
	method := e.StrOr("@context.method", "None")
	rows, _ := e.Int("@context.num_rows")

	full := fmt.Sprintf("The database query below returned far too many rows. Please use a proper LIMIT statement.\n\n"+
		"*Query*: {noformat}%s{noformat}\n*Function*: %s\n*Rows returned*: %d\n\nh5. Backtrace\n%s",
		query, method, rows, source.Backtrace(traceOf(e), 0))

	summary := fmt.Sprintf("[%s] The database query returns %dk+ rows", method, rows/1000)
	r := report.New(summary, phpDescription(full, e), LabelDBQueryNoLimit)
	r.URL = phpURL(e)
	return r, nil
}
