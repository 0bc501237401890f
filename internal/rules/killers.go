package rules

import (
	"fmt"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

const killedQueryTemplate = `The following database query was killed by {{%s}} script, because it was taking too long to complete.

*Database name*: %s
*Database host*: %s
*Client IP*: %s
*Query time*: %s seconds
*Method*: {{%s}}

This query is dead. This query is no more.

{%s}
%s
{%s}

*More details*:

{code}
%s
{code}`

func killedQueryDescription(killer, block, method string, e source.Entry) string {
	return fmt.Sprintf(killedQueryTemplate, killer,
		e.StrOr("db", "n/a"), e.StrOr("@source_host", "n/a"), e.StrOr("client", "n/a"), e.StrOr("query_time", "n/a"),
		method,
		block, e.Str("query"), block,
		e.JSON(""),
	)
}

var mysqlKillerColumns = []string{"@source_host", "query", "query_class", "query_client", "query_time", "db", "client"}

// MySQLKiller reports long running queries killed by the mysql-killer script.
type MySQLKiller struct{ kibana }

func NewMySQLKiller(d Deps) *MySQLKiller {
	return &MySQLKiller{newKibana(d, "", 1000)}
}

func (*MySQLKiller) Name() string { return LabelMySQLKiller }

func (r *MySQLKiller) Fetch(string) ([]source.Entry, error) {
	return r.search(`program:"mysql-killer" AND query:*`)
}

func (*MySQLKiller) Keep(e source.Entry) bool {
	return e.Has("query")
}

func (*MySQLKiller) Normalize(e source.Entry) (string, bool) {
	query, ok := e.StrOK("query")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%s", LabelMySQLKiller, source.GeneralizeSQL(query), e.StrOr("query_class", "None")), true
}

func (r *MySQLKiller) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`program: "mysql-killer" AND query_class:"%s"`, e.Str("query_class")), mysqlKillerColumns...)
}

func (*MySQLKiller) BuildReport(e source.Entry) (*report.Report, error) {
	class := e.Str("query_class")
	desc := killedQueryDescription("mysql-killer", "code:sql", class, e)

	// a fake source path lets the classifier pick a component
	className, _, _ := strings.Cut(class, ":")
	desc += fmt.Sprintf("\n\nPossible source file:\n* /extensions/wikia/%s:1", className)

	return report.New(fmt.Sprintf("[%s] Long running query was killed by mysql-killer", class), desc, LabelMySQLKiller), nil
}

// PTKill reports long running queries killed by pt-kill.
type PTKill struct{ kibana }

func NewPTKill(d Deps) *PTKill {
	return &PTKill{newKibana(d, "", 1000)}
}

func (*PTKill) Name() string { return LabelPTKill }

func (r *PTKill) Fetch(string) ([]source.Entry, error) {
	return r.search(`program: "pt-kill"`)
}

func (*PTKill) Keep(e source.Entry) bool {
	return e.Has("query")
}

func (*PTKill) Normalize(e source.Entry) (string, bool) {
	query, ok := e.StrOK("query")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s-%s", LabelPTKill, source.GeneralizeSQL(query)), true
}

func (*PTKill) BuildReport(e source.Entry) (*report.Report, error) {
	method := source.OrNA(source.MethodFromQuery(e.Str("query")))
	desc := killedQueryDescription("pt-kill", "noformat", method, e)
	return report.New(fmt.Sprintf("[%s] Long running query was killed by pt-kill", method), desc, LabelPTKill), nil
}

const notCachedTemplate = `The following wikia.php API response can probably be cached on CDN layer (and invalidated when required)
to decrease the load on the backend servers.

*Nirvana controller*: %s
*Method name*: %s

To debug the request run the following command:

{noformat}
curl -svo /dev/null "%s"
{noformat}`

// NotCached reports wikia.php API responses served without caching headers.
type NotCached struct{ kibana }

func NewNotCached(d Deps) *NotCached {
	return &NotCached{newKibana(d, "", 0)}
}

func (*NotCached) Name() string { return LabelNotCached }

func (r *NotCached) Fetch(string) ([]source.Entry, error) {
	return r.search(`@message: "wikia-php.caching-disabled" AND @fields.http_method: "GET"`)
}

// Keep accepts main datacenter Apache servers only.
func (*NotCached) Keep(e source.Entry) bool {
	host := e.Str("@source_host")
	return strings.HasPrefix(host, "ap-") && source.IsProductionHost(host)
}

func (*NotCached) Normalize(e source.Entry) (string, bool) {
	controller, ok := e.StrOK("@context.controller")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%s", LabelNotCached, controller, e.StrOr("@context.method", "None")), true
}

func (*NotCached) BuildReport(e source.Entry) (*report.Report, error) {
	controller, method := e.Str("@context.controller"), e.StrOr("@context.method", "None")
	u := source.URLFromEntry(e)

	r := report.New(
		fmt.Sprintf("Consider caching %s::%s wikia.php API responses", controller, method),
		fmt.Sprintf(notCachedTemplate, controller, method, source.OrNA(u)),
		LabelNotCached,
	)
	r.URL = u
	return r, nil
}
