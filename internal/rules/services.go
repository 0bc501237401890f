package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

const serviceTemplate = `h3. %s

*App name*: {{%s}}
*Logger name*: {{%s}}
*Thread name*: {{%s}}

h3. Stacktrace

{code}
%s
{code}`

var pandoraReplacements = []replacement{
	replace(`[a-f0-9-]{4,}`, "HASH"),
	replace(`\d+`, "N"),
	replace(`https?://[^\s]+`, "<URL>"),
	replace(`\{.*\}$`, "{json here}"),
}

// Pandora reports WARN and ERROR entries logged by Pandora (JVM) services.
type Pandora struct{ kibana }

func NewPandora(d Deps) *Pandora {
	return &Pandora{newKibana(d, "logstash-*", 10000)}
}

func (*Pandora) Name() string { return LabelPandora }

func (r *Pandora) Fetch(string) ([]source.Entry, error) {
	return r.search(`kubernetes.labels.type: "pandora" AND rawMessage: * AND -rawLevel:"INFO"`)
}

func (*Pandora) Keep(e source.Entry) bool {
	if !e.Has("rawMessage") || !e.Has("appname") {
		return false
	}
	level := e.Str("rawLevel")
	return level == "WARN" || level == "ERROR"
}

func (*Pandora) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("rawMessage")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Pandora-%s-%s-%s", rewrite(msg, pandoraReplacements), e.StrOr("logger_name", "None"), e.Str("appname")), true
}

func (r *Pandora) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`appname: "%s" AND rawMessage: "%s"`, e.Str("appname"), e.Str("rawMessage")),
		"@timestamp", "rawLevel", "logger_name", "rawMessage", "thread_name")
}

func (*Pandora) BuildReport(e source.Entry) (*report.Report, error) {
	msg, app := e.Str("rawMessage"), e.Str("appname")
	desc := fmt.Sprintf(serviceTemplate,
		e.Str("rawLevel")+": "+msg, app,
		e.StrOr("logger_name", "n/a"), e.StrOr("thread_name", "n/a"), e.StrOr("stack_trace", "n/a"))

	return report.New(fmt.Sprintf("[%s] %s", app, msg), desc, LabelPandora, "service_"+app), nil
}

var phalanxTraceIDRe = regexp.MustCompile(`X-Request-Id: ([a-f0-9-]+)`)

var phalanxReplacements = []replacement{
	replace(`phalanx-\w\d`, "phalanx-*"),
	replace(`\d+ms`, "Nms"),
	replace(`\d+.\d+.\d+.\d+:\d+`, "x.x.x.x:x"),
	{re: phalanxTraceIDRe, with: ""},
}

// Phalanx reports errors of the Phalanx (spam filter) service.
type Phalanx struct{ kibana }

func NewPhalanx(d Deps) *Phalanx {
	return &Phalanx{newKibana(d, "", 10000)}
}

func (*Phalanx) Name() string { return LabelPhalanx }

func (r *Phalanx) Fetch(string) ([]source.Entry, error) {
	return r.search(`appname: "phalanx" AND -lvl: "INFO"`)
}

func (*Phalanx) Keep(e source.Entry) bool {
	return e.Has("@message")
}

func (*Phalanx) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@message")
	if !ok {
		return "", false
	}
	msg = strings.TrimRight(rewrite(msg, phalanxReplacements), " \t\n")
	return fmt.Sprintf("Phalanx-%s-%s", e.StrOr("logger_name", "None"), msg), true
}

func (r *Phalanx) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`appname: "phalanx" AND -lvl: "INFO" AND logger_name: "%s"`, e.Str("logger_name")),
		"@timestamp", "@source_host", "logger_name", "lvl", "@message", "stack_trace")
}

func (*Phalanx) BuildReport(e source.Entry) (*report.Report, error) {
	msg, logger := e.Str("@message"), e.StrOr("logger_name", "n/a")

	desc := fmt.Sprintf("h3. %s\n\n*Logger name*: {{%s}}\n*Thread name*: {{%s}}\n\nh3. Stacktrace\n\n{code}\n%s\n{code}",
		msg, logger, e.StrOr("thread_name", "n/a"), strings.TrimSpace(e.StrOr("stack_trace", "n/a")))
	if m := phalanxTraceIDRe.FindStringSubmatch(msg); m != nil {
		desc += "\n\n*Trace ID*: " + m[1]
	}

	return report.New(fmt.Sprintf("[Phalanx] %s: %s", logger, msg), desc, LabelPhalanx), nil
}

var quotedValueRe = regexp.MustCompile(`'[^']*'`)

// Helios reports errors of the authentication service.
type Helios struct{ kibana }

func NewHelios(d Deps) *Helios {
	return &Helios{newKibana(d, "logstash-helios", 10000)}
}

func (*Helios) Name() string { return LabelHelios }

func (r *Helios) Fetch(string) ([]source.Entry, error) {
	return r.search(`level:"error"`)
}

func (*Helios) Keep(e source.Entry) bool {
	return source.IsFromProductionHost(e)
}

func (*Helios) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@message")
	if !ok {
		return "", false
	}
	return "Helios-" + quotedValueRe.ReplaceAllString(msg, "'X'"), true
}

func (r *Helios) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`@message: "%s"`, e.Str("@message")), "@timestamp", "@message")
}

func (*Helios) BuildReport(e source.Entry) (*report.Report, error) {
	msg := e.Str("@message")
	desc := fmt.Sprintf("h3. %s\n\n{code}\n%s\n{code}", msg, e.JSON(""))
	return report.New("[Helios] "+msg, desc, LabelHelios), nil
}

// Chat reports errors of the chat server.
type Chat struct{ kibana }

func NewChat(d Deps) *Chat {
	return &Chat{newKibana(d, "", 0)}
}

func (*Chat) Name() string { return LabelChat }

func (r *Chat) Fetch(query string) ([]source.Entry, error) {
	return r.search(fmt.Sprintf(`@fields.app_name:chat AND severity:error AND @source_host:chat-s* AND @message:*%s*`, query))
}

func (*Chat) Keep(e source.Entry) bool {
	return e.Has("@message")
}

func (*Chat) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Chat-%s-%s", msg, source.EnvFromEntry(e)), true
}

func (r *Chat) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`@source_host:chat-s* AND "%s"`, e.Str("@message")), "@timestamp", "@message")
}

func (*Chat) BuildReport(e source.Entry) (*report.Report, error) {
	msg := e.Str("@message")
	return report.New(msg, detailsDescription(msg, e), LabelChat), nil
}

func detailsDescription(msg string, e source.Entry) string {
	return fmt.Sprintf("h3. %s\n%s\n\n{code}\n%s\n{code}", msg, e.StrOr("error", "n/a"), e.JSON(""))
}

// Mercury reports errors of the mobile-wiki (Mercury) application.
type Mercury struct{ kibana }

func NewMercury(d Deps) *Mercury {
	return &Mercury{newKibana(d, "", 0)}
}

func (*Mercury) Name() string { return LabelMercury }

func (r *Mercury) Fetch(severity string) ([]source.Entry, error) {
	return r.search(fmt.Sprintf(`@message:* AND severity: "%s" AND @source_host: /[sr].*/`, severity))
}

func (*Mercury) Keep(e source.Entry) bool {
	return e.Has("msg")
}

func (*Mercury) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("msg")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("mobile-wiki-%s-%s-%s", e.StrOr("namespace", "None"), msg, source.EnvFromEntry(e)), true
}

func (r *Mercury) Link(e source.Entry) string {
	return r.link(fmt.Sprintf(`@message:"%s"`, e.Str("msg")), "@timestamp", "namespace", "msg", "error", "severity")
}

func (*Mercury) BuildReport(e source.Entry) (*report.Report, error) {
	msg, ns := e.Str("msg"), e.StrOr("namespace", "main")
	return report.New(fmt.Sprintf("[%s] %s", ns, msg), detailsDescription(msg, e), LabelMercury, "mercury-"+ns), nil
}

const vignetteQuery = `appname: "vignette" AND logger_name: "vignette.util.thumb-verifier" AND level: "ERROR"`

// Vignette reports thumbnails whose size differs from the estimated one.
type Vignette struct{ kibana }

func NewVignette(d Deps) *Vignette {
	return &Vignette{newKibana(d, "", 1000)}
}

func (*Vignette) Name() string { return "Vignette" }

func (r *Vignette) Fetch(string) ([]source.Entry, error) {
	return r.search(vignetteQuery)
}

func (*Vignette) Keep(e source.Entry) bool {
	return e.Has("@message")
}

func (*Vignette) Normalize(e source.Entry) (string, bool) {
	msg, ok := e.StrOK("@message")
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Vignette-%s-%s", e.StrOr("logger_name", "None"), msg), true
}

func (r *Vignette) Link(source.Entry) string {
	return r.link(vignetteQuery, "@timestamp", "@source_host", "@message", "thumb-map", "estimated", "actual")
}

func (*Vignette) BuildReport(e source.Entry) (*report.Report, error) {
	msg, app := e.Str("@message"), e.Str("appname")
	if app == "" {
		return nil, errors.New("appname is missing")
	}
	desc := fmt.Sprintf("h3. %s: %s\n\n*App name*: {{%s}}\n*Source host*: {{%s}}\n*Thumb map*: {{%s}}\n*Estimated*: {{%s}}\n*Actual*: {{%s}}",
		e.Str("level"), msg, app, e.Str("@source_host"), e.Str("thumb-map"), e.Str("estimated"), e.Str("actual"))

	return report.New(fmt.Sprintf("[%s] %s", app, msg), desc, app), nil
}

const celeryDatabaseError = `RemoteExecuteError(u"A database error has occurred.")`

// Celery reports failed Celery worker tasks.
type Celery struct{ kibana }

func NewCelery(d Deps) *Celery {
	return &Celery{newKibana(d, "logstash-celery", 1500)}
}

func (*Celery) Name() string { return LabelCelery }

func (r *Celery) Fetch(string) ([]source.Entry, error) {
	return r.search(`event: "Task failed" AND  kubernetes.namespace_name: "prod"`)
}

func (*Celery) Keep(e source.Entry) bool {
	return e.Has("exception") && e.Has("kubernetes.container_name")
}

func (*Celery) Normalize(e source.Entry) (string, bool) {
	exception, ok := e.StrOK("exception")
	if !ok {
		return "", false
	}
	// database errors carry the whole query
	if strings.Contains(exception, "database error has occurred") {
		exception = celeryDatabaseError
	}
	return fmt.Sprintf("Celery-%s-%s", e.Str("kubernetes.container_name"), exception), true
}

// Link points at MediaWiki logs of the failed task.
func (r *Celery) Link(e source.Entry) string {
	if r.deps.KibanaURL == "" {
		return ""
	}
	return source.KibanaURL(r.deps.KibanaURL, "logstash-mediawiki",
		fmt.Sprintf(`@context.task_id: "%s"`, e.Str("task_id")), []string{"@timestamp", "@message"})
}

func (*Celery) BuildReport(e source.Entry) (*report.Report, error) {
	queue, exception := e.Str("kubernetes.container_name"), e.Str("exception")
	flower := fmt.Sprintf("http://celery-flower.%s.k8s.wikia.net/task/%s", strings.ToLower(e.Str("datacenter")), e.Str("task_id"))

	desc := fmt.Sprintf("Celery worker has reported the following error when processing *%s* queue:\n\n"+
		"{code}\n%s\n{code}\n\nh3. Details\n\n{code}\n%s\n{code}\n\n*Flower link*: %s",
		queue, exception, e.JSON(""), flower)

	return report.New(fmt.Sprintf("Celery worker %s reported: %s", queue, exception), desc, LabelCelery, queue), nil
}
