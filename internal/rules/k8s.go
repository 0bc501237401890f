package rules

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

const backoffLimitEvent = "Job has reached the specified backoff limit"

const k8sDashboardURL = "https://dashboard.sjc.k8s.wikia.net:30080/#!/search?namespace=prod&q="

// "sla-report-comdev-1542331800" runs of the same job differ by a timestamp suffix
var jobRunSuffixRe = regexp.MustCompile(`-\d+`)

// K8sBackoff reports Kubernetes jobs that failed more times than their backoff limit allows.
type K8sBackoff struct{ kibana }

func NewK8sBackoff(d Deps) *K8sBackoff {
	return &K8sBackoff{newKibana(d, "logstash-k8s-event-logger", 0)}
}

func (*K8sBackoff) Name() string { return LabelK8sBackoffLimit }

func (r *K8sBackoff) Fetch(string) ([]source.Entry, error) {
	return r.search(fmt.Sprintf(`eventMessage: "%s" AND  kubernetes.namespace_name: "prod"`, backoffLimitEvent))
}

func (*K8sBackoff) Keep(e source.Entry) bool {
	return e.Has("involvedObject.name")
}

func jobName(e source.Entry) string {
	return jobRunSuffixRe.ReplaceAllString(e.Str("involvedObject.name"), "")
}

func (*K8sBackoff) Normalize(e source.Entry) (string, bool) {
	if !e.Has("involvedObject.name") {
		return "", false
	}
	event := strings.ToLower(strings.ReplaceAll(backoffLimitEvent, " ", "-"))
	return fmt.Sprintf("k8s-%s-%s", event, jobName(e)), true
}

func (*K8sBackoff) BuildReport(e source.Entry) (*report.Report, error) {
	name := jobName(e)
	desc := fmt.Sprintf("%q has been reported for %s:\n\nh3. Details\n\n{code:json}\n%s\n{code}\n\n*Kubernetes dashboard link*: %s",
		backoffLimitEvent, name, e.JSON(""), k8sDashboardURL+url.PathEscape(name))

	return report.New(fmt.Sprintf("Job %s has reached the specified backoff limit", name), desc, LabelK8sBackoffLimit, LabelK8s), nil
}
