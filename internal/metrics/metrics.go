package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

// Stat describes the outcome of one source query.
type Stat struct {
	Source  string
	Query   string
	Entries int
	Reports int
}

// Sink receives per-source statistics. Implementations must not block the
// pipeline on failures.
type Sink interface {
	Record(s Stat)
}

type nopSink struct{}

func (nopSink) Record(Stat) {}

// Nop discards all statistics.
var Nop Sink = nopSink{}

// pushTimeout bounds one push so a hung gateway cannot stall a run.
const pushTimeout = 10 * time.Second

// PushSink pushes statistics to a Prometheus Pushgateway.
type PushSink struct {
	url    string
	job    string
	client *http.Client
}

// NewPushSink returns a sink pushing to the gateway at url. An empty url yields Nop.
func NewPushSink(url string) Sink {
	if url == "" {
		return Nop
	}
	return &PushSink{url: url, job: "jira_reporter", client: &http.Client{Timeout: pushTimeout}}
}

// Record pushes the entries/reports gauges grouped by source and query.
// Errors are logged and dropped.
func (p *PushSink) Record(s Stat) {
	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jira_reporter_entries",
		Help: "Log entries left after filtering in the last run.",
	})
	reports := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jira_reporter_reports",
		Help: "Reports that cleared the threshold in the last run.",
	})
	entries.Set(float64(s.Entries))
	reports.Set(float64(s.Reports))

	err := push.New(p.url, p.job).
		Client(p.client).
		Collector(entries).
		Collector(reports).
		Grouping("type", s.Source).
		Grouping("query", queryLabel(s.Query)).
		Push()
	if err != nil {
		log.Warn().Err(err).Str("source", s.Source).Msg("Failed to push source statistics")
	}
}

// Pushgateway grouping labels cannot be empty.
func queryLabel(q string) string {
	if q == "" {
		return "none"
	}
	return q
}
