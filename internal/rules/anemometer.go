package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"jira-reporter/internal/anemometer"
	"jira-reporter/internal/report"
	"jira-reporter/internal/source"
)

// Slow query thresholds.
const (
	slowQueryTimeSum    = 300 // seconds per period
	slowQueryTimeMedian = 0.5 // seconds
)

const slowQueryTemplate = `*The following query does not perform too well and can be optimized. [View this query details in Anemometer|%s].*

{noformat}%s{noformat}

*Median query time*: %s sec
*Median rows examined*: %s
*Rows sent average*: %d
*DB server*: %s
*Database*: %s

h5. Example query

{code}
%s
{code}

h5. Raw stats

{code}
%s
{code}`

// Anemometer reports slow queries from the Anemometer digest.
type Anemometer struct {
	deps Deps
}

func NewAnemometer(d Deps) *Anemometer {
	return &Anemometer{deps: d}
}

func (*Anemometer) Name() string { return LabelAnemometer }

// Fetch ignores the query; the digest is already ordered by total query time.
func (r *Anemometer) Fetch(string) ([]source.Entry, error) {
	if r.deps.Anemometer == nil {
		return nil, errors.New("no Anemometer client configured")
	}
	rows, err := r.deps.Anemometer.Queries(anemometer.Params{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch the slow query digest: %w", err)
	}
	entries := make([]source.Entry, len(rows))
	for i, row := range rows {
		entries[i] = source.Entry(row)
	}
	return entries, nil
}

// Keep skips backups and DPL queries, and those below the thresholds.
func (*Anemometer) Keep(e source.Entry) bool {
	if !e.Has("checksum") || e.Str("Fingerprint") == "mysqldump" {
		return false
	}
	if strings.Contains(e.Str("snippet"), "DPLMain:dynamicPageList") {
		return false
	}
	sum, _ := e.Float("Query_time_sum")
	median, _ := e.Float("Query_time_median")
	return sum > slowQueryTimeSum || median > slowQueryTimeMedian
}

func (*Anemometer) Normalize(e source.Entry) (string, bool) {
	return e.StrOK("checksum")
}

// QueryURL links to the Anemometer page of a query.
func (r *Anemometer) QueryURL(checksum string) string {
	base := r.deps.AnemometerURL
	if base == "" {
		base = anemometer.DefaultURL
	}
	return fmt.Sprintf("%s/index.php?action=show_query&datasource=localhost&checksum=%s", strings.TrimRight(base, "/"), checksum)
}

func (r *Anemometer) BuildReport(e source.Entry) (*report.Report, error) {
	stats := make(map[string]any)
	for k, v := range e {
		if strings.Contains(k, "_avg") || strings.Contains(k, "_sum") || strings.Contains(k, "_median") {
			stats[k] = v
		}
	}
	statsJSON, err := json.MarshalIndent(stats, "", " ")
	if err != nil {
		return nil, err
	}

	median, _ := e.Float("Query_time_median")
	examined, _ := e.Float("Rows_examined_median")
	rows, _ := e.Int("rows_sent_avg")
	u := r.QueryURL(e.Str("checksum"))

	desc := fmt.Sprintf(slowQueryTemplate,
		u, e.Str("Fingerprint"),
		formatFloat(median), formatFloat(examined), rows,
		e.StrOr("hostname_max", "n/a"), e.StrOr("db_max", "n/a"),
		e.StrOr("sample", e.StrOr("dimension.sample", "n/a")),
		statsJSON,
	)

	rep := report.New(fmt.Sprintf("[Anemometer] %s can be optimized", e.Str("snippet")), desc,
		LabelAnemometer, "database", "performance")
	rep.URL = u
	return rep, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
