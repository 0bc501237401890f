// Package rules holds the extraction rules: one per log family, each telling
// the aggregation engine how to fetch, filter, fingerprint and render entries.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"jira-reporter/internal/anemometer"
	"jira-reporter/internal/logstore"
	"jira-reporter/internal/source"
)

// Labels attached to reports; the classifier routes some of them to fixed projects.
const (
	LabelPHPErrors       = "PHPErrors"
	LabelPHPExceptions   = "PHPExceptions"
	LabelPHPTypeError    = "PHPTypeError"
	LabelPHPAssertion    = "PHPAssertion"
	LabelPHPTriggered    = "PHPTriggered"
	LabelPHPTimeout      = "php-timeout"
	LabelCSRF            = "CSRFDetector"
	LabelDBQueryErrors   = "DBQueryErrors"
	LabelDBQueryNoLimit  = "DBQueryNoLimit"
	LabelMySQLKiller     = "mysql-killer"
	LabelPTKill          = "pt-kill"
	LabelBackend         = "BackendErrors"
	LabelNotCached       = "APIResponsesNotCached"
	LabelChat            = "ChatServerErrors"
	LabelMercury         = "MercuryErrors"
	LabelPandora         = "PandoraErrors"
	LabelPhalanx         = "Phalanx"
	LabelHelios          = "Helios"
	LabelCelery          = "CeleryWorkersError"
	LabelIndexDigest     = "index-digest"
	LabelUCP             = "unified-platform"
	LabelK8s             = "k8s"
	LabelK8sBackoffLimit = "k8s-backoff-limit"
	LabelAnemometer      = "Anemometer"
)

// defaultLimit caps the entries fetched by rules that do not set their own.
const defaultLimit = 100000

var errNoStore = errors.New("no log store configured")

// Digest provides the slow query digest.
type Digest interface {
	Queries(p anemometer.Params) ([]map[string]any, error)
}

// Deps are the collaborators shared by all rules.
type Deps struct {
	Store  logstore.Searcher
	Period time.Duration
	// KibanaURL enables "Still valid?" links when set.
	KibanaURL string

	Anemometer    Digest
	AnemometerURL string

	// Owners maps a source directory to its product owner.
	Owners map[string]string
}

// kibana implements fetching for rules backed by an Elasticsearch index family.
type kibana struct {
	deps  Deps
	index string
	limit int
}

func newKibana(d Deps, index string, limit int) kibana {
	if index == "" {
		index = source.DefaultIndexPrefix
	}
	if limit == 0 {
		limit = defaultLimit
	}
	return kibana{deps: d, index: index, limit: limit}
}

func (k kibana) search(query string) ([]source.Entry, error) {
	return k.fetch(logstore.Query{QueryString: query})
}

func (k kibana) match(field, value string) ([]source.Entry, error) {
	return k.fetch(logstore.Query{Match: map[string]string{field: value}})
}

func (k kibana) fetch(q logstore.Query) ([]source.Entry, error) {
	if k.deps.Store == nil {
		return nil, errNoStore
	}
	q.Index = k.index
	q.Period = k.deps.Period
	q.Limit = k.limit

	rows, err := k.deps.Store.Search(q)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", k.index, err)
	}
	entries := make([]source.Entry, len(rows))
	for i, r := range rows {
		entries[i] = source.Entry(r)
	}
	return entries, nil
}

// link returns a Kibana discover URL for the rule's index, or "" when Kibana is not configured.
func (k kibana) link(query string, columns ...string) string {
	if k.deps.KibanaURL == "" {
		return ""
	}
	return source.KibanaURL(k.deps.KibanaURL, k.index, query, columns)
}

type replacement struct {
	re   *regexp.Regexp
	with string
}

func replace(pattern, with string) replacement {
	return replacement{re: regexp.MustCompile(pattern), with: with}
}

func rewrite(s string, rs []replacement) string {
	for _, r := range rs {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

var (
	urlRe         = regexp.MustCompile(`https?://[^\s]+`)
	stackTraceRe  = regexp.MustCompile(`\s?Stack trace:(.*)\{main\}\s?`)
	undefIndexRe  = regexp.MustCompile(`Undefined index: [^\s]+ in`)
	undefOffsetRe = regexp.MustCompile(`Undefined offset: \d+ in`)
)

// phpDescription renders the body shared by MediaWiki log reports.
func phpDescription(fullMessage string, e source.Entry) string {
	return strings.TrimSpace(fmt.Sprintf(`%s

*URL*: %s
*Env*: %s

{code}
@source_host = %s

@context = %s

@fields = %s
{code}`,
		fullMessage,
		source.OrNA(source.URLFromEntry(e)),
		source.EnvFromEntry(e),
		e.StrOr("@source_host", "n/a"),
		e.JSON("@context"),
		e.JSON("@fields"),
	))
}

// traceOf returns the exception's trace frames without the throwing file.
func traceOf(e source.Entry) source.Entry {
	trace, ok := e.Lookup("@exception.trace")
	if !ok {
		return nil
	}
	return source.Entry{"trace": trace}
}

func className(e source.Entry) string {
	return e.StrOr("@exception.class", "None")
}
