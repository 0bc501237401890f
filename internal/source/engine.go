package source

import (
	"fmt"
	"unicode/utf8"

	"jira-reporter/internal/metrics"
	"jira-reporter/internal/report"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Rule extracts recurring issues from one family of log entries.
type Rule interface {
	// Name identifies the rule in logs and statistics.
	Name() string
	// Fetch queries the backing store for raw entries.
	Fetch(query string) ([]Entry, error)
	// Keep discards entries lacking required context or coming from outside production.
	Keep(e Entry) bool
	// Normalize returns the fingerprint of an entry, or false when it cannot be summarized.
	Normalize(e Entry) (string, bool)
	// BuildReport renders the representative entry of a bucket.
	BuildReport(e Entry) (*report.Report, error)
}

// Completer is implemented by rules that prefer a bucket representative
// carrying optional fields (e.g. the request URL).
type Completer interface {
	Complete(e Entry) bool
}

// Linker is implemented by rules that can point at the matching log entries.
type Linker interface {
	Link(e Entry) string
}

type bucket struct {
	count int
	entry Entry
}

// Source runs a Rule through the query -> filter -> group -> threshold -> report pipeline.
type Source struct {
	rule    Rule
	metrics metrics.Sink
	logger  zerolog.Logger
}

// New wraps a rule with the aggregation pipeline.
func New(rule Rule, sink metrics.Sink) *Source {
	if sink == nil {
		sink = metrics.Nop
	}
	return &Source{
		rule:    rule,
		metrics: sink,
		logger:  log.With().Str("source", rule.Name()).Logger(),
	}
}

// Name returns the wrapped rule's name.
func (s *Source) Name() string {
	return s.rule.Name()
}

// Query fetches entries and returns one report per fingerprint seen at least
// threshold times. It never fails: a broken fetch yields no reports. Report
// order is unspecified.
func (s *Source) Query(query string, threshold int) []*report.Report {
	s.logger.Info().Str("query", query).Int("threshold", threshold).Msg("Querying source")

	// 1. Fetch
	raw, err := s.rule.Fetch(query)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("Failed to fetch entries")
		return nil
	}

	// 2. Filter
	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if s.rule.Keep(e) {
			entries = append(entries, e)
		} else {
			s.logger.Debug().Msg("Entry filtered out")
		}
	}
	s.logger.Info().Int("fetched", len(raw)).Int("kept", len(entries)).Msg("Filtered entries")

	// 3. Group
	buckets := s.group(entries)

	// 4. Threshold and report
	reports := s.reports(buckets, threshold)

	s.logger.Info().Int("reports", len(reports)).Int("threshold", threshold).Msg("Returning reports")
	for _, r := range reports {
		s.logger.Info().Int("count", r.Counter).Msgf("> %s", r.Title())
	}

	// 5. Statistics side-channel
	s.metrics.Record(metrics.Stat{
		Source:  s.rule.Name(),
		Query:   query,
		Entries: len(entries),
		Reports: len(reports),
	})

	return reports
}

func (s *Source) group(entries []Entry) map[string]*bucket {
	completer, _ := s.rule.(Completer)
	buckets := make(map[string]*bucket)

	for _, e := range entries {
		fp, ok := s.normalize(e)
		if !ok {
			continue
		}

		key := report.Fold(fp)
		b, exists := buckets[key]
		if !exists {
			b = &bucket{entry: e}
			buckets[key] = b
		} else if completer != nil && !completer.Complete(b.entry) && completer.Complete(e) {
			b.entry = e
		}
		b.count++
	}
	return buckets
}

// normalize shields the pipeline from decode problems in entry text.
func (s *Source) normalize(e Entry) (fp string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Entry parsing error")
			fp, ok = "", false
		}
	}()

	fp, ok = s.rule.Normalize(e)
	if !ok {
		s.logger.Debug().Msg("Entry not normalized")
		return "", false
	}
	if !utf8.ValidString(fp) {
		s.logger.Error().Str("fingerprint", fp).Msg("Entry parsing error: invalid UTF-8")
		return "", false
	}
	return fp, true
}

func (s *Source) reports(buckets map[string]*bucket, threshold int) []*report.Report {
	var reports []*report.Report

	for key, b := range buckets {
		if b.count < threshold {
			s.logger.Info().Int("count", b.count).Str("key", key).Msg("Skipped")
			continue
		}

		r, err := s.build(b.entry)
		if err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("Failed to build report")
			continue
		}

		r.UniqueID = report.Hash(key)
		r.Counter = b.count
		reports = append(reports, r)
	}
	return reports
}

func (s *Source) build(e Entry) (r *report.Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("report rendering panicked: %v", p)
		}
	}()

	r, err = s.rule.BuildReport(e)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("rule %s returned no report", s.rule.Name())
	}

	if linker, ok := s.rule.(Linker); ok {
		if link := linker.Link(e); link != "" {
			r.AppendDescription(fmt.Sprintf("\n\n*Still valid?* Check [Kibana|%s] for the latest occurrences.", link))
		}
	}
	return r, nil
}
