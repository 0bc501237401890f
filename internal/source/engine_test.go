package source

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"testing"

	"jira-reporter/internal/metrics"
	"jira-reporter/internal/report"
)

// fakeRule fingerprints "msg" with versioned paths collapsed and keeps
// production hosts only.
type fakeRule struct {
	entries  []Entry
	fetchErr error
	panicOn  string
}

var versionRe = regexp.MustCompile(`/app/v\d+`)

func (f *fakeRule) Name() string { return "Fake" }

func (f *fakeRule) Fetch(string) ([]Entry, error) { return f.entries, f.fetchErr }

func (f *fakeRule) Keep(e Entry) bool { return IsProductionHost(e.Str("host")) }

func (f *fakeRule) Normalize(e Entry) (string, bool) {
	msg, ok := e.StrOK("msg")
	if !ok {
		return "", false
	}
	return versionRe.ReplaceAllString(msg, "/app"), true
}

func (f *fakeRule) BuildReport(e Entry) (*report.Report, error) {
	msg := e.Str("msg")
	if f.panicOn != "" && strings.Contains(msg, f.panicOn) {
		panic("boom")
	}
	if strings.Contains(msg, "broken") {
		return nil, errors.New("cannot render")
	}
	return report.New(msg, "url: "+OrNA(e.Str("url")), "Fake"), nil
}

type completeRule struct{ fakeRule }

func (c *completeRule) Complete(e Entry) bool { return e.Has("url") }

type linkedRule struct{ fakeRule }

func (l *linkedRule) Link(Entry) string { return "https://kibana/x" }

type recordingSink struct{ stats []metrics.Stat }

func (r *recordingSink) Record(s metrics.Stat) { r.stats = append(r.stats, s) }

func entries(n int, msg, host string) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{"msg": msg, "host": host}
	}
	return out
}

func TestSource_Query_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		threshold int
		want      int
	}{
		{"below threshold", 4, 5, 0},
		{"at threshold", 5, 5, 1},
		{"above threshold", 6, 5, 1},
		{"zero threshold", 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &fakeRule{entries: entries(tt.count, "Fatal error X", "ap-s1")}
			reports := New(rule, nil).Query("", tt.threshold)
			if len(reports) != tt.want {
				t.Fatalf("got %d reports, want %d", len(reports), tt.want)
			}
			if tt.want == 1 && reports[0].Counter != tt.count {
				t.Errorf("Counter = %d, want %d", reports[0].Counter, tt.count)
			}
		})
	}
}

func TestSource_Query_GroupsReleasePaths(t *testing.T) {
	rule := &fakeRule{entries: []Entry{
		{"msg": "Fatal error X in /app/v1/src/Foo.php on line 10", "host": "ap-s1"},
		{"msg": "Fatal error X in /app/v2/src/Foo.php on line 10", "host": "ap-s2"},
	}}

	reports := New(rule, nil).Query("", 2)
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}

	wantID := report.Hash(report.Fold("Fatal error X in /app/src/Foo.php on line 10"))
	if reports[0].UniqueID != wantID {
		t.Errorf("UniqueID = %q, want %q", reports[0].UniqueID, wantID)
	}
}

func TestSource_Query_FoldsCaseAndSpaces(t *testing.T) {
	rule := &fakeRule{entries: []Entry{
		{"msg": "Foo Bar", "host": "ap-s1"},
		{"msg": "foobar", "host": "ap-s1"},
		{"msg": "FOO  BAR", "host": "ap-s1"},
	}}

	reports := New(rule, nil).Query("", 3)
	if len(reports) != 1 || reports[0].Counter != 3 {
		t.Fatalf("got %v, want one report with three occurrences", reports)
	}
	// the first-seen entry is the representative
	if reports[0].Summary != "Foo Bar" {
		t.Errorf("Summary = %q, want %q", reports[0].Summary, "Foo Bar")
	}
}

func TestSource_Query_FiltersAndSkips(t *testing.T) {
	rule := &fakeRule{entries: []Entry{
		{"msg": "foo", "host": "dev-foo"},
		{"msg": "foo", "host": "ap-s10"},
		{"host": "ap-s10"}, // cannot be normalized
		{"msg": "bad \xff utf", "host": "ap-s10"},
	}}

	sink := &recordingSink{}
	reports := New(rule, sink).Query("q", 1)
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if len(sink.stats) != 1 {
		t.Fatalf("got %d stats, want 1", len(sink.stats))
	}
	want := metrics.Stat{Source: "Fake", Query: "q", Entries: 3, Reports: 1}
	if sink.stats[0] != want {
		t.Errorf("stat = %+v, want %+v", sink.stats[0], want)
	}
}

func TestSource_Query_FetchError(t *testing.T) {
	sink := &recordingSink{}
	rule := &fakeRule{fetchErr: errors.New("es down")}
	if reports := New(rule, sink).Query("", 0); reports != nil {
		t.Errorf("got %v, want nil", reports)
	}
	if len(sink.stats) != 0 {
		t.Error("stats recorded for a failed fetch")
	}
}

func TestSource_Query_RenderFailuresSkipBucket(t *testing.T) {
	rule := &fakeRule{
		panicOn: "explode",
		entries: []Entry{
			{"msg": "broken one", "host": "ap-s1"},
			{"msg": "explode now", "host": "ap-s1"},
			{"msg": "fine", "host": "ap-s1"},
		},
	}

	reports := New(rule, nil).Query("", 1)
	if len(reports) != 1 || reports[0].Summary != "fine" {
		t.Fatalf("got %v, want the single renderable report", reports)
	}
}

func TestSource_Query_PrefersCompleteRepresentative(t *testing.T) {
	rule := &completeRule{fakeRule{entries: []Entry{
		{"msg": "foo", "host": "ap-s1"},
		{"msg": "foo", "host": "ap-s1", "url": "http://foo/bar"},
		{"msg": "foo", "host": "ap-s1", "url": "http://foo/baz"},
	}}}

	reports := New(rule, nil).Query("", 1)
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if reports[0].Description != "url: http://foo/bar" {
		t.Errorf("Description = %q, want the first complete entry", reports[0].Description)
	}
}

func TestSource_Query_AppendsLink(t *testing.T) {
	rule := &linkedRule{fakeRule{entries: entries(1, "foo", "ap-s1")}}

	reports := New(rule, nil).Query("", 1)
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if !strings.HasSuffix(reports[0].Description, "Check [Kibana|https://kibana/x] for the latest occurrences.") {
		t.Errorf("Description = %q", reports[0].Description)
	}
}

func TestSource_Query_DistinctFingerprints(t *testing.T) {
	rule := &fakeRule{entries: append(entries(3, "foo", "ap-s1"), entries(2, "bar", "ap-s1")...)}

	reports := New(rule, nil).Query("", 1)
	var got []string
	for _, r := range reports {
		got = append(got, r.Summary)
	}
	sort.Strings(got)
	if strings.Join(got, ",") != "bar,foo" {
		t.Errorf("summaries = %v, want [bar foo]", got)
	}
}
