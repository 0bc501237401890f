package report

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Report is a rendered, ready-to-file description of one recurring issue.
type Report struct {
	Summary     string
	Description string
	Labels      []string

	// UniqueID is the content-addressed identifier derived from the bucket's fingerprint.
	UniqueID string
	// Counter is the number of occurrences seen in the lookback window.
	Counter int

	// Priority is a tracker priority id; empty means "use the configured default".
	Priority string
	// URL is the canonical URL the issue was observed on, if any.
	URL string
}

// New creates a report with the given labels (order preserved, duplicates kept).
func New(summary, description string, labels ...string) *Report {
	r := &Report{
		Summary:     summary,
		Description: description,
	}
	for _, l := range labels {
		r.AddLabel(l)
	}
	return r
}

// Title returns the summary without newline characters.
// Jira rejects summaries that contain them.
func (r *Report) Title() string {
	s := strings.ReplaceAll(r.Summary, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

// AddLabel appends a label. Empty labels are ignored.
func (r *Report) AddLabel(label string) {
	if label == "" {
		return
	}
	r.Labels = append(r.Labels, label)
}

// AppendDescription adds supplementary text (e.g. links) at the end of the description.
func (r *Report) AppendDescription(text string) {
	r.Description = strings.TrimRight(r.Description, "\n") + text
}

// HasLabel reports whether the label is attached.
func (r *Report) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func (r *Report) String() string {
	return fmt.Sprintf("<Report: %s [%s] (%s)>\n%s", r.Title(), strings.Join(r.Labels, "]["), r.UniqueID, r.Description)
}

// Fold lower-cases a fingerprint and removes spaces, so fingerprints that differ
// only in case or spacing share a bucket.
func Fold(fingerprint string) string {
	return strings.ReplaceAll(strings.ToLower(fingerprint), " ", "")
}

// Hash returns the content-addressed identifier of a bucket key.
func Hash(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
