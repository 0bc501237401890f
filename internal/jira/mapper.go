package jira

import (
	"strings"
	"time"
)

// ProjectKey returns the project part of an issue key ("MAIN-123" gives "MAIN").
func ProjectKey(issueKey string) string {
	for i := 0; i < len(issueKey); i++ {
		if issueKey[i] == '-' {
			return issueKey[:i]
		}
	}
	return ""
}

// IsResolved reports whether the issue carries a resolution.
func (i IssueDTO) IsResolved() bool {
	return i.Fields.Resolution.Name != "" || i.Fields.Status.StatusCategory.Key == "done"
}

// ResolvedAt returns when the issue was resolved. Issues in a done status
// without a resolution date fall back to their last update.
func (i IssueDTO) ResolvedAt() (time.Time, bool) {
	if i.Fields.ResolutionDate != "" {
		if t, err := ParseTime(i.Fields.ResolutionDate); err == nil {
			return t, true
		}
	}
	if i.IsResolved() && i.Fields.Updated != "" {
		if t, err := ParseTime(i.Fields.Updated); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// HasResolution reports whether the issue resolution is one of names, ignoring case.
func (i IssueDTO) HasResolution(names []string) bool {
	resolution := i.Fields.Resolution.Name
	if resolution == "" {
		return false
	}
	for _, n := range names {
		if strings.EqualFold(n, resolution) {
			return true
		}
	}
	return false
}

// FindTransition returns the transition with the given name or target status, ignoring case.
func FindTransition(transitions []Transition, name string) (Transition, bool) {
	for _, t := range transitions {
		if strings.EqualFold(t.Name, name) || strings.EqualFold(t.To.Name, name) {
			return t, true
		}
	}
	return Transition{}, false
}
