package jira

import "time"

// SearchResponse is the top-level container for Jira search results.
type SearchResponse struct {
	Total  int        `json:"total"`
	Issues []IssueDTO `json:"issues"`
}

// IssueDTO represents a single issue in the Jira search response.
type IssueDTO struct {
	ID     string    `json:"id"`
	Key    string    `json:"key"`
	Fields FieldsDTO `json:"fields"`
}

// FieldsDTO contains the specific fields we care about.
type FieldsDTO struct {
	Summary string   `json:"summary"`
	Labels  []string `json:"labels,omitempty"`
	Status  struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		StatusCategory struct {
			Key string `json:"key"`
		} `json:"statusCategory"`
	} `json:"status"`
	Resolution     ResolutionDTO `json:"resolution"`
	ResolutionDate string        `json:"resolutiondate"`
	Created        string        `json:"created"`
	Updated        string        `json:"updated"`
}

// ResolutionDTO represents a resolution metadata object.
type ResolutionDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreatedIssue is returned by the create issue API.
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// Transition is a workflow step available on an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name string `json:"name"`
	} `json:"to"`
}

type transitionsResponse struct {
	Transitions []Transition `json:"transitions"`
}

// Component is a project component.
type Component struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type errorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

// ParseTime is a helper for the strict Jira time format.
func ParseTime(s string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.000-0700", s)
}

// FormatDate renders a day the way Jira date fields expect it.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
