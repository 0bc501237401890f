package jira

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client is the interface for interacting with Jira.
type Client interface {
	SearchIssues(jql string, maxResults int) ([]IssueDTO, error)
	CreateIssue(fields map[string]any) (*CreatedIssue, error)
	UpdateIssue(key string, fields map[string]any) error
	GetTransitions(key string) ([]Transition, error)
	DoTransition(key, transitionID string) error
	AddComment(key, body string) error
	ProjectComponents(projectKey string) ([]Component, error)
	IssueURL(key string) string
}

// Config holds the authentication and connection settings for Jira.
type Config struct {
	BaseURL string

	// Basic auth when User is set, a Personal Access Token otherwise.
	User  string
	Token string

	// Minimum pause between two non-metadata requests.
	RequestDelay time.Duration
}

// NewClient creates a new Jira client based on the provided configuration.
func NewClient(cfg Config) Client {
	return NewDataCenterClient(cfg)
}

var (
	ErrUnauthorized = errors.New("jira authentication failed")
	ErrRateLimited  = errors.New("jira rate limit exceeded")
	ErrNotFound     = errors.New("jira resource not found")
)

// APIError is a non-2xx Jira response not covered by the sentinel errors.
type APIError struct {
	StatusCode int
	Messages   []string
	Errors     map[string]string
}

func (e *APIError) Error() string {
	details := append([]string(nil), e.Messages...)
	for field, msg := range e.Errors {
		details = append(details, field+": "+msg)
	}
	if len(details) == 0 {
		return fmt.Sprintf("jira API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("jira API returned status %d: %s", e.StatusCode, strings.Join(details, "; "))
}
