package jira

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const searchFields = "summary,labels,status,resolution,resolutiondate,created,updated"

type dcClient struct {
	cfg         Config
	httpClient  *http.Client
	lastRequest time.Time
}

func NewDataCenterClient(cfg Config) Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestDelay < 0 {
		cfg.RequestDelay = 0
	}
	return &dcClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

func (c *dcClient) throttle(isMetadata bool) {
	// Metadata requests (components, transitions) are allowed to "burst"
	// sequentially, only searches and writes are paced.
	if isMetadata {
		c.lastRequest = time.Now()
		return
	}

	elapsed := time.Since(c.lastRequest)
	if elapsed < c.cfg.RequestDelay {
		wait := c.cfg.RequestDelay - elapsed
		log.Debug().Dur("wait", wait).Msg("Throttling Jira request")
		time.Sleep(wait)
	}
	c.lastRequest = time.Now()
}

func (c *dcClient) authenticateRequest(req *http.Request) {
	if c.cfg.User != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Token)
		return
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.Token))
	}
}

// do sends one API request. A nil payload sends no body, a nil out discards the response.
func (c *dcClient) do(method, path string, params url.Values, payload, out any, isMetadata bool) error {
	c.throttle(isMetadata)

	target := c.cfg.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode Jira request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authenticateRequest(req)

	log.Debug().Str("method", method).Str("url", target).Msg("Jira request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode Jira response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (%d): please check your credentials", ErrUnauthorized, resp.StatusCode)
	case http.StatusTooManyRequests:
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			return fmt.Errorf("%w (429): retry after %s seconds", ErrRateLimited, retryAfter)
		}
		return fmt.Errorf("%w (429)", ErrRateLimited)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Request.URL.Path)
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Messages = er.ErrorMessages
		apiErr.Errors = er.Errors
	}
	return apiErr
}

func (c *dcClient) SearchIssues(jql string, maxResults int) ([]IssueDTO, error) {
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("fields", searchFields)

	log.Debug().Str("jql", jql).Msg("Jira search details")

	var result SearchResponse
	if err := c.do(http.MethodGet, "/rest/api/2/search", params, nil, &result, false); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return result.Issues, nil
}

func (c *dcClient) CreateIssue(fields map[string]any) (*CreatedIssue, error) {
	var created CreatedIssue
	if err := c.do(http.MethodPost, "/rest/api/2/issue", nil, map[string]any{"fields": fields}, &created, false); err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	return &created, nil
}

func (c *dcClient) UpdateIssue(key string, fields map[string]any) error {
	path := "/rest/api/2/issue/" + url.PathEscape(key)
	if err := c.do(http.MethodPut, path, nil, map[string]any{"fields": fields}, nil, false); err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	return nil
}

func (c *dcClient) GetTransitions(key string) ([]Transition, error) {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/transitions"
	var result transitionsResponse
	if err := c.do(http.MethodGet, path, nil, nil, &result, true); err != nil {
		return nil, fmt.Errorf("failed to list %s transitions: %w", key, err)
	}
	return result.Transitions, nil
}

func (c *dcClient) DoTransition(key, transitionID string) error {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/transitions"
	payload := map[string]any{"transition": map[string]string{"id": transitionID}}
	if err := c.do(http.MethodPost, path, nil, payload, nil, false); err != nil {
		return fmt.Errorf("failed to transition %s: %w", key, err)
	}
	return nil
}

func (c *dcClient) AddComment(key, body string) error {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/comment"
	if err := c.do(http.MethodPost, path, nil, map[string]string{"body": body}, nil, false); err != nil {
		return fmt.Errorf("failed to comment on %s: %w", key, err)
	}
	return nil
}

func (c *dcClient) ProjectComponents(projectKey string) ([]Component, error) {
	path := "/rest/api/2/project/" + url.PathEscape(projectKey) + "/components"
	var components []Component
	if err := c.do(http.MethodGet, path, nil, nil, &components, true); err != nil {
		return nil, fmt.Errorf("failed to list %s components: %w", projectKey, err)
	}
	return components, nil
}

func (c *dcClient) IssueURL(key string) string {
	return c.cfg.BaseURL + "/browse/" + key
}
