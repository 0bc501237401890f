package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"
)

// maxWindow is the largest page Elasticsearch returns without scrolling.
const maxWindow = 10000

const (
	scrollTTL     = time.Minute
	scrollTTLText = "1m"
)

// ErrUnavailable is returned when the log store cannot be reached or answers with a server error.
var ErrUnavailable = errors.New("log store unavailable")

// Query describes one time-bounded search.
type Query struct {
	// Index is the index family ("logstash-other"). Daily indices are derived
	// from it unless it already ends with a wildcard.
	Index string
	// QueryString uses the Lucene query_string syntax.
	QueryString string
	// Match holds exact field matches, ANDed together. Used instead of
	// QueryString when set.
	Match map[string]string
	// Period is the lookback window ending now.
	Period time.Duration
	// Limit caps the number of returned entries.
	Limit int
}

// Searcher runs queries against a log store.
type Searcher interface {
	Search(q Query) ([]map[string]any, error)
}

// Config holds the Elasticsearch connection settings.
type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// Client searches Elasticsearch through the official client.
type Client struct {
	es      *elasticsearch.Client
	timeout time.Duration
	now     func() time.Time
}

// NewClient creates an Elasticsearch client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	esCfg := elasticsearch.Config{
		Username:   cfg.User,
		Password:   cfg.Password,
		MaxRetries: 2,
	}
	if cfg.URL != "" {
		esCfg.Addresses = []string{strings.TrimRight(cfg.URL, "/")}
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &Client{es: es, timeout: cfg.Timeout, now: time.Now}, nil
}

type hit struct {
	Source map[string]any `json:"_source"`
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

// Search returns the _source of every entry matching q within its period,
// newest first. Limits above the result window are served through the scroll API.
func (c *Client) Search(q Query) ([]map[string]any, error) {
	if q.Limit <= 0 {
		q.Limit = maxWindow
	}
	to := c.now().UTC()
	from := to.Add(-q.Period)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	index := Indices(q.Index, from, to)
	body, err := encode(queryBody(q, from, to))
	if err != nil {
		return nil, err
	}

	scroll := q.Limit > maxWindow
	opts := []func(*esapi.SearchRequest){
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(strings.Split(index, ",")...),
		c.es.Search.WithBody(body),
		c.es.Search.WithIgnoreUnavailable(true),
	}
	if scroll {
		opts = append(opts, c.es.Search.WithScroll(scrollTTL))
	}

	log.Debug().Str("index", index).Str("query", q.QueryString).Int("limit", q.Limit).Msg("Querying log store")

	var resp searchResponse
	res, err := c.es.Search(opts...)
	if err := read(res, err, &resp); err != nil {
		return nil, err
	}

	rows := appendSources(nil, resp.Hits.Hits, q.Limit)
	if !scroll {
		return rows, nil
	}

	scrollID := resp.ScrollID
	defer func() { c.clearScroll(scrollID) }()

	for len(rows) < q.Limit && len(resp.Hits.Hits) > 0 && scrollID != "" {
		body, err := encode(map[string]any{"scroll": scrollTTLText, "scroll_id": scrollID})
		if err != nil {
			return nil, err
		}

		resp = searchResponse{}
		res, err := c.es.Scroll(c.es.Scroll.WithContext(ctx), c.es.Scroll.WithBody(body))
		if err := read(res, err, &resp); err != nil {
			return nil, err
		}
		if resp.ScrollID != "" {
			scrollID = resp.ScrollID
		}
		rows = appendSources(rows, resp.Hits.Hits, q.Limit)
		log.Debug().Int("rows", len(rows)).Msg("Scrolled log store results")
	}
	return rows, nil
}

func queryBody(q Query, from, to time.Time) map[string]any {
	var must []any
	if len(q.Match) > 0 {
		for field, value := range q.Match {
			must = append(must, map[string]any{
				"match": map[string]any{field: map[string]any{"query": value, "operator": "and"}},
			})
		}
	} else {
		qs := q.QueryString
		if qs == "" {
			qs = "*"
		}
		must = append(must, map[string]any{
			"query_string": map[string]any{"query": qs, "analyze_wildcard": true},
		})
	}

	return map[string]any{
		"size": min(q.Limit, maxWindow),
		"sort": []any{map[string]any{"@timestamp": map[string]any{"order": "desc"}}},
		"query": map[string]any{
			"bool": map[string]any{
				"must": must,
				"filter": []any{map[string]any{
					"range": map[string]any{"@timestamp": map[string]any{
						"gte": from.Format(time.RFC3339),
						"lte": to.Format(time.RFC3339),
					}},
				}},
			},
		},
	}
}

// clearScroll frees the server-side scroll context. Failures only leak it
// until its TTL runs out.
func (c *Client) clearScroll(id string) {
	if id == "" {
		return
	}
	body, err := encode(map[string]any{"scroll_id": []string{id}})
	if err == nil {
		var res *esapi.Response
		res, err = c.es.ClearScroll(c.es.ClearScroll.WithBody(body))
		err = read(res, err, nil)
	}
	if err != nil {
		log.Warn().Err(err).Str("scrollID", id).Msg("Failed to clear log store scroll")
	}
}

func encode(payload any) (io.Reader, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode log store request: %w", err)
	}
	return bytes.NewReader(buf), nil
}

// read checks the outcome of an API call and decodes its body into out
// (nil skips decoding).
func read(res *esapi.Response, err error, out any) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	}
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("log store returned status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode log store response: %w", err)
	}
	return nil
}

func appendSources(rows []map[string]any, hits []hit, limit int) []map[string]any {
	for _, h := range hits {
		if len(rows) >= limit {
			break
		}
		if h.Source != nil {
			rows = append(rows, h.Source)
		}
	}
	return rows
}

// Indices lists the daily indices ("logstash-other-2024.01.31") covering
// [from, to], comma separated. A prefix ending with "*" is returned unchanged.
func Indices(prefix string, from, to time.Time) string {
	if strings.HasSuffix(prefix, "*") {
		return prefix
	}

	from, to = from.UTC(), to.UTC()
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)

	var names []string
	for !day.After(to) {
		names = append(names, prefix+"-"+day.Format("2006.01.02"))
		day = day.AddDate(0, 0, 1)
	}
	return strings.Join(names, ",")
}
