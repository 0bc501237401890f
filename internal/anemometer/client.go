package anemometer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"
)

// DefaultURL is the Anemometer instance used when none is configured.
const DefaultURL = "http://opstools-s1/anemometer"

// DefaultFields are the digest columns requested when Params.Fields is empty.
var DefaultFields = []string{
	"checksum",
	"snippet",
	"index_ratio",
	"query_time_avg",
	"rows_sent_avg",
	"ts_cnt",
	"Query_time_sum",
	"Lock_time_sum",
	"Rows_sent_sum",
	"Rows_examined_sum",
	"Rows_examined_median",
	"Query_time_median",
	"dimension.sample",
	"hostname_max",
	"db_max",
	"Fingerprint",
}

// Params selects and orders the slow query digest rows.
type Params struct {
	Action     string   `url:"action"`
	Output     string   `url:"output"`
	Datasource string   `url:"datasource"`
	Group      string   `url:"fact-group"`
	Order      string   `url:"fact-order"`
	Limit      int      `url:"fact-limit"`
	Fields     []string `url:"table_fields[]"`
}

func (p Params) withDefaults() Params {
	if p.Action == "" {
		p.Action = "api"
	}
	if p.Output == "" {
		p.Output = "json"
	}
	if p.Datasource == "" {
		p.Datasource = "localhost"
	}
	if p.Group == "" {
		p.Group = "checksum"
	}
	if p.Order == "" {
		p.Order = "Query_time_sum DESC"
	}
	if p.Limit == 0 {
		p.Limit = 50
	}
	if len(p.Fields) == 0 {
		p.Fields = DefaultFields
	}
	return p
}

// Client fetches the slow query digest from an Anemometer instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an Anemometer client rooted at baseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// URL returns the API address for the given parameters.
func (c *Client) URL(p Params) (string, error) {
	v, err := query.Values(p.withDefaults())
	if err != nil {
		return "", fmt.Errorf("failed to encode Anemometer parameters: %w", err)
	}
	return fmt.Sprintf("%s/index.php?%s", c.baseURL, v.Encode()), nil
}

// Queries returns the digest rows, ordered as requested.
func (c *Client) Queries(p Params) ([]map[string]any, error) {
	target, err := c.URL(p)
	if err != nil {
		return nil, err
	}
	log.Info().Str("url", target).Msg("Fetching Anemometer digest")

	resp, err := c.httpClient.Get(target)
	if err != nil {
		return nil, fmt.Errorf("Anemometer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Anemometer returned status %d", resp.StatusCode)
	}

	var result struct {
		Result []map[string]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode Anemometer response: %w", err)
	}

	log.Info().Int("queries", len(result.Result)).Msg("Got Anemometer queries")
	return result.Result, nil
}
