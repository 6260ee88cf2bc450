// Package exa is a client for the Exa neural search API.
package exa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-intake/internal/resilience"
)

const defaultBaseURL = "https://api.exa.ai"

// Client defines the Exa operations used by company search and lead research.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is the body for POST /search.
type SearchRequest struct {
	Query      string    `json:"query"`
	NumResults int       `json:"numResults,omitempty"`
	Type       string    `json:"type,omitempty"`
	Category   string    `json:"category,omitempty"`
	Contents   *Contents `json:"contents,omitempty"`
}

// Contents selects which page contents are returned with each result.
type Contents struct {
	Text       *TextOptions      `json:"text,omitempty"`
	Summary    *SummaryOptions   `json:"summary,omitempty"`
	Highlights *HighlightOptions `json:"highlights,omitempty"`
}

// TextOptions bounds the returned page text.
type TextOptions struct {
	MaxCharacters int `json:"maxCharacters,omitempty"`
}

// SummaryOptions steers the generated summary.
type SummaryOptions struct {
	Query string `json:"query,omitempty"`
}

// HighlightOptions steers highlight extraction.
type HighlightOptions struct {
	Query        string `json:"query,omitempty"`
	NumSentences int    `json:"numSentences,omitempty"`
}

// SearchResponse is the response from POST /search.
type SearchResponse struct {
	RequestID string   `json:"requestId,omitempty"`
	Results   []Result `json:"results"`
}

// Result is one search hit.
type Result struct {
	ID            string   `json:"id,omitempty"`
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Summary       string   `json:"summary,omitempty"`
	Text          string   `json:"text,omitempty"`
	Highlights    []string `json:"highlights,omitempty"`
	PublishedDate string   `json:"publishedDate,omitempty"`
	Author        string   `json:"author,omitempty"`
	Score         float64  `json:"score,omitempty"`
}

// CompanySearch builds the company-category search used by the search
// endpoint: numResults hits with summary, text and highlights keyed to query.
func CompanySearch(query string, numResults int) SearchRequest {
	return SearchRequest{
		Query:      query,
		NumResults: numResults,
		Type:       "auto",
		Category:   "company",
		Contents: &Contents{
			Text:       &TextOptions{MaxCharacters: 1000},
			Summary:    &SummaryOptions{Query: query},
			Highlights: &HighlightOptions{Query: query, NumSentences: 3},
		},
	}
}

// APIError is returned when Exa responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exa: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit throttles searches to rps requests per second. Zero disables
// throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Exa client throttled to 5 req/s.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(5, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, eris.New("exa: empty query")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "exa: marshal request")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "exa: rate limit")
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "exa: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "exa: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "exa: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.MaybeTransient(&APIError{StatusCode: resp.StatusCode, Body: string(data)}, resp.StatusCode)
	}

	var out SearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "exa: decode response")
	}
	if out.Results == nil {
		out.Results = []Result{}
	}
	return &out, nil
}
