// Package apollo is a client for the Apollo people search and enrichment API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
)

const (
	defaultBaseURL = "https://api.apollo.io/api/v1"

	// MaxBulkMatch is the provider's hard limit on people per bulk_match call.
	MaxBulkMatch = 10

	searchPageSize = 10
)

// SearchTitles is the seniority/function taxonomy people search is filtered by.
var SearchTitles = []string{
	"CTO",
	"VP",
	"Chief",
	"Head of Engineering",
	"Director",
	"CEO",
}

// Client defines the Apollo operations used by enrichment.
type Client interface {
	// SearchPeople finds decision makers at a domain. Email and phone are
	// never populated at search time.
	SearchPeople(ctx context.Context, domain string) ([]model.Contact, error)
	// BulkMatch reveals emails for at most MaxBulkMatch people.
	BulkMatch(ctx context.Context, people []PersonRef) ([]model.Contact, error)
	// BulkMatchPhones asks the provider to reveal phone numbers and POST them
	// to webhookURL when ready. A nil error means the request was accepted.
	BulkMatchPhones(ctx context.Context, people []PersonRef, webhookURL string) error
}

// PersonRef identifies a person for bulk_match.
type PersonRef struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// RefsFromContacts builds bulk_match details from search results.
func RefsFromContacts(contacts []model.Contact) []PersonRef {
	refs := make([]PersonRef, len(contacts))
	for i, c := range contacts {
		refs[i] = PersonRef{ID: c.ID, FirstName: c.FirstName, LastName: c.LastName}
	}
	return refs
}

// Person is a person record as returned by search and bulk_match.
type Person struct {
	ID               string        `json:"id"`
	FirstName        string        `json:"first_name"`
	LastName         string        `json:"last_name"`
	Name             string        `json:"name"`
	Email            string        `json:"email"`
	Title            string        `json:"title"`
	LinkedInURL      string        `json:"linkedin_url"`
	OrganizationName string        `json:"organization_name"`
	Organization     *Organization `json:"organization"`
	PhoneNumbers     []PhoneNumber `json:"phone_numbers"`
	HasEmail         bool          `json:"has_email"`
	HasDirectPhone   bool          `json:"has_direct_phone"`
}

// Organization is the nested employer object on a person.
type Organization struct {
	Name string `json:"name"`
}

// PhoneNumber is one phone representation on a person.
type PhoneNumber struct {
	RawNumber       string `json:"raw_number"`
	SanitizedNumber string `json:"sanitized_number"`
}

// FirstPhone returns the first non-empty number across numbers, preferring
// the raw form of each entry over the sanitized one.
func FirstPhone(numbers []PhoneNumber) string {
	for _, n := range numbers {
		if s := strings.TrimSpace(n.RawNumber); s != "" {
			return s
		}
		if s := strings.TrimSpace(n.SanitizedNumber); s != "" {
			return s
		}
	}
	return ""
}

// DisplayName composes the trimmed "first last" name.
func DisplayName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

// OrgName returns the nested organization name, falling back to the flat field.
func (p Person) OrgName() string {
	if p.Organization != nil && p.Organization.Name != "" {
		return p.Organization.Name
	}
	return p.OrganizationName
}

// SearchResponse is the response from POST /mixed_people/api_search.
type SearchResponse struct {
	People     []Person   `json:"people"`
	Pagination Pagination `json:"pagination"`
}

// Pagination describes a search result page.
type Pagination struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalEntries int `json:"total_entries"`
	TotalPages   int `json:"total_pages"`
}

// BulkMatchRequest is the body for POST /people/bulk_match.
type BulkMatchRequest struct {
	Details []PersonRef `json:"details"`
}

// BulkMatchResponse is the response from POST /people/bulk_match.
type BulkMatchResponse struct {
	Matches []Person `json:"matches"`
}

// APIError is returned when Apollo responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apollo: HTTP %d: %s", e.StatusCode, e.Body)
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

// WithRateLimit throttles calls to rps requests per second. Zero disables
// client-side throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a new Apollo client. Calls are throttled to 5 req/s and
// transient failures are retried by default.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SearchPeople(ctx context.Context, domain string) ([]model.Contact, error) {
	q := url.Values{}
	q.Set("q_organization_domains_list[]", domain)
	q.Set("per_page", fmt.Sprint(searchPageSize))
	q.Set("contact_email_status[]", "verified")
	for _, title := range SearchTitles {
		q.Add("person_titles[]", title)
	}

	var resp SearchResponse
	// The search endpoint takes its filters as query params and an empty body.
	if err := c.post(ctx, "search", "/mixed_people/api_search", q, struct{}{}, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("apollo: search people %s", domain))
	}

	contacts := make([]model.Contact, 0, len(resp.People))
	for _, p := range resp.People {
		name := p.Name
		if name == "" {
			name = DisplayName(p.FirstName, p.LastName)
		}
		contacts = append(contacts, model.Contact{
			ID:               p.ID,
			FirstName:        p.FirstName,
			LastName:         p.LastName,
			Name:             name,
			Title:            p.Title,
			LinkedInURL:      p.LinkedInURL,
			OrganizationName: p.OrgName(),
			HasEmail:         p.HasEmail,
			HasDirectPhone:   p.HasDirectPhone,
		})
	}

	zap.L().Debug("apollo: search complete",
		zap.String("domain", domain),
		zap.Int("people", len(contacts)),
		zap.Int("total_entries", resp.Pagination.TotalEntries),
	)
	return contacts, nil
}

func (c *httpClient) BulkMatch(ctx context.Context, people []PersonRef) ([]model.Contact, error) {
	if len(people) > MaxBulkMatch {
		return nil, eris.Errorf("apollo: bulk match accepts at most %d people, got %d", MaxBulkMatch, len(people))
	}

	q := url.Values{}
	q.Set("reveal_personal_emails", "true")

	var resp BulkMatchResponse
	if err := c.post(ctx, "bulk_match", "/people/bulk_match", q, BulkMatchRequest{Details: people}, &resp); err != nil {
		return nil, eris.Wrap(err, "apollo: bulk match")
	}

	contacts := make([]model.Contact, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		contacts = append(contacts, model.Contact{
			ID:               m.ID,
			FirstName:        m.FirstName,
			LastName:         m.LastName,
			Name:             DisplayName(m.FirstName, m.LastName),
			Email:            m.Email,
			Phone:            FirstPhone(m.PhoneNumbers),
			Title:            m.Title,
			LinkedInURL:      m.LinkedInURL,
			OrganizationName: m.OrgName(),
		})
	}
	return contacts, nil
}

func (c *httpClient) BulkMatchPhones(ctx context.Context, people []PersonRef, webhookURL string) error {
	q := url.Values{}
	q.Set("reveal_phone_number", "true")
	q.Set("webhook_url", webhookURL)

	var resp json.RawMessage
	if err := c.post(ctx, "bulk_match_phones", "/people/bulk_match", q, BulkMatchRequest{Details: people}, &resp); err != nil {
		return eris.Wrap(err, "apollo: request phone enrichment")
	}
	return nil
}

// post sends a JSON POST through the rate limiter, retrying transient failures.
func (c *httpClient) post(ctx context.Context, op, path string, query url.Values, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("apollo", op)
	}

	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "rate limit")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", c.apiKey)

		return c.do(req, out)
	})
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		return resilience.MaybeTransient(apiErr, resp.StatusCode)
	}

	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
