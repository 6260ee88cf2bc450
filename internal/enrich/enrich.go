// Package enrich runs contact enrichment over a relevance-ordered list of
// companies: people search, batched email reveal and, optionally, an
// asynchronous phone reveal tracked as a phone job.
package enrich

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/pkg/apollo"
)

// ErrInvalidURL is the per-company error for URLs with no usable host.
const ErrInvalidURL = "Invalid URL - could not extract domain"

// WebhookPath is the callback route the provider is told to POST to.
const WebhookPath = "/api/enrich/webhook"

// ErrNotConfigured is returned before any company is processed when no
// provider client is available.
var ErrNotConfigured = eris.New("enrich: contact provider API key not configured")

// JobRegistry records accepted phone requests. *phonejob.Store satisfies it.
type JobRegistry interface {
	Create(id, companyURL, companyName string, contactIDs []string) error
}

// Request is the body of an enrichment request.
type Request struct {
	Companies     []model.CompanyRef `json:"companies"`
	Limit         int                `json:"limit"`
	IncludePhones bool               `json:"includePhones"`
}

// Response carries one result per processed company, in input order.
type Response struct {
	Results []model.EnrichmentResult `json:"results"`
}

// Config holds the pacing knobs of the enrichment loop.
type Config struct {
	// PublicBaseURL is the externally reachable origin embedded in callback URLs.
	PublicBaseURL string
	BatchSize     int
	BatchDelay    time.Duration
	CompanyDelay  time.Duration
	DefaultLimit  int
	MaxLimit      int
}

// DefaultConfig returns the provider-safe pacing: batches of 10 with 500ms
// between batches and between companies.
func DefaultConfig() Config {
	return Config{
		BatchSize:    apollo.MaxBulkMatch,
		BatchDelay:   500 * time.Millisecond,
		CompanyDelay: 500 * time.Millisecond,
		DefaultLimit: 10,
		MaxLimit:     20,
	}
}

// Service runs enrichment requests. Companies and email batches are
// processed strictly sequentially.
type Service struct {
	client apollo.Client
	jobs   JobRegistry
	cfg    Config

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithSleep replaces the delay function, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		s.sleep = fn
	}
}

// WithIDGenerator replaces the phone job id generator, for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// NewService creates a Service. client may be nil when the provider key is
// not configured; every Enrich call then fails with ErrNotConfigured.
func NewService(client apollo.Client, jobs JobRegistry, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 || cfg.BatchSize > apollo.MaxBulkMatch {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	s := &Service{
		client: client,
		jobs:   jobs,
		cfg:    cfg,
		sleep:  sleepCtx,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClampLimit applies the default to an unset limit and caps it at MaxLimit.
func (s *Service) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return limit
}

// MaxLimit is the largest company count a request may ask for.
func (s *Service) MaxLimit() int {
	return s.cfg.MaxLimit
}

// Enrich processes the first min(len(companies), limit) companies. A
// company that fails is reported in its own result and never stops its
// siblings. If ctx is cancelled the results gathered so far are returned
// together with ctx.Err().
func (s *Service) Enrich(ctx context.Context, req Request) (*Response, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	n := min(len(req.Companies), s.ClampLimit(req.Limit))
	resp := &Response{Results: make([]model.EnrichmentResult, 0, n)}

	log := zap.L().With(zap.Int("companies", n), zap.Bool("include_phones", req.IncludePhones))
	log.Info("enrich: starting")
	start := time.Now()

	for i, company := range req.Companies[:n] {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.CompanyDelay); err != nil {
				return resp, err
			}
		}
		resp.Results = append(resp.Results, s.enrichCompany(ctx, company, req.IncludePhones))
	}

	log.Info("enrich: complete",
		zap.Int("phone_jobs", len(model.PhoneJobs(resp.Results))),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

func (s *Service) enrichCompany(ctx context.Context, company model.CompanyRef, includePhones bool) model.EnrichmentResult {
	result := model.EnrichmentResult{
		Company:  company.Title,
		URL:      company.URL,
		Contacts: []model.Contact{},
	}
	log := zap.L().With(zap.String("company", company.Title), zap.String("url", company.URL))

	domain, err := ExtractDomain(company.URL)
	if err != nil {
		log.Warn("enrich: skipping company", zap.Error(err))
		result.Error = ErrInvalidURL
		return result
	}

	people, err := s.client.SearchPeople(ctx, domain)
	if err != nil {
		log.Warn("enrich: people search failed", zap.Error(err))
		result.Error = err.Error()
		return result
	}
	if len(people) == 0 {
		return result
	}

	contacts, err := s.bulkEnrichEmails(ctx, people)
	if err != nil {
		log.Warn("enrich: email enrichment failed, using search results", zap.Error(err))
		contacts = people
	}
	result.Contacts = contacts

	if includePhones {
		result.PhoneJobID = s.requestPhones(ctx, company, people)
	}
	return result
}

// bulkEnrichEmails reveals emails in batches of cfg.BatchSize, one batch
// at a time, sleeping BatchDelay between batches. Results keep input order.
func (s *Service) bulkEnrichEmails(ctx context.Context, people []model.Contact) ([]model.Contact, error) {
	refs := apollo.RefsFromContacts(people)
	enriched := make([]model.Contact, 0, len(people))

	for i, batch := range partition(refs, s.cfg.BatchSize) {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
				return nil, err
			}
		}
		matched, err := s.client.BulkMatch(ctx, batch)
		if err != nil {
			return nil, eris.Wrapf(err, "enrich: email batch %d", i+1)
		}
		enriched = append(enriched, matched...)
	}
	return enriched, nil
}

// requestPhones asks the provider for phone numbers and registers a job once
// the request is accepted. It returns "" on any failure.
func (s *Service) requestPhones(ctx context.Context, company model.CompanyRef, people []model.Contact) string {
	id := s.newID()
	log := zap.L().With(zap.String("company", company.Title), zap.String("job_id", id))

	if err := s.client.BulkMatchPhones(ctx, apollo.RefsFromContacts(people), s.CallbackURL(id)); err != nil {
		log.Warn("enrich: phone enrichment request failed", zap.Error(err))
		return ""
	}
	if err := s.jobs.Create(id, company.URL, company.Title, model.ContactIDs(people)); err != nil {
		log.Error("enrich: register phone job", zap.Error(err))
		return ""
	}
	return id
}

// CallbackURL is the webhook URL for job id.
func (s *Service) CallbackURL(id string) string {
	return fmt.Sprintf("%s%s?jobId=%s", s.cfg.PublicBaseURL, WebhookPath, url.QueryEscape(id))
}

// ExtractDomain returns the host of rawURL without a leading "www.".
func ExtractDomain(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", eris.Wrap(err, "enrich: parse url")
	}
	host := u.Hostname()
	if host == "" {
		return "", eris.Errorf("enrich: no host in %q", rawURL)
	}
	return strings.TrimPrefix(strings.ToLower(host), "www."), nil
}

func partition[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
