// Package api exposes enrichment, phone-job status, company search, lead
// intake and approvals over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/enrich"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/phonejob"
	"github.com/sells-group/lead-intake/internal/webhook"
	"github.com/sells-group/lead-intake/pkg/exa"
)

const maxBody = 1 << 20

// Enricher runs enrichment requests.
type Enricher interface {
	Enrich(ctx context.Context, req enrich.Request) (*enrich.Response, error)
	MaxLimit() int
}

// JobReader reads phone jobs.
type JobReader interface {
	Get(id string) (phonejob.Job, error)
	Len() int
}

// CallbackHandler consumes provider callbacks. Discard is used when the
// body could not be read.
type CallbackHandler interface {
	Handle(ctx context.Context, jobID string, body []byte) (webhook.Ack, error)
	Discard(ctx context.Context, jobID string, cause error) (webhook.Ack, error)
}

// LeadSubmitter starts the lead workflow in the background.
type LeadSubmitter interface {
	Submit(ctx context.Context, l model.Lead)
}

// ApprovalStore reads and decides drafted emails.
type ApprovalStore interface {
	Get(ctx context.Context, id string) (*model.Approval, error)
	ListPending(ctx context.Context) ([]model.Approval, error)
	Decide(ctx context.Context, id string, approved bool, feedback string) (*model.Approval, error)
}

// Deps are the services behind the routes. Search, Leads and Approvals may
// be nil; their routes then answer 500 not configured.
type Deps struct {
	Enrich    Enricher
	Jobs      JobReader
	Callbacks CallbackHandler
	Search    exa.Client
	Leads     LeadSubmitter
	Approvals ApprovalStore

	// SearchResults is the number of hits requested per search.
	SearchResults int
}

// Options configure the router.
type Options struct {
	AllowedOrigins []string
}

type server struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps, opts Options) http.Handler {
	if deps.SearchResults <= 0 {
		deps.SearchResults = 100
	}
	s := &server{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/enrich", s.enrich)
		r.Post("/enrich/webhook", s.webhook)
		r.Get("/enrich/status/{jobId}", s.status)
		r.Post("/search", s.search)
		r.Post("/submit", s.submit)

		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", s.listApprovals)
			r.Get("/{id}", s.getApproval)
			r.Post("/{id}/approve", s.decide(true))
			r.Post("/{id}/reject", s.decide(false))
		})
	})

	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"phone_jobs": s.Jobs.Len(),
	})
}

// requestLogger logs one line per request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("api: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
