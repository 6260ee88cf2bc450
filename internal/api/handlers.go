package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/enrich"
	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/poller"
	"github.com/sells-group/lead-intake/internal/webhook"
	"github.com/sells-group/lead-intake/pkg/exa"
)

const maxQueryLen = 5000

type enrichBody struct {
	Companies     []model.CompanyRef `json:"companies"`
	Limit         *int               `json:"limit"`
	IncludePhones bool               `json:"includePhones"`
}

func (s *server) enrich(w http.ResponseWriter, r *http.Request) {
	var body enrichBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Companies == nil {
		writeError(w, r, invalid("companies is required"))
		return
	}
	req := enrich.Request{Companies: body.Companies, IncludePhones: body.IncludePhones}
	if body.Limit != nil {
		if maxLimit := s.Enrich.MaxLimit(); *body.Limit < 1 || *body.Limit > maxLimit {
			writeError(w, r, invalid(fmt.Sprintf("limit must be between 1 and %d", maxLimit)))
			return
		}
		req.Limit = *body.Limit
	}

	resp, err := s.Enrich.Enrich(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) webhook(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))

	var ack webhook.Ack
	if err != nil {
		ack, err = s.Callbacks.Discard(r.Context(), jobID, eris.Wrap(err, "webhook: read body"))
	} else {
		ack, err = s.Callbacks.Handle(r.Context(), jobID, data)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	job, err := s.Jobs.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poller.StatusFromJob(job))
}

type searchBody struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []exa.Result `json:"results"`
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	if s.Search == nil {
		writeError(w, r, eris.Wrap(errNotConfigured, "search"))
		return
	}

	var body searchBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	switch {
	case strings.TrimSpace(body.Query) == "":
		writeError(w, r, invalid("Search query is required"))
		return
	case utf8.RuneCountInString(body.Query) > maxQueryLen:
		writeError(w, r, invalid("Query must be less than 5000 characters"))
		return
	}

	resp, err := s.Search.Search(r.Context(), exa.CompanySearch(body.Query, s.SearchResults))
	if err != nil {
		writeError(w, r, &UpstreamError{Service: "search", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: resp.Results})
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	if s.Leads == nil {
		writeError(w, r, eris.Wrap(errNotConfigured, "lead processing"))
		return
	}

	var l model.Lead
	if err := decodeJSON(w, r, &l); err != nil {
		writeError(w, r, err)
		return
	}
	l = lead.Normalize(l)
	if err := lead.Validate(l); err != nil {
		writeError(w, r, err)
		return
	}

	s.Leads.Submit(r.Context(), l)
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Form submitted successfully"})
}

func (s *server) listApprovals(w http.ResponseWriter, r *http.Request) {
	if s.Approvals == nil {
		writeError(w, r, eris.Wrap(errNotConfigured, "approvals"))
		return
	}
	pending, err := s.Approvals.ListPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

func (s *server) getApproval(w http.ResponseWriter, r *http.Request) {
	if s.Approvals == nil {
		writeError(w, r, eris.Wrap(errNotConfigured, "approvals"))
		return
	}
	a, err := s.Approvals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type decisionBody struct {
	Feedback string `json:"feedback"`
}

func (s *server) decide(approved bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Approvals == nil {
			writeError(w, r, eris.Wrap(errNotConfigured, "approvals"))
			return
		}

		// The body is optional.
		var body decisionBody
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, invalid("Invalid JSON body"))
			return
		}

		a, err := s.Approvals.Decide(r.Context(), chi.URLParam(r, "id"), approved, strings.TrimSpace(body.Feedback))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}
