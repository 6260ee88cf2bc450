package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/phonejob"
)

// StatusPath is the route prefix of the status endpoint.
const StatusPath = "/api/enrich/status/"

// ErrNotFound means the job is unknown or has been swept.
var ErrNotFound = eris.New("poller: job not found")

// Status is the wire shape of a phone job status. Times are epoch
// milliseconds.
type Status struct {
	Status      phonejob.Status `json:"status"`
	Contacts    []model.Contact `json:"contacts"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
	CompletedAt *int64          `json:"completedAt,omitempty"`
}

// StatusFromJob converts a stored job to its wire shape.
func StatusFromJob(j phonejob.Job) *Status {
	st := &Status{
		Status:    j.Status,
		Contacts:  j.Contacts,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.UnixMilli(),
	}
	if st.Contacts == nil {
		st.Contacts = []model.Contact{}
	}
	if j.CompletedAt != nil {
		ms := j.CompletedAt.UnixMilli()
		st.CompletedAt = &ms
	}
	return st
}

// StatusQuerier looks up one phone job. Unknown or expired jobs yield
// ErrNotFound.
type StatusQuerier interface {
	Status(ctx context.Context, jobID string) (*Status, error)
}

// JobReader is the read side of *phonejob.Store.
type JobReader interface {
	Get(id string) (phonejob.Job, error)
}

// StoreQuerier answers status queries from an in-process job store.
type StoreQuerier struct {
	Jobs JobReader
}

// Status implements StatusQuerier.
func (q StoreQuerier) Status(_ context.Context, jobID string) (*Status, error) {
	j, err := q.Jobs.Get(jobID)
	if errors.Is(err, phonejob.ErrJobNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "poller: get job %s", jobID)
	}
	return StatusFromJob(j), nil
}

// HTTPQuerier answers status queries from a running server's status
// endpoint.
type HTTPQuerier struct {
	baseURL string
	http    *http.Client
}

// NewHTTPQuerier creates a querier against baseURL, e.g. http://localhost:8080.
// A nil hc uses a client with a 10s timeout.
func NewHTTPQuerier(baseURL string, hc *http.Client) *HTTPQuerier {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPQuerier{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Status implements StatusQuerier.
func (q *HTTPQuerier) Status(ctx context.Context, jobID string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+StatusPath+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "poller: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := q.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "poller: query job %s", jobID)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, eris.New(fmt.Sprintf("poller: query job %s: HTTP %d: %s", jobID, resp.StatusCode, string(body)))
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, eris.Wrapf(err, "poller: decode status for %s", jobID)
	}
	return &st, nil
}
