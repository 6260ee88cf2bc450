// Package webhook handles the provider's phone-enrichment callbacks.
//
// The job id embedded in the callback URL is the only correlation
// mechanism. Callbacks are always acknowledged once they carry an id so
// the provider never retries; ids that do not match a live job are logged,
// counted and dropped. Bodies that cannot be read or parsed are treated
// the same way: the job is left untouched so a later valid delivery can
// still complete it.
package webhook

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/phonejob"
	"github.com/sells-group/lead-intake/pkg/apollo"
)

// ErrMissingJobID is returned when the callback carries no job id.
var ErrMissingJobID = eris.New("webhook: missing jobId")

// JobUpdater applies callback results. *phonejob.Store satisfies it.
type JobUpdater interface {
	Complete(id string, contacts []model.Contact) phonejob.Transition
}

// Payload is the callback body.
type Payload struct {
	Matches []apollo.Person `json:"matches"`
}

// Ack is the acknowledgment written back to the provider.
type Ack struct {
	Success bool `json:"success"`
}

// Receiver normalizes callback payloads into the job store.
type Receiver struct {
	jobs      JobUpdater
	unmatched atomic.Int64
	malformed atomic.Int64
}

// NewReceiver creates a Receiver writing into jobs.
func NewReceiver(jobs JobUpdater) *Receiver {
	return &Receiver{jobs: jobs}
}

// Handle processes one callback. The only error is ErrMissingJobID, in
// which case nothing is mutated.
func (r *Receiver) Handle(_ context.Context, jobID string, body []byte) (Ack, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Ack{}, ErrMissingJobID
	}
	log := zap.L().With(zap.String("job_id", jobID))

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		r.discard(log, eris.Wrap(err, "webhook: decode payload"), len(body))
		return Ack{Success: true}, nil
	}

	contacts := Normalize(payload)
	tr := r.jobs.Complete(jobID, contacts)
	r.record(log, tr)

	log.Info("webhook: callback processed",
		zap.Int("matches", len(payload.Matches)),
		zap.Int("with_phone", countPhones(contacts)),
		zap.Stringer("transition", tr),
	)
	return Ack{Success: true}, nil
}

// Discard acknowledges a callback whose body could not be read. Like an
// unparseable body it is logged and counted without touching the job.
func (r *Receiver) Discard(_ context.Context, jobID string, cause error) (Ack, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Ack{}, ErrMissingJobID
	}
	r.discard(zap.L().With(zap.String("job_id", jobID)), cause, -1)
	return Ack{Success: true}, nil
}

func (r *Receiver) discard(log *zap.Logger, cause error, size int) {
	n := r.malformed.Add(1)
	log.Warn("webhook: malformed callback, dropping",
		zap.Error(cause),
		zap.Int("bytes", size),
		zap.Int64("malformed_total", n),
	)
}

func (r *Receiver) record(log *zap.Logger, tr phonejob.Transition) {
	if tr != phonejob.UnknownJob {
		return
	}
	n := r.unmatched.Add(1)
	log.Warn("webhook: callback for unknown or expired job, dropping", zap.Int64("unmatched_total", n))
}

// Unmatched returns how many callbacks named a job that did not exist.
func (r *Receiver) Unmatched() int64 {
	return r.unmatched.Load()
}

// Malformed returns how many callbacks carried an unreadable or unparseable body.
func (r *Receiver) Malformed() int64 {
	return r.malformed.Load()
}

// Normalize converts provider matches into contacts. Fields missing from a
// match stay empty and are omitted on the wire.
func Normalize(p Payload) []model.Contact {
	contacts := make([]model.Contact, 0, len(p.Matches))
	for _, m := range p.Matches {
		contacts = append(contacts, model.Contact{
			ID:               m.ID,
			FirstName:        m.FirstName,
			LastName:         m.LastName,
			Name:             apollo.DisplayName(m.FirstName, m.LastName),
			Email:            m.Email,
			Phone:            apollo.FirstPhone(m.PhoneNumbers),
			Title:            m.Title,
			LinkedInURL:      m.LinkedInURL,
			OrganizationName: m.OrgName(),
		})
	}
	return contacts
}

func countPhones(contacts []model.Contact) int {
	n := 0
	for _, c := range contacts {
		if c.Phone != "" {
			n++
		}
	}
	return n
}
