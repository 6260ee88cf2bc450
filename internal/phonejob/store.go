// Package phonejob tracks phone-enrichment requests awaiting the provider's
// callback. Jobs live in memory only and are reaped by a periodic sweep.
package phonejob

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
)

const (
	defaultRetention     = time.Hour
	defaultSweepInterval = 10 * time.Minute
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrJobNotFound is returned by Get for unknown or expired ids.
	ErrJobNotFound = eris.New("phone job not found")
	// ErrDuplicateJob is returned by Create when the id is already registered.
	ErrDuplicateJob = eris.New("phone job already exists")
)

// Job is one outstanding phone-enrichment request.
type Job struct {
	ID          string
	CompanyURL  string
	CompanyName string
	ContactIDs  []string
	Status      Status
	Contacts    []model.Contact
	CreatedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Transition reports what a Complete or Fail call did.
type Transition int

const (
	// Applied means the job moved from pending to a terminal status.
	Applied Transition = iota
	// UnknownJob means no job with that id exists (never created or swept).
	UnknownJob
	// AlreadyTerminal means the first terminal write already happened.
	AlreadyTerminal
)

func (t Transition) String() string {
	switch t {
	case Applied:
		return "applied"
	case UnknownJob:
		return "unknown_job"
	case AlreadyTerminal:
		return "already_terminal"
	default:
		return "unknown"
	}
}

// Option configures a Store.
type Option func(*Store)

// WithRetention sets how long a job is kept after creation, whatever its status.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSweepInterval sets how often the background sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is an in-memory registry of phone jobs keyed by correlation id.
// It is safe for concurrent use by the request path, the callback path and
// the sweeper.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewStore creates an empty store. Call Start to run the sweeper and Stop
// on shutdown.
func NewStore(opts ...Option) *Store {
	s := &Store{
		jobs:      make(map[string]*Job),
		retention: defaultRetention,
		interval:  defaultSweepInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new pending job.
func (s *Store) Create(id, companyURL, companyName string, contactIDs []string) error {
	if id == "" {
		return eris.New("phonejob: empty job id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return eris.Wrapf(ErrDuplicateJob, "phonejob: create %s", id)
	}
	s.jobs[id] = &Job{
		ID:          id,
		CompanyURL:  companyURL,
		CompanyName: companyName,
		ContactIDs:  append([]string(nil), contactIDs...),
		Status:      StatusPending,
		Contacts:    []model.Contact{},
		CreatedAt:   s.now(),
	}

	zap.L().Info("phonejob: created",
		zap.String("job_id", id),
		zap.String("company", companyName),
		zap.Int("contacts", len(contactIDs)),
	)
	return nil
}

// Complete records resolved contacts for a pending job. Unknown ids and
// jobs that already reached a terminal status are left untouched.
func (s *Store) Complete(id string, contacts []model.Contact) Transition {
	return s.finish(id, func(j *Job) {
		j.Status = StatusCompleted
		j.Contacts = append([]model.Contact{}, contacts...)
	})
}

// Fail marks a pending job failed with detail. Same no-op rules as Complete.
func (s *Store) Fail(id, detail string) Transition {
	return s.finish(id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = detail
	})
}

func (s *Store) finish(id string, apply func(*Job)) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := zap.L().With(zap.String("job_id", id))

	j, ok := s.jobs[id]
	if !ok {
		log.Warn("phonejob: transition for unknown job")
		return UnknownJob
	}
	if j.Status.Terminal() {
		log.Warn("phonejob: job already terminal, ignoring", zap.String("status", string(j.Status)))
		return AlreadyTerminal
	}

	apply(j)
	now := s.now()
	j.CompletedAt = &now

	log.Info("phonejob: finished",
		zap.String("status", string(j.Status)),
		zap.Int("contacts", len(j.Contacts)),
		zap.Duration("elapsed", now.Sub(j.CreatedAt)),
	)
	return Applied
}

// Get returns a copy of the job, or ErrJobNotFound.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}

	out := *j
	out.ContactIDs = append([]string(nil), j.ContactIDs...)
	out.Contacts = append([]model.Contact{}, j.Contacts...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out, nil
}

// Len returns the number of jobs currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Sweep removes every job created more than the retention window ago,
// regardless of status, and returns how many were removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		if j.CreatedAt.Before(cutoff) {
			if j.Status == StatusPending {
				zap.L().Info("phonejob: expiring job that never received a callback",
					zap.String("job_id", id),
					zap.String("company", j.CompanyName),
				)
			}
			delete(s.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		zap.L().Info("phonejob: swept expired jobs",
			zap.Int("removed", removed),
			zap.Int("remaining", len(s.jobs)),
		)
	}
	return removed
}

// Start runs Sweep every sweep interval until Stop is called or ctx is
// cancelled. Calling Start on a running store is a no-op.
func (s *Store) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()

	zap.L().Info("phonejob: sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention),
	)
}

// Stop halts the sweeper and waits for it to exit. Safe to call more than
// once and without a prior Start.
func (s *Store) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	zap.L().Info("phonejob: sweeper stopped")
}
