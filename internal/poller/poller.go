// Package poller waits for outstanding phone jobs to resolve and merges
// their phone numbers into enrichment results.
package poller

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/phonejob"
)

const (
	defaultMaxAttempts = 30
	defaultInterval    = 2 * time.Second
)

// Outcome summarizes a polling run.
type Outcome string

const (
	// OutcomeComplete means every job reached a terminal status.
	OutcomeComplete Outcome = "complete"
	// OutcomePartial means some jobs resolved and some did not.
	OutcomePartial Outcome = "partial"
	// OutcomeTimedOut means no job resolved within the budget.
	OutcomeTimedOut Outcome = "timed_out"
)

// Report describes what a Poll call observed.
type Report struct {
	Merged     []string          `json:"merged"`
	Failed     map[string]string `json:"failed"`
	Unresolved []string          `json:"unresolved"`
	Attempts   int               `json:"attempts"`
	Outcome    Outcome           `json:"outcome"`
}

// Poller runs the bounded polling loop.
type Poller struct {
	querier     StatusQuerier
	maxAttempts int
	interval    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Poller.
type Option func(*Poller)

// WithMaxAttempts sets the attempt budget (default 30).
func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithInterval sets the delay between attempts (default 2s).
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSleep replaces the delay function, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		p.sleep = fn
	}
}

// New creates a Poller reading job status through q.
func New(q StatusQuerier, opts ...Option) *Poller {
	p := &Poller{
		querier:     q,
		maxAttempts: defaultMaxAttempts,
		interval:    defaultInterval,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll queries every outstanding job once per attempt until all reach a
// terminal status or the attempt budget runs out. jobs maps job id to the
// company URL it belongs to. Completed jobs have their phones merged into
// results in place.
//
// A failed lookup for one id never stops the others; ErrNotFound counts as
// still outstanding. If ctx is cancelled, the report so far is returned
// with ctx.Err().
func (p *Poller) Poll(ctx context.Context, jobs map[string]string, results []model.EnrichmentResult) (*Report, error) {
	outstanding := make(map[string]string, len(jobs))
	for id, u := range jobs {
		outstanding[id] = u
	}
	report := &Report{Merged: []string{}, Failed: map[string]string{}}

	log := zap.L().With(zap.Int("jobs", len(jobs)))
	log.Info("poller: waiting for phone jobs",
		zap.Int("max_attempts", p.maxAttempts),
		zap.Duration("interval", p.interval),
	)

	for attempt := 1; attempt <= p.maxAttempts && len(outstanding) > 0; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.interval); err != nil {
				return p.finish(report, outstanding), err
			}
		}
		report.Attempts = attempt

		for _, id := range sortedKeys(outstanding) {
			st, err := p.querier.Status(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return p.finish(report, outstanding), ctx.Err()
				}
				if !errors.Is(err, ErrNotFound) {
					log.Warn("poller: status lookup failed", zap.String("job_id", id), zap.Error(err))
				}
				continue
			}

			switch st.Status {
			case phonejob.StatusCompleted:
				merged := MergePhones(results, outstanding[id], st.Contacts)
				log.Debug("poller: job completed", zap.String("job_id", id), zap.Int("phones_merged", merged))
				report.Merged = append(report.Merged, id)
				delete(outstanding, id)
			case phonejob.StatusFailed:
				log.Warn("poller: job failed", zap.String("job_id", id), zap.String("error", st.Error))
				report.Failed[id] = st.Error
				delete(outstanding, id)
			}
		}
	}

	p.finish(report, outstanding)
	log.Info("poller: done",
		zap.String("outcome", string(report.Outcome)),
		zap.Int("attempts", report.Attempts),
		zap.Int("merged", len(report.Merged)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("unresolved", len(report.Unresolved)),
	)
	return report, nil
}

func (p *Poller) finish(report *Report, outstanding map[string]string) *Report {
	report.Unresolved = sortedKeys(outstanding)
	resolved := len(report.Merged) + len(report.Failed)

	switch {
	case len(outstanding) == 0:
		report.Outcome = OutcomeComplete
	case resolved > 0:
		report.Outcome = OutcomePartial
	default:
		report.Outcome = OutcomeTimedOut
	}
	return report
}

// MergePhones copies phone numbers from resolved contacts onto the contacts
// of the result whose URL is companyURL, matching by display name. The first
// resolved contact with a matching name wins, so duplicate names can merge
// ambiguously. Returns how many contacts received a phone.
func MergePhones(results []model.EnrichmentResult, companyURL string, resolved []model.Contact) int {
	merged := 0
	for i := range results {
		if results[i].URL != companyURL {
			continue
		}
		contacts := results[i].Contacts
		for j := range contacts {
			for _, r := range resolved {
				if r.Name == contacts[j].Name {
					if r.Phone != "" {
						contacts[j].Phone = r.Phone
						merged++
					}
					break
				}
			}
		}
	}
	return merged
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
