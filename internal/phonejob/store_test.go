package phonejob

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCreateAndGet(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now))

	require.NoError(t, s.Create("job-1", "https://acme.com", "Acme", []string{"p1", "p2"}))

	job, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "https://acme.com", job.CompanyURL)
	assert.Equal(t, "Acme", job.CompanyName)
	assert.Equal(t, []string{"p1", "p2"}, job.ContactIDs)
	assert.Equal(t, StatusPending, job.Status)
	assert.Empty(t, job.Contacts)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, clk.Now(), job.CreatedAt)
	assert.Equal(t, 1, s.Len())
}

func TestCreate_Duplicate(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create("job-1", "u", "n", nil))

	err := s.Create("job-1", "u2", "n2", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	job, _ := s.Get("job-1")
	assert.Equal(t, "u", job.CompanyURL)
}

func TestCreate_EmptyID(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.Create("", "u", "n", nil))
	assert.Equal(t, 0, s.Len())
}

func TestGet_NotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestComplete(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now))
	require.NoError(t, s.Create("job-1", "u", "Acme", []string{"p1"}))

	clk.Advance(3 * time.Minute)
	tr := s.Complete("job-1", []model.Contact{{Name: "Ada Lovelace", Phone: "+1555"}})
	assert.Equal(t, Applied, tr)

	job, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	require.Len(t, job.Contacts, 1)
	assert.Equal(t, "+1555", job.Contacts[0].Phone)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, clk.Now(), *job.CompletedAt)
	assert.Empty(t, job.Error)
}

func TestFail(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create("job-1", "u", "Acme", nil))

	assert.Equal(t, Applied, s.Fail("job-1", "provider error"))

	job, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "provider error", job.Error)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Contacts)
}

func TestFirstTerminalWriteWins(t *testing.T) {
	tests := []struct {
		name       string
		first      func(s *Store) Transition
		second     func(s *Store) Transition
		wantStatus Status
	}{
		{
			name:       "complete then fail",
			first:      func(s *Store) Transition { return s.Complete("j", []model.Contact{{Name: "A"}}) },
			second:     func(s *Store) Transition { return s.Fail("j", "late") },
			wantStatus: StatusCompleted,
		},
		{
			name:       "fail then complete",
			first:      func(s *Store) Transition { return s.Fail("j", "boom") },
			second:     func(s *Store) Transition { return s.Complete("j", []model.Contact{{Name: "A"}}) },
			wantStatus: StatusFailed,
		},
		{
			name:       "complete twice",
			first:      func(s *Store) Transition { return s.Complete("j", []model.Contact{{Name: "A"}}) },
			second:     func(s *Store) Transition { return s.Complete("j", []model.Contact{{Name: "B"}, {Name: "C"}}) },
			wantStatus: StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newClock()
			s := NewStore(WithClock(clk.Now))
			require.NoError(t, s.Create("j", "u", "n", nil))

			assert.Equal(t, Applied, tt.first(s))
			before, _ := s.Get("j")

			clk.Advance(time.Minute)
			assert.Equal(t, AlreadyTerminal, tt.second(s))

			after, _ := s.Get("j")
			assert.Equal(t, tt.wantStatus, after.Status)
			assert.Equal(t, before, after)
		})
	}
}

func TestTransition_UnknownJob(t *testing.T) {
	s := NewStore()
	assert.Equal(t, UnknownJob, s.Complete("nope", nil))
	assert.Equal(t, UnknownJob, s.Fail("nope", "x"))
	assert.Equal(t, 0, s.Len())
}

func TestTransitionString(t *testing.T) {
	assert.Equal(t, "applied", Applied.String())
	assert.Equal(t, "unknown_job", UnknownJob.String())
	assert.Equal(t, "already_terminal", AlreadyTerminal.String())
	assert.Equal(t, "unknown", Transition(42).String())
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Create("j", "u", "n", []string{"p1"}))
	s.Complete("j", []model.Contact{{Name: "A", Phone: "1"}})

	job, _ := s.Get("j")
	job.Contacts[0].Phone = "tampered"
	job.ContactIDs[0] = "tampered"
	*job.CompletedAt = time.Time{}

	again, _ := s.Get("j")
	assert.Equal(t, "1", again.Contacts[0].Phone)
	assert.Equal(t, "p1", again.ContactIDs[0])
	assert.False(t, again.CompletedAt.IsZero())
}

func TestSweep(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now), WithRetention(time.Hour))

	require.NoError(t, s.Create("old-pending", "u", "n", nil))
	require.NoError(t, s.Create("old-done", "u", "n", nil))
	s.Complete("old-done", nil)

	clk.Advance(30 * time.Minute)
	require.NoError(t, s.Create("fresh", "u", "n", nil))

	assert.Equal(t, 0, s.Sweep(), "nothing past retention yet")

	clk.Advance(31 * time.Minute)
	assert.Equal(t, 2, s.Sweep())

	_, err := s.Get("old-pending")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.Get("old-done")
	assert.ErrorIs(t, err, ErrJobNotFound, "terminal jobs expire too")

	_, err = s.Get("fresh")
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestSweep_CallbackAfterExpiry(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now))
	require.NoError(t, s.Create("j", "u", "n", nil))

	clk.Advance(2 * time.Hour)
	s.Sweep()

	assert.Equal(t, UnknownJob, s.Complete("j", []model.Contact{{Name: "A"}}))
	_, err := s.Get("j")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStartStop(t *testing.T) {
	clk := newClock()
	s := NewStore(
		WithClock(clk.Now),
		WithRetention(time.Minute),
		WithSweepInterval(5*time.Millisecond),
	)
	require.NoError(t, s.Create("j", "u", "n", nil))
	clk.Advance(2 * time.Minute)

	s.Start(context.Background())
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestStop_WithoutStart(t *testing.T) {
	s := NewStore()
	assert.NotPanics(t, s.Stop)
}

func TestStart_ContextCancel(t *testing.T) {
	s := NewStore(WithSweepInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	const n = 50

	var wg sync.WaitGroup
	for i := range n {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, s.Create(id, "u", "n", nil))

		wg.Add(3)
		go func() {
			defer wg.Done()
			s.Complete(id, []model.Contact{{Name: "A"}})
		}()
		go func() {
			defer wg.Done()
			s.Fail(id, "late")
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Get(id)
			s.Sweep()
		}()
	}
	wg.Wait()

	for i := range n {
		job, err := s.Get(fmt.Sprintf("job-%d", i))
		require.NoError(t, err)
		assert.True(t, job.Status.Terminal())
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
