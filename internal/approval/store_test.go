package approval

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "approvals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleApproval() model.Approval {
	return model.Approval{
		Lead: model.Lead{
			Email:   "ada@acme.com",
			Name:    "Ada Lovelace",
			Company: "Acme",
			Message: "Looking for help with our pipeline.",
		},
		Research:      "Acme is a 200 person analytics company.",
		Email:         "Hi Ada,\n\nThanks for reaching out.",
		Qualification: model.Qualification{Category: model.CategoryQualified, Reason: "Budget and need"},
	}
}

func TestCreateAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, sampleApproval())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.ApprovalPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := st.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Ada Lovelace", got.Lead.Name)
	assert.Equal(t, model.CategoryQualified, got.Qualification.Category)
	assert.Equal(t, "Hi Ada,\n\nThanks for reaching out.", got.Email)
	assert.Equal(t, model.ApprovalPending, got.Status)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.DecidedAt)
}

func TestCreate_KeepsGivenID(t *testing.T) {
	st := newTestStore(t)
	a := sampleApproval()
	a.ID = "fixed-id"
	a.Status = model.ApprovalApproved

	created, err := st.Create(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", created.ID)
	assert.Equal(t, model.ApprovalPending, created.Status)

	_, err = st.Create(context.Background(), a)
	assert.Error(t, err, "duplicate id")
}

func TestGet_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := st.Create(ctx, sampleApproval())
	require.NoError(t, err)
	second, err := st.Create(ctx, sampleApproval())
	require.NoError(t, err)
	third, err := st.Create(ctx, sampleApproval())
	require.NoError(t, err)

	_, err = st.Decide(ctx, second.ID, true, "")
	require.NoError(t, err)

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)
}

func TestListPending_Empty(t *testing.T) {
	st := newTestStore(t)
	pending, err := st.ListPending(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		approved bool
		want     model.ApprovalStatus
	}{
		{name: "approve", approved: true, want: model.ApprovalApproved},
		{name: "reject", approved: false, want: model.ApprovalRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			ctx := context.Background()

			created, err := st.Create(ctx, sampleApproval())
			require.NoError(t, err)

			decided, err := st.Decide(ctx, created.ID, tt.approved, "looks good")
			require.NoError(t, err)
			assert.Equal(t, tt.want, decided.Status)
			assert.Equal(t, "looks good", decided.Feedback)
			require.NotNil(t, decided.DecidedAt)
		})
	}
}

func TestDecide_FirstDecisionWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.Create(ctx, sampleApproval())
	require.NoError(t, err)

	_, err = st.Decide(ctx, created.ID, true, "")
	require.NoError(t, err)

	_, err = st.Decide(ctx, created.ID, false, "changed my mind")
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	got, err := st.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, got.Status)
	assert.Empty(t, got.Feedback)
}

func TestDecide_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Decide(context.Background(), "missing", true, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecide_RunsHooks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []model.ApprovalStatus
	st.OnDecision(func(_ context.Context, a model.Approval) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, a.Status)
		return nil
	})
	st.OnDecision(func(context.Context, model.Approval) error {
		return errors.New("crm down")
	})

	created, err := st.Create(ctx, sampleApproval())
	require.NoError(t, err)

	decided, err := st.Decide(ctx, created.ID, true, "")
	require.NoError(t, err, "hook errors do not fail the decision")
	assert.Equal(t, model.ApprovalApproved, decided.Status)
	assert.Equal(t, []model.ApprovalStatus{model.ApprovalApproved}, seen)

	_, _ = st.Decide(ctx, created.ID, false, "")
	assert.Len(t, seen, 1, "hooks do not run for a repeated decision")
}

type fakeNotion struct {
	created int
	queried int
}

func (f *fakeNotion) QueryDatabase(context.Context, string, *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.queried++
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (f *fakeNotion) CreatePage(context.Context, *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	f.created++
	return &notionapi.Page{ID: "page-1"}, nil
}

func (f *fakeNotion) UpdatePage(context.Context, string, *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return &notionapi.Page{ID: "page-1"}, nil
}

func TestNotionRecorder(t *testing.T) {
	fn := &fakeNotion{}
	hook := NotionRecorder(fn, "leads-db")

	a := sampleApproval()
	a.Status = model.ApprovalRejected
	require.NoError(t, hook(context.Background(), a))
	assert.Zero(t, fn.created)
	assert.Zero(t, fn.queried)

	a.Status = model.ApprovalApproved
	require.NoError(t, hook(context.Background(), a))
	assert.Equal(t, 1, fn.queried)
	assert.Equal(t, 1, fn.created)
}
