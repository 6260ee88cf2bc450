// Package approval persists drafted outreach emails awaiting a human
// decision.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-intake/internal/model"
)

var (
	// ErrNotFound is returned for unknown approval ids.
	ErrNotFound = eris.New("approval not found")
	// ErrAlreadyDecided is returned when deciding an approval that is no
	// longer pending.
	ErrAlreadyDecided = eris.New("approval already decided")
)

// DecisionHook runs after an approval is decided. Errors are logged and do
// not undo the decision.
type DecisionHook func(ctx context.Context, a model.Approval) error

// Store is a SQLite-backed approval store.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu    sync.RWMutex
	hooks []DecisionHook
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "approval: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "approval: exec %s", pragma)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS approvals (
	id            TEXT PRIMARY KEY,
	lead          TEXT NOT NULL,
	research      TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	qualification TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	feedback      TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	decided_at    INTEGER
);

CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status, created_at);
`

// Migrate creates the schema if needed.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "approval: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnDecision registers a hook run after every successful Decide.
func (s *Store) OnDecision(h DecisionHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Create stores a new pending approval. An empty ID is assigned a UUID.
func (s *Store) Create(ctx context.Context, a model.Approval) (*model.Approval, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = model.ApprovalPending
	a.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	a.DecidedAt = nil
	a.Feedback = ""

	leadJSON, err := json.Marshal(a.Lead)
	if err != nil {
		return nil, eris.Wrap(err, "approval: marshal lead")
	}
	qualJSON, err := json.Marshal(a.Qualification)
	if err != nil {
		return nil, eris.Wrap(err, "approval: marshal qualification")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, lead, research, email, qualification, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(leadJSON), a.Research, a.Email, string(qualJSON), string(a.Status), a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "approval: insert %s", a.ID)
	}

	zap.L().Info("approval: created",
		zap.String("approval_id", a.ID),
		zap.String("category", string(a.Qualification.Category)),
	)
	return &a, nil
}

const selectColumns = `SELECT id, lead, research, email, qualification, status, feedback, created_at, decided_at FROM approvals`

// Get returns one approval or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Approval, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "approval: get %s", id)
	}
	return a, nil
}

// ListPending returns pending approvals, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]model.Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(model.ApprovalPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "approval: list pending")
	}
	defer rows.Close()

	out := []model.Approval{}
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, eris.Wrap(err, "approval: scan")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "approval: iterate")
}

// Decide moves a pending approval to approved or rejected. Deciding twice
// returns ErrAlreadyDecided and leaves the first decision in place.
func (s *Store) Decide(ctx context.Context, id string, approved bool, feedback string) (*model.Approval, error) {
	status := model.ApprovalRejected
	if approved {
		status = model.ApprovalApproved
	}
	decidedAt := s.now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, feedback = ?, decided_at = ? WHERE id = ? AND status = ?`,
		string(status), feedback, decidedAt.UnixMilli(), id, string(model.ApprovalPending),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "approval: decide %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "approval: rows affected")
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyDecided
	}

	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	zap.L().Info("approval: decided",
		zap.String("approval_id", id),
		zap.String("status", string(a.Status)),
	)
	s.runHooks(ctx, *a)
	return a, nil
}

func (s *Store) runHooks(ctx context.Context, a model.Approval) {
	s.mu.RLock()
	hooks := append([]DecisionHook(nil), s.hooks...)
	s.mu.RUnlock()

	for _, h := range hooks {
		if err := h(ctx, a); err != nil {
			zap.L().Warn("approval: decision hook failed",
				zap.String("approval_id", a.ID),
				zap.Error(err),
			)
		}
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanApproval(row scannable) (*model.Approval, error) {
	var (
		a         model.Approval
		leadJSON  string
		qualJSON  string
		status    string
		createdMs int64
		decidedMs sql.NullInt64
	)
	if err := row.Scan(&a.ID, &leadJSON, &a.Research, &a.Email, &qualJSON, &status, &a.Feedback, &createdMs, &decidedMs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(leadJSON), &a.Lead); err != nil {
		return nil, eris.Wrap(err, "unmarshal lead")
	}
	if err := json.Unmarshal([]byte(qualJSON), &a.Qualification); err != nil {
		return nil, eris.Wrap(err, "unmarshal qualification")
	}
	a.Status = model.ApprovalStatus(status)
	a.CreatedAt = time.UnixMilli(createdMs).UTC()
	if decidedMs.Valid {
		t := time.UnixMilli(decidedMs.Int64).UTC()
		a.DecidedAt = &t
	}
	return &a, nil
}
