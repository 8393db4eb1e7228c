package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

// dialect holds what differs between the SQL backends.
type dialect struct {
	name string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	schema   string
}

// SQLStore implements TurnStore and StepStore over database/sql. Queries
// are written with ? placeholders and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing %s schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func rebind(numbered bool, query string) string {
	if !numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) q(query string) string { return rebind(s.dialect.numbered, query) }

// InsertTurn appends a turn.
func (s *SQLStore) InsertTurn(ctx context.Context, turn entities.ConversationTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO turns (id, session_id, role, content, agent_label, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), turn.ID, turn.SessionID, string(turn.Role), turn.Content, turn.AgentLabel, turn.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// ListTurns returns a session's turns ordered by creation, ties by insertion.
func (s *SQLStore) ListTurns(ctx context.Context, sessionID string) ([]entities.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, session_id, role, content, agent_label, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY created_at, seq
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []entities.ConversationTurn
	for rows.Next() {
		var t entities.ConversationTurn
		var role string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &t.AgentLabel, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = entities.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// SaveStep creates or replaces the step linked to step.SessionID.
func (s *SQLStore) SaveStep(ctx context.Context, step entities.Step) error {
	if step.Status == "" {
		step.Status = entities.StepPending
	}
	var completedAt sql.NullTime
	if !step.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: step.CompletedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO steps (id, session_id, project_id, phase, level, status, deliverable_title, document_key, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			id = excluded.id,
			project_id = excluded.project_id,
			phase = excluded.phase,
			level = excluded.level,
			status = excluded.status,
			deliverable_title = excluded.deliverable_title,
			document_key = excluded.document_key,
			completed_at = excluded.completed_at
	`), step.ID, step.SessionID, step.ProjectID, step.Phase, string(step.Level), string(step.Status),
		step.DeliverableTitle, step.DocumentKey, completedAt)
	if err != nil {
		return fmt.Errorf("saving step: %w", err)
	}
	return nil
}

const stepColumns = `id, session_id, project_id, phase, level, status, deliverable_title, document_key, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (entities.Step, error) {
	var step entities.Step
	var level, status string
	var completedAt sql.NullTime
	err := row.Scan(&step.ID, &step.SessionID, &step.ProjectID, &step.Phase, &level, &status,
		&step.DeliverableTitle, &step.DocumentKey, &completedAt)
	if err != nil {
		return entities.Step{}, err
	}
	step.Level = entities.LevelContext(level)
	step.Status = entities.StepStatus(status)
	if completedAt.Valid {
		step.CompletedAt = completedAt.Time
	}
	return step, nil
}

// StepBySession returns the step linked to a session.
func (s *SQLStore) StepBySession(ctx context.Context, sessionID string) (entities.Step, bool, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+stepColumns+` FROM steps WHERE session_id = ?`), sessionID)
	step, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Step{}, false, nil
	}
	if err != nil {
		return entities.Step{}, false, fmt.Errorf("querying step: %w", err)
	}
	return step, true, nil
}

// CompletedPriorSteps lists completed steps of a project below a phase.
func (s *SQLStore) CompletedPriorSteps(ctx context.Context, projectID string, beforePhase int) ([]entities.Step, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+stepColumns+`
		FROM steps
		WHERE project_id = ? AND phase < ? AND status = ?
		ORDER BY phase
	`), projectID, beforePhase, string(entities.StepCompleted))
	if err != nil {
		return nil, fmt.Errorf("querying prior steps: %w", err)
	}
	defer rows.Close()

	var steps []entities.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// MarkStepCompleted flips the session's step to completed. Only one of any
// concurrent callers sees a changed row.
func (s *SQLStore) MarkStepCompleted(ctx context.Context, sessionID string, rec entities.DeliverableRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE steps
		SET status = ?, deliverable_title = ?, document_key = ?, completed_at = ?
		WHERE session_id = ? AND status <> ?
	`), string(entities.StepCompleted), rec.Title, rec.DocumentKey, s.now().UTC(), sessionID, string(entities.StepCompleted))
	if err != nil {
		return false, fmt.Errorf("completing step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("completing step: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	_, ok, err := s.StepBySession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ports.ErrNotFound
	}
	return true, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var (
	_ ports.TurnStore = (*SQLStore)(nil)
	_ ports.StepStore = (*SQLStore)(nil)
)
