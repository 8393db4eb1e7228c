// Package store provides TurnStore and StepStore adapters.
// The in-memory store suits development and tests; the SQL store persists to
// SQLite or Postgres through database/sql.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

// MemoryStore keeps turns and steps in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]entities.ConversationTurn // sessionID -> turns
	steps map[string]entities.Step               // sessionID -> step
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns: make(map[string][]entities.ConversationTurn),
		steps: make(map[string]entities.Step),
		now:   time.Now,
	}
}

// InsertTurn appends a turn.
func (s *MemoryStore) InsertTurn(ctx context.Context, turn entities.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return nil
}

// ListTurns returns a copy of a session's turns in insertion order.
func (s *MemoryStore) ListTurns(ctx context.Context, sessionID string) ([]entities.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.turns[sessionID]
	out := make([]entities.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

// SaveStep creates or replaces the step linked to step.SessionID.
func (s *MemoryStore) SaveStep(ctx context.Context, step entities.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if step.Status == "" {
		step.Status = entities.StepPending
	}
	s.steps[step.SessionID] = step
	return nil
}

// StepBySession returns the step linked to a session.
func (s *MemoryStore) StepBySession(ctx context.Context, sessionID string) (entities.Step, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	step, ok := s.steps[sessionID]
	return step, ok, nil
}

// CompletedPriorSteps lists completed steps of a project below a phase.
func (s *MemoryStore) CompletedPriorSteps(ctx context.Context, projectID string, beforePhase int) ([]entities.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entities.Step
	for _, step := range s.steps {
		if step.ProjectID == projectID && step.Phase < beforePhase && step.Completed() {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out, nil
}

// MarkStepCompleted flips the session's step to completed once.
func (s *MemoryStore) MarkStepCompleted(ctx context.Context, sessionID string, rec entities.DeliverableRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[sessionID]
	if !ok {
		return false, ports.ErrNotFound
	}
	if step.Completed() {
		return true, nil
	}
	step.Status = entities.StepCompleted
	step.DeliverableTitle = rec.Title
	step.DocumentKey = rec.DocumentKey
	step.CompletedAt = s.now()
	s.steps[sessionID] = step
	return false, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var (
	_ ports.TurnStore = (*MemoryStore)(nil)
	_ ports.StepStore = (*MemoryStore)(nil)
)
