package usecases

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

const dispatchMemory = 4096

// DispatchResult reports what a dispatch achieved. The dispatcher never
// fails; partial outcomes are visible here and in the logs.
type DispatchResult struct {
	Duplicate        bool
	DocumentKey      string
	Location         string
	StepCompleted    bool
	AlreadyCompleted bool
}

// DeliverableDispatcher runs the side effects of a detected deliverable:
// render the PDF, store it, complete the step.
type DeliverableDispatcher struct {
	renderer  ports.PDFRenderer
	documents ports.DocumentStore
	steps     ports.StepStore
	seen      *lru.Cache[string, struct{}]
	log       *zap.Logger
}

// NewDeliverableDispatcher creates a dispatcher. renderer and documents may be
// nil, in which case only the step is completed.
func NewDeliverableDispatcher(renderer ports.PDFRenderer, documents ports.DocumentStore, steps ports.StepStore, log *zap.Logger) *DeliverableDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	seen, _ := lru.New[string, struct{}](dispatchMemory)
	return &DeliverableDispatcher{
		renderer:  renderer,
		documents: documents,
		steps:     steps,
		seen:      seen,
		log:       log,
	}
}

// OnDeliverableDetected fires at most once per messageID. Rendering or
// storage failure still completes the step, leaving the deliverable text in
// the transcript without a file.
func (d *DeliverableDispatcher) OnDeliverableDetected(ctx context.Context, sessionID, messageID string, payload entities.DeliverablePayload) (res DispatchResult) {
	log := d.log.With(
		zap.String("session_id", sessionID),
		zap.String("message_id", messageID),
		zap.String("title", payload.Title),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("deliverable dispatch panicked", zap.Any("panic", r))
		}
	}()

	if messageID != "" {
		if found, _ := d.seen.ContainsOrAdd(messageID, struct{}{}); found {
			log.Debug("deliverable already dispatched")
			return DispatchResult{Duplicate: true}
		}
	}

	res.DocumentKey, res.Location = d.renderAndStore(ctx, log, sessionID, messageID, payload)

	if d.steps == nil {
		return res
	}
	already, err := d.steps.MarkStepCompleted(ctx, sessionID, entities.DeliverableRecord{
		Title:       payload.Title,
		DocumentKey: res.DocumentKey,
	})
	switch {
	case err != nil:
		log.Warn("marking step completed", zap.Error(err))
	case already:
		res.AlreadyCompleted = true
		log.Info("step was already completed")
	default:
		res.StepCompleted = true
		log.Info("step completed", zap.String("document_key", res.DocumentKey))
	}
	return res
}

// renderAndStore returns the stored key and location, or empty strings on
// any failure. A panicking collaborator counts as a failure so the step
// still gets completed.
func (d *DeliverableDispatcher) renderAndStore(ctx context.Context, log *zap.Logger, sessionID, messageID string, payload entities.DeliverablePayload) (key, location string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("rendering or storing deliverable panicked", zap.Any("panic", r))
			key, location = "", ""
		}
	}()
	if d.renderer == nil || d.documents == nil {
		return "", ""
	}
	pdf, err := d.renderer.Render(ctx, payload.Title, payload.Content)
	if err != nil {
		log.Warn("rendering deliverable pdf", zap.Error(err))
		return "", ""
	}
	key = DocumentKey(sessionID, payload.Title, messageID)
	location, err = d.documents.Put(ctx, key, pdf, "application/pdf")
	if err != nil {
		log.Warn("storing deliverable pdf", zap.String("document_key", key), zap.Error(err))
		return "", ""
	}
	return key, location
}

// DocumentKey is the storage key of a rendered deliverable.
func DocumentKey(sessionID, title, messageID string) string {
	return fmt.Sprintf("%s/%s-%s.pdf", sessionID, Slug(title), messageID)
}

// Slug turns a title into a lowercase ASCII path segment.
func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range fold(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 60 {
			break
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "entregable"
	}
	return s
}
