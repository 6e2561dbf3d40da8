package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"counsel-platform/internal/calls"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call-history records.
//
// It MUST be append-only. No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, r Record) error
}

var ErrInvalidRecord = errors.New("history: invalid record")

// Service turns terminal call sessions into durable records. Writes are
// best-effort and must stay off the signaling path; the service owns its own
// timeout per insert.
type Service struct {
	repo    Repository
	timeout time.Duration
	clock   func() time.Time
	log     *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		timeout: 5 * time.Second,
		clock:   time.Now,
		log:     log,
	}
}

func (s *Service) Append(ctx context.Context, r Record) error {
	if s.repo == nil {
		return errors.New("history: repository not configured")
	}
	if r.CallID == "" || r.CallerID == "" || r.CalleeID == "" {
		return ErrInvalidRecord
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, r)
}

// CallEnded satisfies the coordinator's history sink. It runs with its own
// deadline and logs failures instead of propagating them.
func (s *Service) CallEnded(snap calls.Session) {
	rec := Record{
		CallID:      snap.ID,
		CallerID:    snap.CallerID,
		CalleeID:    snap.CalleeID,
		Outcome:     string(snap.State),
		EndReason:   snap.EndReason,
		CreatedAt:   snap.CreatedAt,
		ConnectedAt: snap.ConnectedAt,
		EndedAt:     snap.EndedAt,
	}
	if !snap.ConnectedAt.IsZero() && snap.EndedAt.After(snap.ConnectedAt) {
		rec.DurationSeconds = int64(snap.EndedAt.Sub(snap.ConnectedAt).Seconds())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Append(ctx, rec); err != nil {
		s.log.Error("call history write failed", "call_id", snap.ID, "error", err)
	}
}
