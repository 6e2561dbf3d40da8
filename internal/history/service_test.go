package history

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"counsel-platform/internal/calls"
)

func TestAppendFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, slog.Default())

	err := svc.Append(context.Background(), Record{
		CallID:   "c1",
		CallerID: "alice",
		CalleeID: "bob",
		Outcome:  "ended",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ID == "" || recs[0].EndedAt.IsZero() {
		t.Fatalf("defaults not filled: %+v", recs[0])
	}
}

func TestAppendRejectsIncompleteRecord(t *testing.T) {
	svc := NewService(NewMemoryRepo(), slog.Default())
	err := svc.Append(context.Background(), Record{CallID: "c1"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestCallEndedComputesConnectedDuration(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, slog.Default())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.CallEnded(calls.Session{
		ID:          "c1",
		CallerID:    "alice",
		CalleeID:    "bob",
		State:       calls.StateEnded,
		EndReason:   calls.ReasonHangup,
		CreatedAt:   base,
		ConnectedAt: base.Add(5 * time.Second),
		EndedAt:     base.Add(95 * time.Second),
	})

	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].DurationSeconds != 90 {
		t.Fatalf("expected 90s, got %d", recs[0].DurationSeconds)
	}
	if recs[0].Outcome != string(calls.StateEnded) || recs[0].EndReason != calls.ReasonHangup {
		t.Fatalf("unexpected outcome %+v", recs[0])
	}
}

func TestCallEndedUnansweredHasZeroDuration(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, slog.Default())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.CallEnded(calls.Session{
		ID:        "c2",
		CallerID:  "alice",
		CalleeID:  "bob",
		State:     calls.StateEnded,
		EndReason: calls.ReasonTimeout,
		CreatedAt: base,
		EndedAt:   base.Add(30 * time.Second),
	})

	recs := repo.Records()
	if recs[0].DurationSeconds != 0 {
		t.Fatalf("unanswered call must have zero duration, got %d", recs[0].DurationSeconds)
	}
	if !recs[0].ConnectedAt.IsZero() {
		t.Fatalf("connected_at should stay zero")
	}
}
