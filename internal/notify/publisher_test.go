package notify

import (
	"log/slog"
	"testing"
	"time"
)

type recordingSender struct {
	to   []string
	msgs []any
}

func (r *recordingSender) Route(userID string, msg any) int {
	r.to = append(r.to, userID)
	r.msgs = append(r.msgs, msg)
	return len(r.to)
}

func TestPublishRoutesToIdentity(t *testing.T) {
	sender := &recordingSender{}
	f := NewFanout(sender, slog.Default())

	f.Publish("alice", map[string]string{"type": "call:incoming"})
	if len(sender.to) != 1 || sender.to[0] != "alice" {
		t.Fatalf("expected one delivery to alice, got %v", sender.to)
	}
}

func TestPresenceChangedEnvelope(t *testing.T) {
	sender := &recordingSender{}
	f := NewFanout(sender, slog.Default())
	f.clock = func() time.Time { return time.Unix(1700000000, 0) }

	f.PresenceChanged("bob", true)
	upd, ok := sender.msgs[0].(PresenceUpdate)
	if !ok {
		t.Fatalf("expected PresenceUpdate, got %T", sender.msgs[0])
	}
	if upd.Type != "presence:update" || upd.UserID != "bob" || !upd.Online || upd.At != 1700000000 {
		t.Fatalf("unexpected envelope %+v", upd)
	}
}
