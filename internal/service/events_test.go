package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Strob0t/FlowForge/internal/port/messagequeue"
)

// fakeQueue records subscriptions and published messages.
type fakeQueue struct {
	subjects  []string
	handlers  map[string]messagequeue.Handler
	cancelled bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, _ string, _ []byte) error { return nil }

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.subjects = append(q.subjects, subject)
	q.handlers[subject] = h
	return func() { q.cancelled = true }, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func TestStartEventLogger(t *testing.T) {
	q := newFakeQueue()
	cancel, err := StartEventLogger(context.Background(), q)
	if err != nil {
		t.Fatalf("StartEventLogger() error = %v", err)
	}

	wantSubject := messagequeue.SubjectRunState + ".>"
	if len(q.subjects) != 1 || q.subjects[0] != wantSubject {
		t.Fatalf("subscribed to %v, want [%s]", q.subjects, wantSubject)
	}

	h := q.handlers[wantSubject]
	data, _ := json.Marshal(messagequeue.RunStateEvent{
		RunID:    "r1",
		Name:     "etl",
		State:    "running",
		Attempts: 1,
	})
	if err := h(context.Background(), wantSubject, data); err != nil {
		t.Errorf("handler rejected a valid event: %v", err)
	}
	if err := h(context.Background(), wantSubject, []byte("not json")); err == nil {
		t.Error("handler accepted a malformed event, want decode error for redelivery")
	}

	cancel()
	if !q.cancelled {
		t.Error("cancel did not release the subscription")
	}
}
