package outbox

import (
	"testing"
	"time"

	"github.com/roamio/tripchat/internal/chat"
)

var enqueued = time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

func TestResolveFirstWriterWins(t *testing.T) {
	o := New()
	o.Track("tmp_abc", "user-1", "Hello", enqueued)

	if !o.Resolve("tmp_abc") {
		t.Fatal("first resolve should win")
	}
	if o.Resolve("tmp_abc") {
		t.Fatal("second resolve should observe nothing pending")
	}
	if o.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", o.Pending())
	}
}

func TestMarkErrorThenRetryReusesTempID(t *testing.T) {
	o := New()
	o.Track("tmp_abc", "user-1", "Hello", enqueued)

	if !o.MarkError("tmp_abc") {
		t.Fatal("expected sending -> error transition")
	}
	if o.MarkError("tmp_abc") {
		t.Fatal("error -> error should be rejected")
	}

	content, ok := o.MarkRetry("tmp_abc", enqueued.Add(time.Minute))
	if !ok {
		t.Fatal("expected error -> sending transition")
	}
	if content != "Hello" {
		t.Fatalf("content = %q, want %q", content, "Hello")
	}
	if _, ok := o.MarkRetry("tmp_abc", enqueued); ok {
		t.Fatal("retry while sending should be rejected")
	}
}

func TestResolveEchoPrefersCorrelationToken(t *testing.T) {
	o := New()
	o.Track("tmp_abc", "user-1", "Hello", enqueued)

	msg := chat.Message{
		ID:              "m1",
		Content:         "different content",
		Sender:          chat.Sender{ID: "user-1"},
		CreatedAt:       enqueued.Add(time.Second),
		ClientMessageID: "tmp_abc",
	}
	tempID, ok := o.ResolveEcho(msg)
	if !ok || tempID != "tmp_abc" {
		t.Fatalf("resolve echo = (%q, %v), want (tmp_abc, true)", tempID, ok)
	}
	if _, ok := o.ResolveEcho(msg); ok {
		t.Fatal("echo should not match twice")
	}
}

func TestResolveEchoFallbackHeuristic(t *testing.T) {
	o := New()
	o.Track("tmp_abc", "user-1", "Hello", enqueued)

	echo := chat.Message{
		ID:        "m1",
		Content:   "Hello",
		Sender:    chat.Sender{ID: "user-1"},
		CreatedAt: enqueued.Add(2 * time.Second),
	}
	tempID, ok := o.ResolveEcho(echo)
	if !ok || tempID != "tmp_abc" {
		t.Fatalf("resolve echo = (%q, %v), want heuristic match", tempID, ok)
	}
}

func TestResolveEchoFallbackRespectsWindowAndSender(t *testing.T) {
	o := New()
	o.Track("tmp_old", "user-1", "Hello", enqueued)
	o.Track("tmp_other", "user-2", "Hello", enqueued)

	late := chat.Message{
		ID:        "m1",
		Content:   "Hello",
		Sender:    chat.Sender{ID: "user-1"},
		CreatedAt: enqueued.Add(EchoMatchWindow + time.Second),
	}
	if _, ok := o.ResolveEcho(late); ok {
		t.Fatal("echo outside window should not match")
	}

	wrongSender := chat.Message{
		ID:        "m2",
		Content:   "Hello",
		Sender:    chat.Sender{ID: "user-3"},
		CreatedAt: enqueued,
	}
	if _, ok := o.ResolveEcho(wrongSender); ok {
		t.Fatal("echo from another sender should not match")
	}
}

func TestDetachStreamStopsEchoReconciliation(t *testing.T) {
	o := New()
	o.Track("tmp_abc", "user-1", "Hello", enqueued)
	o.DetachStream()

	echo := chat.Message{
		ID:              "m1",
		Content:         "Hello",
		Sender:          chat.Sender{ID: "user-1"},
		CreatedAt:       enqueued,
		ClientMessageID: "tmp_abc",
	}
	if _, ok := o.ResolveEcho(echo); ok {
		t.Fatal("detached outbox should ignore stream echoes")
	}
	// The HTTP acknowledgment path still resolves.
	if !o.Resolve("tmp_abc") {
		t.Fatal("http resolve should still apply after detach")
	}
}

func TestDiscardOnlyRemovesFailedEntries(t *testing.T) {
	o := New()
	o.Track("tmp_abc", "user-1", "Hello", enqueued)

	if o.Discard("tmp_abc") {
		t.Fatal("discard while sending should be rejected")
	}
	o.MarkError("tmp_abc")
	if !o.Discard("tmp_abc") {
		t.Fatal("expected discard of failed entry")
	}
	if o.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", o.Pending())
	}
}
