package timeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/roamio/tripchat/internal/chat"
)

var base = time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

func confirmedMessage(id string, offset time.Duration) chat.Message {
	return chat.Message{
		ID:        id,
		TripID:    "trip-1",
		Content:   "msg " + id,
		Sender:    chat.Sender{ID: "user-1", Name: "Ana"},
		CreatedAt: base.Add(offset),
	}
}

func ids(entries []chat.MessageWithStatus) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestAppendOrMergeKeepsOrderingUnderInterleaving(t *testing.T) {
	store := NewStore()

	store.AppendOrMerge("trip-1", confirmedMessage("m3", 3*time.Minute), chat.StatusSent)
	store.AppendOrMerge("trip-1", confirmedMessage("m1", 1*time.Minute), chat.StatusSent)
	store.AppendOrMerge("trip-1", confirmedMessage("m2", 2*time.Minute), chat.StatusSent)

	got := ids(store.Snapshot("trip-1"))
	want := []string{"m1", "m2", "m3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestAppendOrMergeReplacesExistingByID(t *testing.T) {
	store := NewStore()
	store.AppendOrMerge("trip-1", confirmedMessage("m1", 0), chat.StatusSent)

	edited := confirmedMessage("m1", 0)
	edited.Content = "edited"
	edited.UpdatedAt = base.Add(time.Hour)
	store.AppendOrMerge("trip-1", edited, chat.StatusSent)

	entries := store.Snapshot("trip-1")
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].Content != "edited" {
		t.Fatalf("content = %q, want %q", entries[0].Content, "edited")
	}
}

func TestSendingEntriesTrailConfirmed(t *testing.T) {
	store := NewStore()

	pending := chat.Message{ID: "tmp_abc", TripID: "trip-1", Content: "hello", CreatedAt: base}
	store.AppendOrMerge("trip-1", pending, chat.StatusSending)
	store.AppendOrMerge("trip-1", confirmedMessage("m9", time.Hour), chat.StatusSent)

	got := ids(store.Snapshot("trip-1"))
	if got[0] != "m9" || got[1] != "tmp_abc" {
		t.Fatalf("order = %v, want confirmed before pending", got)
	}
}

func TestRemoveAbsentIsNoOp(t *testing.T) {
	store := NewStore()
	store.AppendOrMerge("trip-1", confirmedMessage("m1", 0), chat.StatusSent)

	store.Remove("trip-1", "never-seen")
	store.Remove("trip-1", "m1")
	store.Remove("trip-1", "m1")

	if n := store.Len("trip-1"); n != 0 {
		t.Fatalf("len = %d, want 0", n)
	}
}

func TestPrependMergesOlderWithoutDuplicates(t *testing.T) {
	store := NewStore()
	store.AppendOrMerge("trip-1", confirmedMessage("m20", 20*time.Minute), chat.StatusSent)
	store.AppendOrMerge("trip-1", confirmedMessage("m21", 21*time.Minute), chat.StatusSent)

	older := []chat.Message{
		confirmedMessage("m10", 10*time.Minute),
		confirmedMessage("m11", 11*time.Minute),
		confirmedMessage("m20", 20*time.Minute), // overlap with live tail
	}
	store.Prepend("trip-1", older)

	got := ids(store.Snapshot("trip-1"))
	want := []string{"m10", "m11", "m20", "m21"}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestResolveReplacesTempAtomically(t *testing.T) {
	store := NewStore()

	temp := chat.Message{ID: "tmp_abc", TripID: "trip-1", Content: "hello", CreatedAt: base}
	store.AppendOrMerge("trip-1", temp, chat.StatusSending)

	canonical := confirmedMessage("m50", 50*time.Minute)
	canonical.Content = "hello"
	store.Resolve("trip-1", "tmp_abc", canonical)

	entries := store.Snapshot("trip-1")
	if len(entries) != 1 {
		t.Fatalf("len = %d, want exactly one entry after reconciliation", len(entries))
	}
	if entries[0].ID != "m50" || entries[0].Status != chat.StatusSent {
		t.Fatalf("entry = %+v, want canonical sent message", entries[0])
	}
}

func TestMarkStatusDoesNotReorder(t *testing.T) {
	store := NewStore()
	store.AppendOrMerge("trip-1", chat.Message{ID: "tmp_a", TripID: "trip-1", CreatedAt: base}, chat.StatusSending)
	store.AppendOrMerge("trip-1", chat.Message{ID: "tmp_b", TripID: "trip-1", CreatedAt: base}, chat.StatusSending)

	if !store.MarkStatus("trip-1", "tmp_a", chat.StatusError, "network unreachable") {
		t.Fatal("expected entry to be marked")
	}

	entries := store.Snapshot("trip-1")
	if entries[0].ID != "tmp_a" || entries[1].ID != "tmp_b" {
		t.Fatalf("order changed: %v", ids(entries))
	}
	if entries[0].Status != chat.StatusError || entries[0].SendError != "network unreachable" {
		t.Fatalf("entry = %+v, want error status with cause", entries[0])
	}
	if store.MarkStatus("trip-1", "missing", chat.StatusSent, "") {
		t.Fatal("expected false for unknown id")
	}
}

func TestTripsAreIndependent(t *testing.T) {
	store := NewStore()
	for i := range 5 {
		msg := confirmedMessage(fmt.Sprintf("m%d", i), time.Duration(i)*time.Minute)
		msg.TripID = "trip-a"
		store.AppendOrMerge("trip-a", msg, chat.StatusSent)
	}

	if n := store.Len("trip-b"); n != 0 {
		t.Fatalf("trip-b len = %d, want 0", n)
	}
	store.Drop("trip-a")
	if n := store.Len("trip-a"); n != 0 {
		t.Fatalf("trip-a len after drop = %d, want 0", n)
	}
}
