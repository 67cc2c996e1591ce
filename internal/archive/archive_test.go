package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/perchworks/gangway/internal/chat"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertIdempotent(t *testing.T) {
	s := openTestStore(t)
	ts := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)

	m := chat.Message{ID: "m1", Role: "assistant", Content: "Hel", Timestamp: ts}
	if err := s.UpsertMessage("p1", m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	m.Content = "Hello"
	if err := s.UpsertMessage("p1", m); err != nil {
		t.Fatalf("upsert grown: %v", err)
	}
	if err := s.UpsertMessage("p1", m); err != nil {
		t.Fatalf("re-deliver: %v", err)
	}

	msgs, err := s.Messages("p1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "Hello" {
		t.Errorf("content = %q, want Hello", msgs[0].Content)
	}
}

func TestArrivalOrderSurvivesUpdates(t *testing.T) {
	s := openTestStore(t)
	s.UpsertMessage("p1", chat.Message{ID: "m1", Content: "a"})
	s.UpsertMessage("p1", chat.Message{ID: "m2", Content: "b"})
	s.UpsertMessage("p1", chat.Message{ID: "m1", Content: "a-final"})

	msgs, err := s.Messages("p1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("order = %v, want [m1 m2]", msgs)
	}
	if msgs[0].Content != "a-final" {
		t.Errorf("m1 content = %q", msgs[0].Content)
	}
}

func TestTranscriptsAreSeparate(t *testing.T) {
	s := openTestStore(t)
	s.UpsertMessage("p1", chat.Message{ID: "m1", Content: "one"})
	s.UpsertMessage("p2", chat.Message{ID: "m1", Content: "two"})

	p1, _ := s.Messages("p1")
	p2, _ := s.Messages("p2")
	if len(p1) != 1 || len(p2) != 1 || p1[0].Content != "one" || p2[0].Content != "two" {
		t.Errorf("transcripts leaked: %v / %v", p1, p2)
	}
}

func TestDeleteTranscript(t *testing.T) {
	s := openTestStore(t)
	s.UpsertMessage("p1", chat.Message{ID: "m1", Content: "x"})
	if err := s.DeleteTranscript("p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	msgs, _ := s.Messages("p1")
	if len(msgs) != 0 {
		t.Errorf("messages survived delete: %v", msgs)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.UpsertMessage("p1", chat.Message{ID: "m1", Content: "persisted"})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	msgs, _ := s.Messages("p1")
	if len(msgs) != 1 || msgs[0].Content != "persisted" {
		t.Errorf("messages after reopen = %v", msgs)
	}
}
