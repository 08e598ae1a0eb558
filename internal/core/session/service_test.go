package session

import (
	"strings"
	"testing"

	"github.com/90rdon/Nubela-Tasks/internal/repo/memory"
)

func TestCreateAndSummary(t *testing.T) {
	repo := memory.NewSessionRepo()
	svc := NewService(repo)

	sess := svc.Create("en-US", "Puck")
	if !strings.HasPrefix(sess.ID, "sess_") {
		t.Fatalf("id: %q", sess.ID)
	}
	if sess.Locale != "en-US" || sess.Voice != "Puck" {
		t.Fatalf("record: %+v", sess)
	}

	repo.IncFrames(sess.ID)
	repo.IncFrames(sess.ID)
	repo.IncToolCalls(sess.ID)
	repo.IncInterruptions(sess.ID)

	sum, ok := svc.Summary(sess.ID)
	if !ok {
		t.Fatal("summary not found")
	}
	if sum.FramesStreamed != 2 || sum.ToolCalls != 1 || sum.Interruptions != 1 {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestSummaryUnknownSession(t *testing.T) {
	svc := NewService(memory.NewSessionRepo())
	if _, ok := svc.Summary("sess_missing"); ok {
		t.Fatal("unknown session should not resolve")
	}
}

func TestCreateUniqueIDs(t *testing.T) {
	svc := NewService(memory.NewSessionRepo())
	a := svc.Create("", "")
	b := svc.Create("", "")
	if a.ID == b.ID {
		t.Fatal("session ids must be unique")
	}
}
