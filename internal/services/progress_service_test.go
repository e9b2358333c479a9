package services

import (
	"errors"
	"testing"
	"time"

	"github.com/jkweon/tandem/internal/kv"
)

type failingStore struct {
	kv.Store
}

func (s *failingStore) Set(key, value string) error { return errors.New("disk full") }

func TestProgressSaveLoadClear(t *testing.T) {
	svc := NewProgressService(kv.NewMemoryStore())
	svc.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }

	answers := AnswerSet{"cc1": {Scale: 3}, "cc2": {Scale: 4}}
	if _, err := svc.Save("couple-compatibility", "u1", 2, answers, 10); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := svc.Load("couple-compatibility", "u1")
	if got == nil {
		t.Fatalf("expected resumable progress")
	}
	if got.QuestionIndex != 2 || got.TotalQuestions != 10 || len(got.Answers) != 2 {
		t.Fatalf("snapshot mismatch: %+v", got)
	}
	if got.Answers["cc2"].Scale != 4 {
		t.Fatalf("answer lost in round trip")
	}

	// identities never see each other's progress
	if svc.Load("couple-compatibility", "u2") != nil {
		t.Fatalf("progress leaked across identities")
	}

	svc.Clear("couple-compatibility", "u1")
	if svc.Load("couple-compatibility", "u1") != nil {
		t.Fatalf("progress should be gone after clear")
	}
}

func TestProgressSaveOverwrites(t *testing.T) {
	svc := NewProgressService(kv.NewMemoryStore())
	svc.Save("personality-type", AnonymousIdentity, 1, AnswerSet{"pt1": {Option: "a"}}, 8)
	svc.Save("personality-type", AnonymousIdentity, 3, AnswerSet{"pt1": {Option: "a"}, "pt2": {Option: "b"}, "pt3": {Option: "a"}}, 8)

	got := svc.Load("personality-type", AnonymousIdentity)
	if got == nil || got.QuestionIndex != 3 || len(got.Answers) != 3 {
		t.Fatalf("latest snapshot should win: %+v", got)
	}
}

func TestProgressLoadIgnoresEmptySnapshot(t *testing.T) {
	svc := NewProgressService(kv.NewMemoryStore())
	svc.Save("personality-type", "u1", 0, AnswerSet{}, 8)
	if svc.Load("personality-type", "u1") != nil {
		t.Fatalf("snapshot without answers is not resumable")
	}
}

func TestProgressSaveFailureKeepsSnapshot(t *testing.T) {
	svc := NewProgressService(&failingStore{Store: kv.NewMemoryStore()})
	snap, err := svc.Save("personality-type", "u1", 1, AnswerSet{"pt1": {Option: "a"}}, 8)
	if err == nil {
		t.Fatalf("expected storage error")
	}
	if snap == nil || snap.Answers["pt1"].Option != "a" {
		t.Fatalf("in-memory snapshot must survive a storage failure")
	}
}
