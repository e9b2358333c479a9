package services

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jkweon/tandem/internal/kv"
)

func testSessionService() (*SessionService, *ProgressService, *ResultService) {
	local := kv.NewMemoryStore()
	progress := NewProgressService(local)
	results := NewResultService(local, nil)
	sessions := NewSessionService(NewRegistry(), progress, results, NewScoringEngine())
	return sessions, progress, results
}

func TestStartUnknownTest(t *testing.T) {
	sessions, _, _ := testSessionService()
	if _, _, err := sessions.Start("no-such-test", "u1", false); !errors.Is(err, ErrTestNotFound) {
		t.Fatalf("want ErrTestNotFound, got %v", err)
	}
}

func TestStartAuthorizationGuard(t *testing.T) {
	sessions, _, _ := testSessionService()

	_, _, err := sessions.Start("couple-compatibility", "", false)
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("anonymous session on a protected test must be unauthorized, got %v", err)
	}

	// invitation links open protected tests for anonymous partners
	if _, _, err := sessions.Start("couple-compatibility", "", true); err != nil {
		t.Fatalf("invited anonymous session must be allowed: %v", err)
	}
	if _, _, err := sessions.Start("couple-compatibility", "u1", false); err != nil {
		t.Fatalf("authenticated session must be allowed: %v", err)
	}
	if _, _, err := sessions.Start("personality-type", "", false); err != nil {
		t.Fatalf("open test must allow anonymous sessions: %v", err)
	}
}

func TestResumeEqualsOneSitting(t *testing.T) {
	sessions, _, _ := testSessionService()
	def := NewRegistry().Get("personality-type")
	full := personalityAnswers("a")

	// one sitting
	ctxA, _, err := sessions.Start("personality-type", "u_single", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	oneSitting, err := sessions.Complete(ctxA, full)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	// answer-by-answer with an interruption and resume in between
	ctxB, _, err := sessions.Start("personality-type", "u_resumed", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answers := AnswerSet{}
	for i, q := range def.Questions {
		answers, _, err = sessions.RecordAnswer(ctxB, q.ID, full[q.ID], answers, i+1)
		if err != nil {
			t.Fatalf("record %s: %v", q.ID, err)
		}
		if i == 3 {
			// simulate leaving and coming back
			ctxB, prog, err := sessions.Start("personality-type", "u_resumed", false)
			if err != nil {
				t.Fatalf("restart session: %v", err)
			}
			if prog == nil || len(prog.Answers) != 4 || prog.QuestionIndex != 4 {
				t.Fatalf("resume snapshot wrong: %+v", prog)
			}
			answers = prog.Answers
			_ = ctxB
		}
	}
	resumed, err := sessions.Complete(ctxB, answers)
	if err != nil {
		t.Fatalf("complete resumed: %v", err)
	}

	if !reflect.DeepEqual(oneSitting.Outcome, resumed.Outcome) {
		t.Fatalf("resumed session must score identically: %+v vs %+v", oneSitting.Outcome, resumed.Outcome)
	}
}

func TestRecordAnswerValidates(t *testing.T) {
	sessions, _, _ := testSessionService()
	ctx, _, err := sessions.Start("personality-type", "u1", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := sessions.RecordAnswer(ctx, "bogus", Answer{Option: "a"}, AnswerSet{}, 1); err == nil {
		t.Fatalf("unknown question must be rejected")
	}
	if _, _, err := sessions.RecordAnswer(ctx, "pt1", Answer{Option: "z"}, AnswerSet{}, 1); err == nil {
		t.Fatalf("unknown option must be rejected")
	}
}

func TestCompleteClearsProgress(t *testing.T) {
	sessions, progress, _ := testSessionService()
	ctx, _, err := sessions.Start("personality-type", "u1", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := sessions.RecordAnswer(ctx, "pt1", Answer{Option: "a"}, AnswerSet{}, 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	if progress.Load("personality-type", "u1") == nil {
		t.Fatalf("progress should exist before completion")
	}
	if _, err := sessions.Complete(ctx, personalityAnswers("a")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if progress.Load("personality-type", "u1") != nil {
		t.Fatalf("completion must clear the snapshot")
	}
}

func TestRestartClearsProgress(t *testing.T) {
	sessions, progress, _ := testSessionService()
	ctx, _, err := sessions.Start("personality-type", "u1", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := sessions.RecordAnswer(ctx, "pt1", Answer{Option: "b"}, AnswerSet{}, 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	sessions.Restart(ctx)
	if progress.Load("personality-type", "u1") != nil {
		t.Fatalf("restart must clear the snapshot")
	}
}

func TestCompleteConflictWhileInFlight(t *testing.T) {
	sessions, _, _ := testSessionService()
	ctx, _, err := sessions.Start("personality-type", "u1", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sessions.mu.Lock()
	sessions.inFlight["personality-type:u1"] = true
	sessions.mu.Unlock()

	_, err = sessions.Complete(ctx, personalityAnswers("a"))
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorConflict {
		t.Fatalf("duplicate completion must conflict, got %v", err)
	}
}

func TestCompleteRejectsIncomplete(t *testing.T) {
	sessions, _, _ := testSessionService()
	ctx, _, err := sessions.Start("personality-type", "u1", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	partial := personalityAnswers("a")
	delete(partial, "pt5")
	if _, err := sessions.Complete(ctx, partial); !errors.Is(err, ErrIncompleteAnswers) {
		t.Fatalf("incomplete completion must be rejected, got %v", err)
	}
}
