package services

import (
	"log"
	"time"

	"github.com/jkweon/tandem/internal/kv"
)

// ProgressService is the session state store: write-through snapshots of
// in-progress answers keyed per (testId, identityKey) on the local tier.
type ProgressService struct {
	store kv.Store
	now   func() time.Time
}

func NewProgressService(store kv.Store) *ProgressService {
	return &ProgressService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func progressKey(testID, identityKey string) string {
	return "progress:" + testID + ":" + identityKey
}

// Save persists a snapshot, overwriting any prior one for the same key.
// A storage failure is logged and reported but must never lose the
// in-memory session; callers keep going and tell the user saving failed.
func (s *ProgressService) Save(testID, identityKey string, questionIndex int, answers AnswerSet, totalQuestions int) (*SessionProgress, error) {
	progress := &SessionProgress{
		TestID:         testID,
		IdentityKey:    identityKey,
		QuestionIndex:  questionIndex,
		Answers:        answers,
		TotalQuestions: totalQuestions,
		LastUpdated:    s.now(),
	}
	if err := kv.SetJSON(s.store, progressKey(testID, identityKey), progress); err != nil {
		log.Printf("progress service: save %s/%s: %v", testID, identityKey, err)
		return progress, err
	}
	return progress, nil
}

// Load returns the last snapshot, or nil when none is resumable. A snapshot
// without answers is treated as no progress.
func (s *ProgressService) Load(testID, identityKey string) *SessionProgress {
	var progress SessionProgress
	ok, err := kv.GetJSON(s.store, progressKey(testID, identityKey), &progress)
	if err != nil {
		log.Printf("progress service: load %s/%s: %v", testID, identityKey, err)
		return nil
	}
	if !ok || progress.TestID != testID || len(progress.Answers) == 0 {
		return nil
	}
	return &progress
}

// Clear removes the snapshot; used on completion and explicit restart.
func (s *ProgressService) Clear(testID, identityKey string) {
	s.store.Delete(progressKey(testID, identityKey))
}
