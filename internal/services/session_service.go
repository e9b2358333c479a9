package services

import "sync"

// SessionContext threads one test-taking attempt through the engine:
// constructed once per attempt, never shared across unrelated attempts.
type SessionContext struct {
	Def           *TestDefinition
	IdentityKey   string
	ViaInvitation bool
}

// SessionService coordinates progress recording, completion and restart
// for one participant's session.
type SessionService struct {
	registry *Registry
	progress *ProgressService
	results  *ResultService
	engine   *ScoringEngine

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewSessionService(registry *Registry, progress *ProgressService, results *ResultService, engine *ScoringEngine) *SessionService {
	return &SessionService{
		registry: registry,
		progress: progress,
		results:  results,
		engine:   engine,
		inFlight: map[string]bool{},
	}
}

// Start authorizes the attempt and returns the session context together
// with any resumable progress. The resume/restart decision belongs to the
// caller; no question is rendered before it is made.
func (s *SessionService) Start(testID, identityKey string, viaInvitation bool) (*SessionContext, *SessionProgress, error) {
	def := s.registry.Get(testID)
	if def == nil {
		return nil, nil, ErrTestNotFound
	}
	if identityKey == "" {
		identityKey = AnonymousIdentity
	}
	// single authorization guard: protected tests demand an authenticated
	// identity unless the session arrived through an invitation link
	if def.RequiresAuth && identityKey == AnonymousIdentity && !viaInvitation {
		return nil, nil, NewUnauthorizedError("sign in required for " + testID)
	}
	ctx := &SessionContext{Def: def, IdentityKey: identityKey, ViaInvitation: viaInvitation}
	return ctx, s.progress.Load(testID, identityKey), nil
}

// RecordAnswer merges one answer into the snapshot and saves write-through.
// The returned flag reports whether the snapshot reached storage; a false
// value means the in-memory session continues but is not durable.
func (s *SessionService) RecordAnswer(ctx *SessionContext, questionID string, answer Answer, answers AnswerSet, nextIndex int) (AnswerSet, bool, error) {
	q := findQuestion(ctx.Def, questionID)
	if q == nil {
		return answers, false, NewInvalidError("unknown question " + questionID)
	}
	if err := validateAnswer(*q, answer); err != nil {
		return answers, false, err
	}
	merged := make(AnswerSet, len(answers)+1)
	for k, v := range answers {
		merged[k] = v
	}
	merged[questionID] = answer
	_, err := s.progress.Save(ctx.Def.ID, ctx.IdentityKey, nextIndex, merged, len(ctx.Def.Questions))
	return merged, err == nil, nil
}

// Complete scores the finished answer set, persists the result and clears
// the progress snapshot. A duplicate completion for the same session while
// one is pending is rejected instead of double-persisting.
func (s *SessionService) Complete(ctx *SessionContext, answers AnswerSet) (*ResultRecord, error) {
	key := ctx.Def.ID + ":" + ctx.IdentityKey
	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		return nil, NewConflictError(ErrCompletionInFlight.Error())
	}
	s.inFlight[key] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	outcome, err := s.engine.Score(ctx.Def, answers)
	if err != nil {
		return nil, err
	}
	rec, err := s.results.Persist(ctx.IdentityKey, ctx.Def.ID, answers, outcome)
	if err != nil {
		return nil, err
	}
	s.progress.Clear(ctx.Def.ID, ctx.IdentityKey)
	return rec, nil
}

// Restart discards saved progress so the next question rendered is the
// first one.
func (s *SessionService) Restart(ctx *SessionContext) {
	s.progress.Clear(ctx.Def.ID, ctx.IdentityKey)
}

func findQuestion(def *TestDefinition, id string) *Question {
	for i := range def.Questions {
		if def.Questions[i].ID == id {
			return &def.Questions[i]
		}
	}
	return nil
}
