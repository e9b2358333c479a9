package services

import "fmt"

// ScoringEngine invokes a definition's scoring functions after validating
// that the answer sets are complete and well-typed. Rubrics stay on the
// TestDefinition; the engine owns invocation and validation only.
type ScoringEngine struct{}

func NewScoringEngine() *ScoringEngine { return &ScoringEngine{} }

// ValidateAnswers checks that every question has an answer of the right
// shape: a known option for multiple choice, an in-range integer for scale.
func (e *ScoringEngine) ValidateAnswers(def *TestDefinition, answers AnswerSet) error {
	if def == nil {
		return ErrTestNotFound
	}
	for _, q := range def.Questions {
		ans, ok := answers[q.ID]
		if !ok {
			return fmt.Errorf("question %s: %w", q.ID, ErrIncompleteAnswers)
		}
		if err := validateAnswer(q, ans); err != nil {
			return err
		}
	}
	return nil
}

func validateAnswer(q Question, ans Answer) error {
	switch q.Type {
	case QuestionMultipleChoice:
		for _, opt := range q.Options {
			if opt.Value == ans.Option {
				return nil
			}
		}
		return NewInvalidError(fmt.Sprintf("question %s: unknown option %q", q.ID, ans.Option))
	case QuestionScale:
		if ans.Scale < q.Min || ans.Scale > q.Max {
			return NewInvalidError(fmt.Sprintf("question %s: scale value %d outside [%d,%d]", q.ID, ans.Scale, q.Min, q.Max))
		}
		return nil
	default:
		return NewInvalidError(fmt.Sprintf("question %s: unsupported type %q", q.ID, q.Type))
	}
}

// Score evaluates a complete answer set with the definition's rubric.
func (e *ScoringEngine) Score(def *TestDefinition, answers AnswerSet) (*Outcome, error) {
	if err := e.ValidateAnswers(def, answers); err != nil {
		return nil, err
	}
	if def.Score == nil {
		return nil, NewInvalidError("test " + def.ID + " has no scoring function")
	}
	outcome, err := def.Score(answers)
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return nil, NewInvalidError("scoring produced no outcome")
	}
	return outcome, nil
}

// ScoreJoint evaluates two answer sets in joint mode. Malformed or
// incomplete peer data fails closed with ErrInsufficientData; the engine
// never substitutes defaults for a missing rubric input.
func (e *ScoringEngine) ScoreJoint(def *TestDefinition, a, b AnswerSet) (*JointOutcome, error) {
	if def == nil {
		return nil, ErrTestNotFound
	}
	if def.ScoreJoint == nil {
		return nil, ErrInsufficientData
	}
	if err := e.ValidateAnswers(def, a); err != nil {
		return nil, ErrInsufficientData
	}
	if err := e.ValidateAnswers(def, b); err != nil {
		return nil, ErrInsufficientData
	}
	joint, err := def.ScoreJoint(a, b)
	if err != nil {
		return nil, err
	}
	if joint == nil || joint.Compatibility < 0 || joint.Compatibility > 100 {
		return nil, ErrInsufficientData
	}
	return joint, nil
}
