package services

import (
	"errors"
	"time"
)

// AnonymousIdentity namespaces progress and results for visitors that have
// not signed in.
const AnonymousIdentity = "anonymous"

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionScale          QuestionType = "scale"
)

// ChoiceOption is one selectable answer of a multiple-choice question. Value
// is what gets recorded; Pole feeds the type-tag rubric.
type ChoiceOption struct {
	Value    string `json:"value"`
	LabelKey string `json:"label_key"`
	Pole     string `json:"-"`
}

// Question carries a translation key, never display text; prompts may
// contain a {name} placeholder filled in for invited participants.
type Question struct {
	ID          string         `json:"id"`
	PromptKey   string         `json:"prompt_key"`
	Type        QuestionType   `json:"type"`
	Options     []ChoiceOption `json:"options,omitempty"`
	Min         int            `json:"min,omitempty"`
	Max         int            `json:"max,omitempty"`
	MinLabelKey string         `json:"min_label_key,omitempty"`
	MaxLabelKey string         `json:"max_label_key,omitempty"`
	Dimension   string         `json:"dimension,omitempty"`
}

// Answer is the recorded value for one question, discriminated by the
// question's type: Option for multiple choice, Scale for scale questions.
type Answer struct {
	Option string `json:"option,omitempty"`
	Scale  int    `json:"scale,omitempty"`
}

// AnswerSet addresses answers by question id; insertion order is irrelevant.
type AnswerSet map[string]Answer

// Outcome is the scoring engine's individual result: a type tag, dimension
// scores and optional narrative fragments. It is opaque to everything but
// the rubric that produced it.
type Outcome struct {
	TypeTag         string         `json:"type"`
	Scores          map[string]int `json:"scores,omitempty"`
	Traits          []string       `json:"traits,omitempty"`
	Strengths       []string       `json:"strengths,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// JointOutcome is computed from two participants' answer sets together.
// Summary is the one human-readable string the engine is allowed to persist.
type JointOutcome struct {
	Compatibility   int            `json:"compatibility"`
	Areas           map[string]int `json:"areas"`
	Summary         string         `json:"summary"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// ScoreFunc evaluates a complete answer set. JointScoreFunc evaluates two
// complete answer sets for partnered tests. Both must be deterministic and
// total over complete input; the engine guards completeness upstream.
type (
	ScoreFunc      func(answers AnswerSet) (*Outcome, error)
	JointScoreFunc func(a, b AnswerSet) (*JointOutcome, error)
)

// TestDefinition is immutable: loaded once per session, never mutated.
type TestDefinition struct {
	ID              string
	TitleKey        string
	Questions       []Question
	RequiresPartner bool
	RequiresAuth    bool
	Category        string
	Score           ScoreFunc
	ScoreJoint      JointScoreFunc
}

// SessionProgress is the resumable snapshot of an in-progress session. At
// most one exists per (testId, identityKey); saving overwrites.
type SessionProgress struct {
	TestID         string    `json:"test_id"`
	IdentityKey    string    `json:"identity_key"`
	QuestionIndex  int       `json:"question_index"`
	Answers        AnswerSet `json:"answers"`
	TotalQuestions int       `json:"total_questions"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ResultRecord is a completed Result. Immutable once created; re-completion
// writes a fresh record that supersedes the old one downstream.
type ResultRecord struct {
	ID          string    `json:"id"`
	TestID      string    `json:"test_id"`
	IdentityKey string    `json:"identity_key"`
	Answers     AnswerSet `json:"answers"`
	Outcome     *Outcome  `json:"outcome"`
	CompletedAt time.Time `json:"completed_at"`
}

// Invitation is a tokenized link addressed to one recipient. The token plus
// the link parameters are sufficient to resolve the source result without a
// server round trip when the local tier is the only available store.
type Invitation struct {
	Token          string    `json:"token"`
	TestID         string    `json:"test_id"`
	SourceResultID string    `json:"source_result_id"`
	InviterName    string    `json:"inviter_name"`
	InviterEmail   string    `json:"inviter_email,omitempty"`
	Recipient      string    `json:"recipient"`
	Category       string    `json:"category,omitempty"`
	Language       string    `json:"language"`
	Link           string    `json:"link"`
	Delivered      bool      `json:"delivered"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type ErrorCode string

const (
	ErrorInvalid         ErrorCode = "invalid"
	ErrorUnauthorized    ErrorCode = "unauthorized"
	ErrorForbidden       ErrorCode = "forbidden"
	ErrorNotFound        ErrorCode = "not_found"
	ErrorConflict        ErrorCode = "conflict"
	ErrorTooManyRequests ErrorCode = "too_many_requests"
	ErrorBadGateway      ErrorCode = "bad_gateway"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}
func NewTooManyRequestsError(msg string) error {
	return &ServiceError{Code: ErrorTooManyRequests, Message: msg}
}
func NewBadGatewayError(msg string) error { return &ServiceError{Code: ErrorBadGateway, Message: msg} }

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

var (
	// ErrTestNotFound is returned when a session references an unknown test.
	ErrTestNotFound = errors.New("test not found")
	// ErrIncompleteAnswers rejects scoring before every question is answered.
	ErrIncompleteAnswers = errors.New("answer set incomplete")
	// ErrInsufficientData is the fail-closed joint outcome for malformed or
	// missing peer data; callers degrade to the individual result.
	ErrInsufficientData = errors.New("insufficient data for joint scoring")
	// ErrResultNotFound is returned when neither tier can resolve a result id.
	ErrResultNotFound = errors.New("result not found")
	// ErrInvalidInvitation marks a missing, malformed or expired invitation
	// link; the visiting session cannot proceed as a partner-matched flow.
	ErrInvalidInvitation = errors.New("invalid invitation")
	// ErrCompletionInFlight rejects a duplicate completion for the same
	// session while persistence is still pending.
	ErrCompletionInFlight = errors.New("completion already in flight")
)
