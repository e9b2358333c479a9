package services

import (
	"fmt"
	"sort"
	"strings"
)

// Feedback360Categories are the reviewer-relationship variants of the
// feedback-360 test.
var Feedback360Categories = []string{"work", "friends", "family", "academic", "general"}

// Registry resolves immutable test definitions by id, including the
// generated per-category feedback-360 variants.
type Registry struct {
	defs map[string]*TestDefinition
}

func NewRegistry() *Registry {
	r := &Registry{defs: map[string]*TestDefinition{}}
	r.add(coupleCompatibilityDefinition())
	r.add(personalityTypeDefinition())
	for _, cat := range Feedback360Categories {
		r.add(feedback360Definition(cat))
	}
	return r
}

func (r *Registry) add(def *TestDefinition) { r.defs[def.ID] = def }

// Get returns the definition for id, or nil when unknown.
func (r *Registry) Get(id string) *TestDefinition {
	return r.defs[strings.TrimSpace(id)]
}

// List returns all definition ids in stable order.
func (r *Registry) List() []string {
	out := make([]string, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PersonalizeQuestions substitutes the inviter's display name into prompt
// keys carrying a {name} placeholder. The originals are never mutated.
func PersonalizeQuestions(questions []Question, displayName string) []Question {
	out := make([]Question, len(questions))
	copy(out, questions)
	if strings.TrimSpace(displayName) == "" {
		return out
	}
	for i := range out {
		out[i].PromptKey = strings.ReplaceAll(out[i].PromptKey, "{name}", displayName)
	}
	return out
}

// --- couple compatibility ---

var coupleDimensions = []string{"communication", "lifestyle", "values", "intimacy", "future"}

func coupleCompatibilityDefinition() *TestDefinition {
	questions := make([]Question, 0, 10)
	for i, dim := range coupleDimensions {
		for j := 0; j < 2; j++ {
			n := i*2 + j + 1
			questions = append(questions, Question{
				ID:          fmt.Sprintf("cc%d", n),
				PromptKey:   fmt.Sprintf("tests.couple.q%d", n),
				Type:        QuestionScale,
				Min:         1,
				Max:         5,
				MinLabelKey: "tests.scale.disagree",
				MaxLabelKey: "tests.scale.agree",
				Dimension:   dim,
			})
		}
	}
	def := &TestDefinition{
		ID:              "couple-compatibility",
		TitleKey:        "tests.couple.title",
		Questions:       questions,
		RequiresPartner: true,
		RequiresAuth:    true,
	}
	def.Score = func(answers AnswerSet) (*Outcome, error) {
		return scoreScaleDimensions(def, answers, coupleTypeTag)
	}
	def.ScoreJoint = func(a, b AnswerSet) (*JointOutcome, error) {
		return scoreScaleAgreement(def, a, b, "joint.couple")
	}
	return def
}

func coupleTypeTag(overall int) string {
	switch {
	case overall >= 75:
		return "devoted"
	case overall >= 50:
		return "balanced"
	default:
		return "independent"
	}
}

// --- personality type ---

type personalityAxis struct {
	high, low string // e.g. E vs I; the dimension score is the high-pole share
	dimension string
}

var personalityAxes = []personalityAxis{
	{high: "E", low: "I", dimension: "energy"},
	{high: "S", low: "N", dimension: "information"},
	{high: "T", low: "F", dimension: "decisions"},
	{high: "J", low: "P", dimension: "structure"},
}

func personalityTypeDefinition() *TestDefinition {
	questions := make([]Question, 0, 8)
	for i, axis := range personalityAxes {
		for j := 0; j < 2; j++ {
			n := i*2 + j + 1
			questions = append(questions, Question{
				ID:        fmt.Sprintf("pt%d", n),
				PromptKey: fmt.Sprintf("tests.personality.q%d", n),
				Type:      QuestionMultipleChoice,
				Dimension: axis.dimension,
				Options: []ChoiceOption{
					{Value: "a", LabelKey: fmt.Sprintf("tests.personality.q%d.a", n), Pole: axis.high},
					{Value: "b", LabelKey: fmt.Sprintf("tests.personality.q%d.b", n), Pole: axis.low},
				},
			})
		}
	}
	def := &TestDefinition{
		ID:        "personality-type",
		TitleKey:  "tests.personality.title",
		Questions: questions,
	}
	def.Score = func(answers AnswerSet) (*Outcome, error) {
		return scorePersonality(def, answers)
	}
	return def
}

func scorePersonality(def *TestDefinition, answers AnswerSet) (*Outcome, error) {
	poleCounts := map[string]int{}
	for _, q := range def.Questions {
		ans := answers[q.ID]
		for _, opt := range q.Options {
			if opt.Value == ans.Option {
				poleCounts[opt.Pole]++
				break
			}
		}
	}
	var tag strings.Builder
	scores := make(map[string]int, len(personalityAxes))
	for _, axis := range personalityAxes {
		high := poleCounts[axis.high]
		low := poleCounts[axis.low]
		total := high + low
		if total == 0 {
			return nil, ErrIncompleteAnswers
		}
		if high >= low {
			tag.WriteString(axis.high)
		} else {
			tag.WriteString(axis.low)
		}
		scores[axis.dimension] = high * 100 / total
	}
	t := tag.String()
	return &Outcome{
		TypeTag:         t,
		Scores:          scores,
		Traits:          personalityNarrative("trait", t),
		Strengths:       personalityNarrative("strength", t),
		Recommendations: personalityNarrative("rec", t),
	}, nil
}

func personalityNarrative(kind, typeTag string) []string {
	out := make([]string, 0, len(typeTag))
	for _, letter := range typeTag {
		out = append(out, fmt.Sprintf("tests.personality.%s.%c", kind, letter))
	}
	return out
}

// --- feedback 360 ---

var feedback360Dimensions = []string{"collaboration", "empathy", "reliability"}

func feedback360Definition(category string) *TestDefinition {
	questions := make([]Question, 0, 6)
	for i, dim := range feedback360Dimensions {
		for j := 0; j < 2; j++ {
			n := i*2 + j + 1
			questions = append(questions, Question{
				ID:          fmt.Sprintf("fb%d", n),
				PromptKey:   fmt.Sprintf("tests.feedback360.%s.q%d.{name}", category, n),
				Type:        QuestionScale,
				Min:         1,
				Max:         5,
				MinLabelKey: "tests.scale.rarely",
				MaxLabelKey: "tests.scale.often",
				Dimension:   dim,
			})
		}
	}
	def := &TestDefinition{
		ID:           "feedback-360-" + category,
		TitleKey:     "tests.feedback360.title",
		Questions:    questions,
		RequiresAuth: true,
		Category:     category,
	}
	def.Score = func(answers AnswerSet) (*Outcome, error) {
		return scoreScaleDimensions(def, answers, func(overall int) string {
			switch {
			case overall >= 75:
				return "strong"
			case overall >= 50:
				return "steady"
			default:
				return "emerging"
			}
		})
	}
	// self-versus-reviewer agreement reuses the pairwise rubric
	def.ScoreJoint = func(a, b AnswerSet) (*JointOutcome, error) {
		return scoreScaleAgreement(def, a, b, "joint.feedback360")
	}
	return def
}

// --- shared scale rubrics ---

// scoreScaleDimensions maps each dimension's raw scale answers onto 0..100
// and tags the outcome by the overall mean.
func scoreScaleDimensions(def *TestDefinition, answers AnswerSet, tag func(overall int) string) (*Outcome, error) {
	sums := map[string]int{}
	counts := map[string]int{}
	for _, q := range def.Questions {
		ans, ok := answers[q.ID]
		if !ok {
			return nil, ErrIncompleteAnswers
		}
		span := q.Max - q.Min
		if span <= 0 {
			span = 1
		}
		sums[q.Dimension] += (ans.Scale - q.Min) * 100 / span
		counts[q.Dimension]++
	}
	scores := make(map[string]int, len(sums))
	total := 0
	for dim, sum := range sums {
		scores[dim] = sum / counts[dim]
		total += scores[dim]
	}
	overall := total / len(scores)
	return &Outcome{TypeTag: tag(overall), Scores: scores}, nil
}

// scoreScaleAgreement computes pairwise similarity per dimension: identical
// answers score 100, maximally distant answers score 0.
func scoreScaleAgreement(def *TestDefinition, a, b AnswerSet, keyPrefix string) (*JointOutcome, error) {
	sums := map[string]int{}
	counts := map[string]int{}
	for _, q := range def.Questions {
		av, okA := a[q.ID]
		bv, okB := b[q.ID]
		if !okA || !okB {
			return nil, ErrInsufficientData
		}
		span := q.Max - q.Min
		if span <= 0 {
			span = 1
		}
		diff := av.Scale - bv.Scale
		if diff < 0 {
			diff = -diff
		}
		if diff > span {
			return nil, ErrInsufficientData
		}
		sums[q.Dimension] += (span - diff) * 100 / span
		counts[q.Dimension]++
	}
	areas := make(map[string]int, len(sums))
	total := 0
	for dim, sum := range sums {
		areas[dim] = sum / counts[dim]
		total += areas[dim]
	}
	compatibility := total / len(areas)
	recs := []string{}
	for _, dim := range sortedKeys(areas) {
		if areas[dim] < 60 {
			recs = append(recs, fmt.Sprintf("%s.rec.%s", keyPrefix, dim))
		}
	}
	return &JointOutcome{
		Compatibility:   compatibility,
		Areas:           areas,
		Summary:         agreementSummary(compatibility),
		Recommendations: recs,
	}, nil
}

func agreementSummary(compatibility int) string {
	switch {
	case compatibility >= 80:
		return "You are remarkably in tune; your answers align on almost every area."
	case compatibility >= 60:
		return "You align well overall, with a few areas worth talking through."
	case compatibility >= 40:
		return "You see several things differently; the areas below show where."
	default:
		return "Your answers diverge widely; treat this as a conversation starter, not a verdict."
	}
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
