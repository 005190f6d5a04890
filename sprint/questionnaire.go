// Package sprint holds the founder-onboarding questionnaire and the task
// templates its answers unlock.
package sprint

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownStep    = errors.New("unknown sprint step")
	ErrStepNotOnPath  = errors.New("step is not on the current path")
	ErrInvalidAnswers = errors.New("invalid answers")
	ErrIncomplete     = errors.New("questionnaire is incomplete")
)

const maxTextAnswer = 2000

type Kind string

const (
	KindSingle Kind = "single"
	KindMulti  Kind = "multi"
	KindText   Kind = "text"
)

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type Question struct {
	Key      string   `json:"key"`
	Prompt   string   `json:"prompt"`
	Kind     Kind     `json:"kind"`
	Options  []Option `json:"options,omitempty"`
	Required bool     `json:"required"`
}

func (q Question) hasOption(v string) bool {
	for _, o := range q.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// Step is one page of the questionnaire. Next picks the following step from
// the answers so far; an empty string ends the questionnaire.
type Step struct {
	Key       string                 `json:"key"`
	Title     string                 `json:"title"`
	Questions []Question             `json:"questions"`
	Next      func(a Answers) string `json:"-"`
}

// Answers maps question keys to the selected values.
type Answers map[string][]string

// First returns the first value for key or "".
func (a Answers) First(key string) string {
	if v := a[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Has reports whether value is among the answers for key.
func (a Answers) Has(key, value string) bool {
	for _, v := range a[key] {
		if v == value {
			return true
		}
	}
	return false
}

// Any reports whether any of values was chosen for key.
func (a Answers) Any(key string, values ...string) bool {
	for _, v := range values {
		if a.Has(key, v) {
			return true
		}
	}
	return false
}

// ValidationError lists per-question problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "invalid answers: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidAnswers }

// Questionnaire is an ordered set of steps with branching.
type Questionnaire struct {
	steps []Step
	index map[string]int
}

func NewQuestionnaire(steps []Step) (*Questionnaire, error) {
	if len(steps) == 0 {
		return nil, errors.New("questionnaire has no steps")
	}
	q := &Questionnaire{steps: steps, index: make(map[string]int, len(steps))}
	seen := make(map[string]bool)
	for i, s := range steps {
		if _, dup := q.index[s.Key]; dup {
			return nil, fmt.Errorf("duplicate step %q", s.Key)
		}
		q.index[s.Key] = i
		for _, question := range s.Questions {
			if seen[question.Key] {
				return nil, fmt.Errorf("duplicate question %q", question.Key)
			}
			seen[question.Key] = true
		}
	}
	return q, nil
}

// Steps returns the step definitions in declaration order.
func (q *Questionnaire) Steps() []Step { return q.steps }

func (q *Questionnaire) Step(key string) (Step, bool) {
	i, ok := q.index[key]
	if !ok {
		return Step{}, false
	}
	return q.steps[i], true
}

// Plan projects the full path from the first step to the end with the
// current answers. Steps not yet answered branch on whatever is known.
func (q *Questionnaire) Plan(a Answers) []string {
	var path []string
	visited := make(map[string]bool)
	key := q.steps[0].Key
	for key != "" && !visited[key] {
		s, ok := q.Step(key)
		if !ok {
			break
		}
		visited[key] = true
		path = append(path, key)
		if s.Next == nil {
			break
		}
		key = s.Next(a)
	}
	return path
}

// Current returns the first step on the plan that still needs answers, or
// "" when every step on the plan is answered.
func (q *Questionnaire) Current(a Answers) string {
	for _, key := range q.Plan(a) {
		if !q.answered(key, a) {
			return key
		}
	}
	return ""
}

// Progress is the percentage of planned steps already answered.
func (q *Questionnaire) Progress(a Answers) int {
	plan := q.Plan(a)
	done := 0
	for _, key := range plan {
		if q.answered(key, a) {
			done++
		}
	}
	return done * 100 / len(plan)
}

// Validate checks answers submitted for one step.
func (q *Questionnaire) Validate(stepKey string, a Answers) error {
	s, ok := q.Step(stepKey)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStep, stepKey)
	}
	fields := make(map[string]string)
	known := make(map[string]bool, len(s.Questions))

	for _, question := range s.Questions {
		known[question.Key] = true
		values := nonEmpty(a[question.Key])
		if len(values) == 0 {
			if question.Required {
				fields[question.Key] = "is required"
			}
			continue
		}
		switch question.Kind {
		case KindSingle:
			if len(values) > 1 {
				fields[question.Key] = "accepts a single choice"
			} else if !question.hasOption(values[0]) {
				fields[question.Key] = fmt.Sprintf("%q is not an option", values[0])
			}
		case KindMulti:
			for _, v := range values {
				if !question.hasOption(v) {
					fields[question.Key] = fmt.Sprintf("%q is not an option", v)
					break
				}
			}
		case KindText:
			if len(values) > 1 {
				fields[question.Key] = "accepts a single answer"
			} else if len(values[0]) > maxTextAnswer {
				fields[question.Key] = fmt.Sprintf("must be at most %d characters", maxTextAnswer)
			}
		}
	}
	for key := range a {
		if !known[key] {
			fields[key] = "is not a question on this step"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Submit validates answers for stepKey and merges them into current. The
// step must be on the plan and not ahead of the current step. Answers that
// belong to steps which fall off the new plan are dropped. next is the step
// to show after this one, "" when the questionnaire is finished.
func (q *Questionnaire) Submit(current Answers, stepKey string, a Answers) (merged Answers, next string, err error) {
	if _, ok := q.Step(stepKey); !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownStep, stepKey)
	}

	plan := q.Plan(current)
	pos := indexOf(plan, stepKey)
	if pos < 0 {
		return nil, "", fmt.Errorf("%w: %q", ErrStepNotOnPath, stepKey)
	}
	if cur := q.Current(current); cur != "" && pos > indexOf(plan, cur) {
		return nil, "", fmt.Errorf("%w: %q comes after %q", ErrStepNotOnPath, stepKey, cur)
	}
	if err := q.Validate(stepKey, a); err != nil {
		return nil, "", err
	}

	s, _ := q.Step(stepKey)
	merged = make(Answers, len(current)+len(a))
	for k, v := range current {
		merged[k] = v
	}
	for _, question := range s.Questions {
		delete(merged, question.Key)
		if v := nonEmpty(a[question.Key]); len(v) > 0 {
			merged[question.Key] = v
		}
	}

	merged = q.prune(merged)
	if s.Next != nil {
		next = s.Next(merged)
	}
	if next == "" {
		next = q.Current(merged)
	}
	return merged, next, nil
}

// Complete returns ErrIncomplete unless every planned step is answered.
func (q *Questionnaire) Complete(a Answers) error {
	if cur := q.Current(a); cur != "" {
		return fmt.Errorf("%w: step %q needs answers", ErrIncomplete, cur)
	}
	return nil
}

func (q *Questionnaire) answered(stepKey string, a Answers) bool {
	s, ok := q.Step(stepKey)
	if !ok {
		return false
	}
	for _, question := range s.Questions {
		if question.Required && len(nonEmpty(a[question.Key])) == 0 {
			return false
		}
	}
	stepAnswers := make(Answers)
	for _, question := range s.Questions {
		if v, ok := a[question.Key]; ok {
			stepAnswers[question.Key] = v
		}
	}
	return q.Validate(stepKey, stepAnswers) == nil
}

func (q *Questionnaire) prune(a Answers) Answers {
	onPlan := make(map[string]bool)
	for _, key := range q.Plan(a) {
		s, _ := q.Step(key)
		for _, question := range s.Questions {
			onPlan[question.Key] = true
		}
	}
	for k := range a {
		if !onPlan[k] {
			delete(a, k)
		}
	}
	return a
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
