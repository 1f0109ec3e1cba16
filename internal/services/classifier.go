package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/pkg/logger"
)

// Judgment is one classification of an assignee's recent text.
type Judgment struct {
	WorkType   models.WorkType `json:"work_type"`
	IsBlocked  bool            `json:"is_blocked"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

func NeutralJudgment() Judgment {
	return Judgment{WorkType: models.WorkTypeUnknown}
}

// AIContext converts j into the form stored on the assignment.
func (j Judgment) AIContext() models.AIContext {
	return models.AIContext{
		WorkType:   models.ParseWorkType(string(j.WorkType)),
		IsBlocked:  j.IsBlocked,
		Confidence: j.Confidence,
		Reasoning:  j.Reasoning,
	}
}

// ActivityClassifier infers work type and blocked state from free text.
type ActivityClassifier interface {
	Classify(ctx context.Context, text string) (Judgment, error)
}

// SafeClassify never fails: errors and panics degrade to the neutral judgment.
func SafeClassify(ctx context.Context, c ActivityClassifier, text string) (j Judgment, ok bool) {
	if c == nil || strings.TrimSpace(text) == "" {
		return NeutralJudgment(), false
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("[Classifier] classifier panicked, using neutral judgment")
			j, ok = NeutralJudgment(), false
		}
	}()

	j, err := c.Classify(ctx, text)
	if err != nil {
		logger.Warn().Err(err).Msg("[Classifier] classification failed, using neutral judgment")
		return NeutralJudgment(), false
	}
	j.WorkType = models.ParseWorkType(string(j.WorkType))
	if j.Confidence < 0 {
		j.Confidence = 0
	}
	if j.Confidence > 1 {
		j.Confidence = 1
	}
	return j, true
}

const maxClassifierText = 6000

// ClassifierText joins the text of new events, newest last, capped to keep
// prompts bounded.
func ClassifierText(events []models.ActivityEvent) string {
	var b strings.Builder
	for _, e := range events {
		if !e.Kind.HasText() || strings.TrimSpace(e.Payload) == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s %s] %s\n", e.Kind, e.Timestamp.Format("2006-01-02"), strings.TrimSpace(e.Payload))
	}
	out := b.String()
	if len(out) > maxClassifierText {
		out = out[len(out)-maxClassifierText:]
	}
	return out
}

type keywordRule struct {
	workType models.WorkType
	pattern  *regexp.Regexp
}

var (
	keywordRules = []keywordRule{
		{models.WorkTypeTesting, regexp.MustCompile(`(?i)\b(tests?|testing|unit test|e2e|coverage|flaky|reproduc\w*)\b`)},
		{models.WorkTypeDocumentation, regexp.MustCompile(`(?i)\b(docs?|documentation|readme|typo|changelog|docstring)\b`)},
		{models.WorkTypeResearch, regexp.MustCompile(`(?i)\b(investigat\w*|research\w*|root cause|digging|looking into|benchmark\w*|profil\w*)\b`)},
		{models.WorkTypePlanning, regexp.MustCompile(`(?i)\b(design|proposal|rfc|plan(ning)?|approach|architecture|spec)\b`)},
		{models.WorkTypeCoding, regexp.MustCompile(`(?i)\b(implement\w*|fix(ed|ing)?|refactor\w*|pr|pull request|commit\w*|patch|wip|feat)\b`)},
	}
	blockedPattern = regexp.MustCompile(`(?i)\b(blocked|waiting (on|for)|stuck|depends on|need(s)? (help|review|access)|can'?t proceed|on hold)\b`)
)

// KeywordClassifier is a rule-based classifier with no external calls.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(_ context.Context, text string) (Judgment, error) {
	counts := make(map[models.WorkType]int)
	best, bestCount, total := models.WorkTypeUnknown, 0, 0
	for _, r := range keywordRules {
		n := len(r.pattern.FindAllStringIndex(text, -1))
		counts[r.workType] = n
		total += n
		if n > bestCount {
			best, bestCount = r.workType, n
		}
	}

	j := Judgment{WorkType: best, IsBlocked: blockedPattern.MatchString(text)}
	if total > 0 {
		// Dominance of the winning category, scaled into [0.3, 0.7].
		j.Confidence = 0.3 + 0.4*float64(bestCount)/float64(total)
	} else if j.IsBlocked {
		j.Confidence = 0.4
	}

	var matched []string
	for _, r := range keywordRules {
		if counts[r.workType] > 0 {
			matched = append(matched, fmt.Sprintf("%s=%d", r.workType, counts[r.workType]))
		}
	}
	j.Reasoning = "keyword match"
	if len(matched) > 0 {
		j.Reasoning += ": " + strings.Join(matched, ", ")
	}
	if j.IsBlocked {
		j.Reasoning += "; blocking language found"
	}
	return j, nil
}

// ChainClassifier tries each classifier in order and returns the first success.
type ChainClassifier struct {
	classifiers []ActivityClassifier
}

func NewChainClassifier(classifiers ...ActivityClassifier) *ChainClassifier {
	return &ChainClassifier{classifiers: classifiers}
}

func (c *ChainClassifier) Classify(ctx context.Context, text string) (Judgment, error) {
	var lastErr error
	for _, cl := range c.classifiers {
		if cl == nil {
			continue
		}
		j, err := cl.Classify(ctx, text)
		if err == nil {
			return j, nil
		}
		lastErr = err
		logger.Debugf("[Classifier] %T failed: %v, trying next", cl, err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no classifier configured")
	}
	return Judgment{}, lastErr
}
