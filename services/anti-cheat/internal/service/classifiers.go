// services/anti-cheat/internal/service/classifiers.go
package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"trust-defense/services/anti-cheat/internal/models"
)

// Classifier inspects one piece of content for one kind of violation.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, content models.Content) (models.Classification, error)
}

// KeywordClassifier matches text against a term list on word boundaries, so
// "loser" does not hit "closer". Multi-word terms tolerate any whitespace
// between their words.
type KeywordClassifier struct {
	name     string
	pattern  *regexp.Regexp
	severity models.Severity
	label    string
}

func NewKeywordClassifier(name, label string, terms []string, severity models.Severity) *KeywordClassifier {
	return &KeywordClassifier{name: name, pattern: termPattern(terms), severity: severity, label: label}
}

func termPattern(terms []string) *regexp.Regexp {
	alts := make([]string, 0, len(terms))
	for _, term := range terms {
		words := strings.Fields(strings.ToLower(term))
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `\s+`))
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func (k *KeywordClassifier) Name() string { return k.name }

func (k *KeywordClassifier) Classify(ctx context.Context, content models.Content) (models.Classification, error) {
	if content.Text == "" || k.pattern == nil {
		return models.Classification{}, nil
	}
	match := k.pattern.FindString(content.Text)
	if match == "" {
		return models.Classification{}, nil
	}
	term := strings.Join(strings.Fields(strings.ToLower(match)), " ")
	return models.Classification{
		Violated:    true,
		Confidence:  0.95,
		Description: fmt.Sprintf("Text contains %s (%q)", k.label, term),
		Severity:    k.severity,
	}, nil
}

// LabelClassifier checks tags attached by an upstream vision tagger. A tag is
// either "name" or "name:score"; a bare name counts as score 1.
type LabelClassifier struct {
	name      string
	labels    map[string]struct{}
	threshold float64
	severity  models.Severity
	label     string
}

func NewLabelClassifier(name, label string, labels []string, threshold float64, severity models.Severity) *LabelClassifier {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[strings.ToLower(l)] = struct{}{}
	}
	return &LabelClassifier{name: name, labels: set, threshold: threshold, severity: severity, label: label}
}

func (l *LabelClassifier) Name() string { return l.name }

func (l *LabelClassifier) Classify(ctx context.Context, content models.Content) (models.Classification, error) {
	best := 0.0
	bestTag := ""
	for _, raw := range content.Labels {
		tag, score, err := parseLabel(raw)
		if err != nil {
			return models.Classification{}, err
		}
		if _, ok := l.labels[tag]; ok && score > best {
			best, bestTag = score, tag
		}
	}
	if bestTag == "" || best < l.threshold {
		return models.Classification{Confidence: best}, nil
	}
	return models.Classification{
		Violated:    true,
		Confidence:  best,
		Description: fmt.Sprintf("Image tagged %s (%s, %.2f)", l.label, bestTag, best),
		Severity:    l.severity,
	}, nil
}

func parseLabel(raw string) (string, float64, error) {
	name, scoreText, found := strings.Cut(strings.TrimSpace(raw), ":")
	name = strings.ToLower(name)
	if !found {
		return name, 1.0, nil
	}
	score, err := strconv.ParseFloat(scoreText, 64)
	if err != nil || score < 0 || score > 1 {
		return "", 0, fmt.Errorf("%w: bad label score %q", ErrInvalidInput, raw)
	}
	return name, score, nil
}

// FacePresenceClassifier rejects images that must show a face but do not.
// Unknown face state passes.
type FacePresenceClassifier struct{}

func (FacePresenceClassifier) Name() string { return "face_presence" }

func (FacePresenceClassifier) Classify(ctx context.Context, content models.Content) (models.Classification, error) {
	if !content.RequireFace || content.FaceDetected == nil || *content.FaceDetected {
		return models.Classification{}, nil
	}
	return models.Classification{
		Violated:    true,
		Confidence:  1.0,
		Description: "No face detected in image",
		Severity:    models.SeverityLow,
	}, nil
}

// SpamClassifier wraps SpamModel with a decision threshold.
type SpamClassifier struct {
	model     *SpamModel
	threshold float64
}

func NewSpamClassifier(model *SpamModel, threshold float64) *SpamClassifier {
	return &SpamClassifier{model: model, threshold: threshold}
}

func (s *SpamClassifier) Name() string { return "spam_model" }

func (s *SpamClassifier) Classify(ctx context.Context, content models.Content) (models.Classification, error) {
	if strings.TrimSpace(content.Text) == "" {
		return models.Classification{}, nil
	}
	p := s.model.Predict(ctx, ExtractSpamFeatures(content.Text))
	if p < s.threshold {
		return models.Classification{Confidence: p}, nil
	}
	return models.Classification{
		Violated:    true,
		Confidence:  p,
		Description: fmt.Sprintf("Text scored as spam (%.2f)", p),
		Severity:    models.SeverityLow,
	}, nil
}
