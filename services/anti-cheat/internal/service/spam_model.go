// services/anti-cheat/internal/service/spam_model.go
package service

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// SpamModel is a logistic model over a handful of text features.
type SpamModel struct {
	weights map[string]float64
	bias    float64
}

var promoTerms = []string{
	"free coins", "free", "click here", "buy now", "giveaway", "discount",
	"promo code", "follow me", "subscribe", "check my profile",
}

func NewSpamModel() *SpamModel {
	return &SpamModel{
		weights: map[string]float64{
			"links":           2.5,
			"uppercase_ratio": 1.5,
			"repeated_chars":  1.0,
			"exclamation":     1.0,
			"duplicate_words": 2.0,
			"promo_terms":     2.5,
		},
		bias: -3.0,
	}
}

// Predict returns the spam probability in [0, 1].
func (m *SpamModel) Predict(ctx context.Context, features map[string]float64) float64 {
	score := m.bias
	for feature, value := range features {
		if weight, ok := m.weights[feature]; ok {
			score += weight * value
		}
	}
	return sigmoid(score)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// ExtractSpamFeatures maps text onto normalized features in [0, 1].
func ExtractSpamFeatures(text string) map[string]float64 {
	lower := strings.ToLower(text)
	features := make(map[string]float64, 6)

	links := strings.Count(lower, "http://") + strings.Count(lower, "https://") + strings.Count(lower, "www.")
	features["links"] = math.Min(float64(links)/2.0, 1.0)

	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters >= 10 {
		features["uppercase_ratio"] = float64(upper) / float64(letters)
	}

	if hasRun(text, 4) {
		features["repeated_chars"] = 1.0
	}

	features["exclamation"] = math.Min(float64(strings.Count(text, "!"))/5.0, 1.0)

	words := strings.Fields(lower)
	if len(words) >= 4 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[strings.Trim(w, ".,!?;:\"'")] = struct{}{}
		}
		features["duplicate_words"] = 1.0 - float64(len(unique))/float64(len(words))
	}

	promo := 0
	for _, term := range promoTerms {
		if strings.Contains(lower, term) {
			promo++
		}
	}
	features["promo_terms"] = math.Min(float64(promo)/2.0, 1.0)

	return features
}

// hasRun reports n or more identical consecutive runes.
func hasRun(text string, n int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n && !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

type SpamEvaluation struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
}

// EvaluateSpamModel scores the model against labelled samples.
func (m *SpamModel) EvaluateSpamModel(ctx context.Context, samples []string, labels []bool, threshold float64) SpamEvaluation {
	var tp, fp, tn, fn float64
	for i, text := range samples {
		predicted := m.Predict(ctx, ExtractSpamFeatures(text)) > threshold
		actual := labels[i]

		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && !actual:
			tn++
		default:
			fn++
		}
	}

	var eval SpamEvaluation
	if n := tp + fp + tn + fn; n > 0 {
		eval.Accuracy = (tp + tn) / n
	}
	if tp+fp > 0 {
		eval.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		eval.Recall = tp / (tp + fn)
	}
	if eval.Precision+eval.Recall > 0 {
		eval.F1Score = 2 * eval.Precision * eval.Recall / (eval.Precision + eval.Recall)
	}
	return eval
}
