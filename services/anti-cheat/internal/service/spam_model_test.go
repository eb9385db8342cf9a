// services/anti-cheat/internal/service/spam_model_test.go
package service

import (
	"context"
	"testing"
)

func TestSpamModelPredict(t *testing.T) {
	m := NewSpamModel()
	ctx := context.Background()

	tests := []struct {
		text     string
		wantSpam bool
	}{
		{"Great battle, loved the transformation", false},
		{"that knight costume is amazing, well played", false},
		{"CLICK HERE FOR FREE COINS!!!!! http://spam.io http://spam.io FREE FREE FREE buy now", true},
		{"free giveaway www.win.io follow me subscribe subscribe subscribe subscribe", true},
	}

	for _, tt := range tests {
		p := m.Predict(ctx, ExtractSpamFeatures(tt.text))
		if (p >= 0.7) != tt.wantSpam {
			t.Errorf("Predict(%q) = %.3f, want spam=%v", tt.text, p, tt.wantSpam)
		}
	}
}

func TestExtractSpamFeaturesBounds(t *testing.T) {
	features := ExtractSpamFeatures("WOW!!!!!!!!!! http://a http://b http://c www.d free free free free")
	for name, v := range features {
		if v < 0 || v > 1 {
			t.Errorf("feature %s = %v, want within [0, 1]", name, v)
		}
	}
}

func TestEvaluateSpamModel(t *testing.T) {
	m := NewSpamModel()
	samples := []string{
		"CLICK HERE FOR FREE COINS!!!!! http://spam.io http://spam.io FREE FREE FREE buy now",
		"free giveaway www.win.io follow me subscribe subscribe subscribe subscribe",
		"Great battle, loved the transformation",
		"that knight costume is amazing, well played",
	}
	labels := []bool{true, true, false, false}

	eval := m.EvaluateSpamModel(context.Background(), samples, labels, 0.7)
	if eval.Accuracy != 1 || eval.Precision != 1 || eval.Recall != 1 || eval.F1Score != 1 {
		t.Errorf("EvaluateSpamModel() = %+v, want perfect scores", eval)
	}

	empty := m.EvaluateSpamModel(context.Background(), nil, nil, 0.7)
	if empty != (SpamEvaluation{}) {
		t.Errorf("EvaluateSpamModel(nil) = %+v, want zero", empty)
	}
}
