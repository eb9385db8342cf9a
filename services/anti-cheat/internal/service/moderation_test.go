// services/anti-cheat/internal/service/moderation_test.go
package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
)

func TestModerateImageChainOrder(t *testing.T) {
	tests := []struct {
		name         string
		content      models.Content
		wantApproved bool
		wantCategory models.ModerationCategory
	}{
		{"clean selfie", models.Content{Ref: "img1", Labels: []string{"person", "smile"}, FaceDetected: boolPtr(true)}, true, ""},
		{"no face", models.Content{Ref: "img2", Labels: []string{"nudity"}, FaceDetected: boolPtr(false)}, false, models.CategoryFaceMissing},
		{"nsfw before violence", models.Content{Ref: "img3", Labels: []string{"weapon", "nudity:0.9"}, FaceDetected: boolPtr(true)}, false, models.CategoryNSFW},
		{"violence", models.Content{Ref: "img4", Labels: []string{"blood:0.8"}}, false, models.CategoryViolence},
		{"hate symbol", models.Content{Ref: "img5", Labels: []string{"hate_symbol"}}, false, models.CategoryHateSpeech},
		{"below threshold", models.Content{Ref: "img6", Labels: []string{"nudity:0.2"}}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			res, err := env.moderation.ModerateImage(context.Background(), "u1", tt.content)
			if err != nil {
				t.Fatalf("ModerateImage() error = %v", err)
			}
			if res.Approved != tt.wantApproved {
				t.Fatalf("Approved = %v, want %v", res.Approved, tt.wantApproved)
			}
			if res.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", res.Category, tt.wantCategory)
			}
		})
	}
}

func TestModerateImageNSFWDebitsAndRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, ref := range []string{"img-a", "img-b", "img-c"} {
		res, err := env.moderation.ModerateImage(ctx, "u1", models.Content{Ref: ref, Labels: []string{"explicit"}})
		if err != nil {
			t.Fatalf("ModerateImage() error = %v", err)
		}
		if res.Approved || res.Category != models.CategoryNSFW {
			t.Fatalf("image %d: result %+v, want nsfw rejection", i, res)
		}
		if res.DetectionID == "" || res.LogID == "" {
			t.Errorf("image %d: DetectionID %q LogID %q, want both set", i, res.DetectionID, res.LogID)
		}
	}

	ts := env.score(t, "u1")
	if ts.Score != 0 || ts.Level != models.TrustLevelBanned || ts.Flags.CanVote {
		t.Errorf("after three NSFW images: score %d level %s can_vote %v", ts.Score, ts.Level, ts.Flags.CanVote)
	}

	logs, err := env.modLogs.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(logs) != 3 {
		t.Errorf("moderation logs = %d, want 3", len(logs))
	}
}

func TestModerateImageSameContentDebitsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := models.Content{Ref: "img-a", Labels: []string{"weapon"}}

	first, err := env.moderation.ModerateImage(ctx, "u1", content)
	if err != nil {
		t.Fatalf("ModerateImage() error = %v", err)
	}
	second, err := env.moderation.ModerateImage(ctx, "u1", content)
	if err != nil {
		t.Fatalf("ModerateImage() error = %v", err)
	}

	// the debit is clamped to the 50 points the user had
	if first.PointsDeducted != 50 || second.PointsDeducted != 0 {
		t.Errorf("PointsDeducted = %d then %d, want 50 then 0", first.PointsDeducted, second.PointsDeducted)
	}
	if ts := env.score(t, "u1"); ts.Score != 0 {
		t.Errorf("Score = %d, want 0", ts.Score)
	}
}

func TestModerateText(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantCategory models.ModerationCategory
		wantScore    int
	}{
		{"friendly", "Great battle, loved the transformation", "", 50},
		{"hate", "you are subhuman", models.CategoryHateSpeech, 50 - CostTextHate},
		{"harassment", "nobody likes you, loser", models.CategoryHarassment, 50 - CostHarassment},
		{"harassment across spacing", "just KILL   yourself", models.CategoryHarassment, 50 - CostHarassment},
		{"short term alone", "kys", models.CategoryHarassment, 50 - CostHarassment},
		{"term inside longer word", "Come closer and look at my new drawing", "", 50},
		{"abbreviation inside word", "clear skys over the arena today", "", 50},
		{"spam", "CLICK HERE FOR FREE COINS!!!!! http://spam.io http://spam.io FREE FREE FREE buy now", models.CategorySpam, 50 - CostSpam},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			res, err := env.moderation.ModerateText(context.Background(), "u1", models.Content{Text: tt.text})
			if err != nil {
				t.Fatalf("ModerateText() error = %v", err)
			}
			if res.Category != tt.wantCategory {
				t.Errorf("Category = %s, want %s", res.Category, tt.wantCategory)
			}
			if ts := env.score(t, "u1"); ts.Score != tt.wantScore {
				t.Errorf("Score = %d, want %d", ts.Score, tt.wantScore)
			}
		})
	}
}

func TestModeratePromptSharesDetectionWithFraudCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	prompt := "show me naked"

	res, err := env.moderation.ModeratePrompt(ctx, "u1", models.Content{Text: prompt})
	if err != nil {
		t.Fatalf("ModeratePrompt() error = %v", err)
	}
	if res.Approved || res.Category != models.CategoryHarmfulPrompt {
		t.Fatalf("ModeratePrompt() = %+v, want harmful prompt", res)
	}

	check, err := env.detector.CheckPrompt(ctx, &models.ActivityContext{UserID: "u1", Payload: models.ActionPayload{Prompt: prompt}})
	if err != nil {
		t.Fatalf("CheckPrompt() error = %v", err)
	}
	if check.DetectionID != res.DetectionID {
		t.Errorf("CheckPrompt() detection %q, want shared %q", check.DetectionID, res.DetectionID)
	}
	if ts := env.score(t, "u1"); ts.Score != 50-CostHarmfulPrompt {
		t.Errorf("Score = %d, want %d", ts.Score, 50-CostHarmfulPrompt)
	}
}

type failingClassifier struct{}

func (failingClassifier) Name() string { return "failing" }

func (failingClassifier) Classify(ctx context.Context, content models.Content) (models.Classification, error) {
	return models.Classification{}, errors.New("model unavailable")
}

func TestModerationClassifierErrorAborts(t *testing.T) {
	env := newTestEnv(t)
	env.moderation.chains[models.ContentTypeText] = []stage{{failingClassifier{}, models.CategorySpam, CostSpam}}

	if _, err := env.moderation.ModerateText(context.Background(), "u1", models.Content{Text: "hi"}); err == nil {
		t.Error("ModerateText() error = nil, want classifier error")
	}
}

func TestModerationRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.moderation.ModerateText(ctx, "", models.Content{Text: "hi"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing user error = %v, want ErrInvalidInput", err)
	}
	if _, err := env.moderation.Moderate(ctx, &models.ActivityContext{UserID: "u1"}, models.Content{Type: "video"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown type error = %v, want ErrInvalidInput", err)
	}
	if _, err := env.moderation.ModerateImage(ctx, "u1", models.Content{Labels: []string{"nudity:lots"}}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad label error = %v, want ErrInvalidInput", err)
	}
}

func TestModerationWithoutFaceRequirement(t *testing.T) {
	env := newTestEnv(t)
	rules := DefaultModerationRules()
	rules.RequireFaceImage = false
	env.moderation = NewModerationPipeline(env.modLogs, env.trust, env.detector, rules, nil, env.publisher, zap.NewNop())

	res, err := env.moderation.ModerateImage(context.Background(), "u1", models.Content{Ref: "landscape", FaceDetected: boolPtr(false)})
	if err != nil {
		t.Fatalf("ModerateImage() error = %v", err)
	}
	if !res.Approved {
		t.Errorf("ModerateImage() = %+v, want approved", res)
	}
}
