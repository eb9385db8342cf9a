// services/anti-cheat/internal/service/moderation.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
	"trust-defense/shared/pkg/events"
)

// stage binds a classifier to the category it reports and its trust cost.
type stage struct {
	classifier Classifier
	category   models.ModerationCategory
	points     int
}

// ModerationPipeline runs ordered classifier chains per content type and
// stops at the first violation.
type ModerationPipeline struct {
	chains      map[models.ContentType][]stage
	logs        repository.ModerationLogRepository
	trust       *TrustEngine
	detector    *FraudDetector
	requireFace bool
	events      emitter
	logger      *zap.Logger
	nowFn       func() time.Time
}

func NewModerationPipeline(
	logs repository.ModerationLogRepository,
	trust *TrustEngine,
	detector *FraudDetector,
	rules ModerationRules,
	harmfulKeywords map[string][]string,
	publisher events.Publisher,
	logger *zap.Logger,
) *ModerationPipeline {
	rules = rules.WithDefaults()
	if len(harmfulKeywords) == 0 {
		harmfulKeywords = defaultHarmfulKeywords()
	}

	imageChain := []stage{
		{FacePresenceClassifier{}, models.CategoryFaceMissing, 0},
		{NewLabelClassifier("nsfw_labels", "nsfw", rules.NSFWLabels, rules.LabelThreshold, models.SeverityHigh), models.CategoryNSFW, CostNSFW},
		{NewLabelClassifier("violence_labels", "violence", rules.ViolenceLabels, rules.LabelThreshold, models.SeverityHigh), models.CategoryViolence, CostViolence},
		{NewLabelClassifier("hate_labels", "hate symbols", rules.HateLabels, rules.LabelThreshold, models.SeverityCritical), models.CategoryHateSpeech, CostImageHate},
	}
	textChain := []stage{
		{NewKeywordClassifier("hate_terms", "hate speech", rules.HateTerms, models.SeverityHigh), models.CategoryHateSpeech, CostTextHate},
		{NewKeywordClassifier("harassment_terms", "harassment", rules.HarassmentTerms, models.SeverityMedium), models.CategoryHarassment, CostHarassment},
		{NewSpamClassifier(NewSpamModel(), rules.SpamThreshold), models.CategorySpam, CostSpam},
	}
	promptChain := []stage{
		{newPromptClassifier(harmfulKeywords), models.CategoryHarmfulPrompt, CostHarmfulPrompt},
	}

	return &ModerationPipeline{
		chains: map[models.ContentType][]stage{
			models.ContentTypeImage:  imageChain,
			models.ContentTypeText:   textChain,
			models.ContentTypePrompt: promptChain,
		},
		logs:        logs,
		trust:       trust,
		detector:    detector,
		requireFace: rules.RequireFaceImage,
		events:      newEmitter(publisher, logger),
		logger:      logger,
		nowFn:       time.Now,
	}
}

func (p *ModerationPipeline) ModerateImage(ctx context.Context, userID string, content models.Content) (*models.ModerationResult, error) {
	content.Type = models.ContentTypeImage
	return p.Moderate(ctx, &models.ActivityContext{UserID: userID}, content)
}

func (p *ModerationPipeline) ModerateText(ctx context.Context, userID string, content models.Content) (*models.ModerationResult, error) {
	content.Type = models.ContentTypeText
	return p.Moderate(ctx, &models.ActivityContext{UserID: userID}, content)
}

func (p *ModerationPipeline) ModeratePrompt(ctx context.Context, userID string, content models.Content) (*models.ModerationResult, error) {
	content.Type = models.ContentTypePrompt
	return p.Moderate(ctx, &models.ActivityContext{UserID: userID}, content)
}

// Moderate runs the chain for content.Type on behalf of ac.UserID.
func (p *ModerationPipeline) Moderate(ctx context.Context, ac *models.ActivityContext, content models.Content) (*models.ModerationResult, error) {
	if ac == nil || ac.UserID == "" {
		return nil, invalidf("user id is required")
	}
	chain, ok := p.chains[content.Type]
	if !ok {
		return nil, invalidf("unknown content type %q", content.Type)
	}
	if content.Type == models.ContentTypeImage && p.requireFace {
		content.RequireFace = true
	}

	for _, st := range chain {
		c, err := st.classifier.Classify(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("classifier %s: %w", st.classifier.Name(), err)
		}
		if !c.Violated {
			continue
		}
		return p.reject(ctx, ac, content, st, c)
	}

	return &models.ModerationResult{Approved: true}, nil
}

func (p *ModerationPipeline) reject(ctx context.Context, ac *models.ActivityContext, content models.Content, st stage, c models.Classification) (*models.ModerationResult, error) {
	result := &models.ModerationResult{
		Approved:    false,
		Category:    st.category,
		Classifier:  st.classifier.Name(),
		Confidence:  c.Confidence,
		Description: c.Description,
		Severity:    c.Severity,
	}

	switch {
	case st.points == 0:
	case content.Type == models.ContentTypeText:
		_, applied, err := p.trust.Penalize(ctx, ac.UserID, string(st.category), c.Severity, c.Description, st.points)
		if err != nil {
			p.logger.Error("failed to debit trust for moderation violation",
				zap.String("user_id", ac.UserID),
				zap.String("category", string(st.category)),
				zap.Error(err))
		}
		result.PointsDeducted = applied
	default:
		detection, created, err := p.detector.Record(ctx, ac, moderationDetection(ac.UserID, content, st, c))
		if err != nil {
			p.logger.Error("failed to record moderation detection",
				zap.String("user_id", ac.UserID),
				zap.String("category", string(st.category)),
				zap.Error(err))
		}
		result.DetectionID = detection.DetectionID
		if created {
			for _, pen := range detection.Penalties {
				if pen.UserID == ac.UserID {
					result.PointsDeducted += pen.Points
				}
			}
		}
	}

	entry := &models.ModerationLog{
		ID:             uuid.New().String(),
		UserID:         ac.UserID,
		ContentType:    content.Type,
		ContentRef:     content.Ref,
		Category:       st.category,
		Violated:       true,
		Confidence:     c.Confidence,
		Description:    c.Description,
		Severity:       c.Severity,
		PointsDeducted: result.PointsDeducted,
		Classifier:     st.classifier.Name(),
		CreatedAt:      p.nowFn(),
	}
	if err := p.logs.Create(ctx, entry); err != nil {
		p.logger.Error("failed to write moderation log", zap.String("user_id", ac.UserID), zap.Error(err))
	} else {
		result.LogID = entry.ID
	}

	moderationViolations.WithLabelValues(string(content.Type), string(st.category)).Inc()
	p.logger.Info("content rejected",
		zap.String("user_id", ac.UserID),
		zap.String("content_type", string(content.Type)),
		zap.String("category", string(st.category)),
		zap.Float64("confidence", c.Confidence))
	p.events.emit(ctx, EventModerationViolation, ac.UserID, map[string]interface{}{
		"user_id":      ac.UserID,
		"content_type": content.Type,
		"content_ref":  content.Ref,
		"category":     st.category,
		"severity":     c.Severity,
		"points":       result.PointsDeducted,
	})

	return result, nil
}

// moderationDetection builds the detection for an image or prompt violation.
// The evidence key is the content reference when present so one piece of
// content is only ever penalized once.
func moderationDetection(userID string, content models.Content, st stage, c models.Classification) models.DetectionResult {
	fraudType := models.FraudTypeNSFWContent
	ref := content.Ref
	if content.Type == models.ContentTypePrompt {
		fraudType = models.FraudTypeAIAbuse
		if ref == "" {
			ref = contentDigest(content.Text)
		}
	} else if ref == "" {
		ref = contentDigest(fmt.Sprint(content.Labels))
	}

	key := fmt.Sprintf("moderation:%s:%s:%s", content.Type, userID, ref)
	if content.Type == models.ContentTypePrompt && content.Ref == "" {
		key = "ai:" + userID + ":" + ref
	}

	return models.DetectionResult{
		IsFraud:  true,
		Type:     fraudType,
		Severity: c.Severity,
		Reason:   c.Description,
		Evidence: map[string]interface{}{
			"category":    st.category,
			"classifier":  st.classifier.Name(),
			"confidence":  c.Confidence,
			"content_ref": content.Ref,
		},
		EvidenceKey: key,
		Penalties:   []models.Penalty{{UserID: userID, Points: st.points, Reason: c.Description}},
	}
}

// promptClassifier applies the harmful keyword categories to prompts.
type promptClassifier struct {
	keywords map[string][]string
}

func newPromptClassifier(keywords map[string][]string) *promptClassifier {
	return &promptClassifier{keywords: keywords}
}

func (p *promptClassifier) Name() string { return "harmful_prompt" }

func (p *promptClassifier) Classify(ctx context.Context, content models.Content) (models.Classification, error) {
	category, keyword, ok := matchKeywords(content.Text, p.keywords)
	if !ok {
		return models.Classification{}, nil
	}
	return models.Classification{
		Violated:    true,
		Confidence:  0.95,
		Description: fmt.Sprintf("Prompt contains %s content (%q)", category, keyword),
		Severity:    models.SeverityHigh,
	}, nil
}
