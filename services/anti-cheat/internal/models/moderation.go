// services/anti-cheat/internal/models/moderation.go
package models

import "time"

type ContentType string
type ModerationCategory string

const (
	ContentTypeImage  ContentType = "image"
	ContentTypeText   ContentType = "text"
	ContentTypePrompt ContentType = "prompt"

	CategoryFaceMissing   ModerationCategory = "face_missing"
	CategoryNSFW          ModerationCategory = "nsfw"
	CategoryViolence      ModerationCategory = "violence"
	CategoryHateSpeech    ModerationCategory = "hate_speech"
	CategoryHarassment    ModerationCategory = "harassment"
	CategorySpam          ModerationCategory = "spam"
	CategoryHarmfulPrompt ModerationCategory = "harmful_prompt"
)

// Content is what a classifier inspects. Images are described by the labels
// an upstream vision tagger attached to them.
type Content struct {
	Type         ContentType `json:"type"`
	Ref          string      `json:"ref,omitempty"`
	Text         string      `json:"text,omitempty"`
	Labels       []string    `json:"labels,omitempty"`
	FaceDetected *bool       `json:"face_detected,omitempty"`
	RequireFace  bool        `json:"require_face,omitempty"`
}

// Classification is the fixed classifier contract.
type Classification struct {
	Violated    bool     `json:"violated"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
}

type ModerationResult struct {
	Approved       bool               `json:"approved"`
	Category       ModerationCategory `json:"category,omitempty"`
	Classifier     string             `json:"classifier,omitempty"`
	Confidence     float64            `json:"confidence"`
	Description    string             `json:"description,omitempty"`
	Severity       Severity           `json:"severity,omitempty"`
	PointsDeducted int                `json:"points_deducted"`
	LogID          string             `json:"log_id,omitempty"`
	DetectionID    string             `json:"detection_id,omitempty"`
}

type ModerationLog struct {
	ID             string             `json:"id" bson:"_id"`
	UserID         string             `json:"user_id" bson:"user_id"`
	ContentType    ContentType        `json:"content_type" bson:"content_type"`
	ContentRef     string             `json:"content_ref,omitempty" bson:"content_ref,omitempty"`
	Category       ModerationCategory `json:"category" bson:"category"`
	Violated       bool               `json:"violated" bson:"violated"`
	Confidence     float64            `json:"confidence" bson:"confidence"`
	Description    string             `json:"description" bson:"description"`
	Severity       Severity           `json:"severity" bson:"severity"`
	PointsDeducted int                `json:"points_deducted" bson:"points_deducted"`
	Classifier     string             `json:"classifier" bson:"classifier"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
}
