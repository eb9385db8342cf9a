// services/anti-cheat/internal/handler/moderation_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/service"
	"trust-defense/shared/pkg/middleware"
)

type ModerationHandler struct {
	pipeline *service.ModerationPipeline
	logger   *zap.Logger
}

func NewModerationHandler(pipeline *service.ModerationPipeline, logger *zap.Logger) *ModerationHandler {
	return &ModerationHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

type moderationRequest struct {
	Ref          string   `json:"ref"`
	Text         string   `json:"text"`
	Labels       []string `json:"labels"`
	FaceDetected *bool    `json:"face_detected"`
	RequireFace  bool     `json:"require_face"`
}

type moderateFunc func(ctx context.Context, userID string, content models.Content) (*models.ModerationResult, error)

// ModerateText handles POST /api/v1/moderation/text
func (h *ModerationHandler) ModerateText(c *gin.Context) {
	h.moderate(c, h.pipeline.ModerateText)
}

// ModerateImage handles POST /api/v1/moderation/image
func (h *ModerationHandler) ModerateImage(c *gin.Context) {
	h.moderate(c, h.pipeline.ModerateImage)
}

// ModeratePrompt handles POST /api/v1/moderation/prompt
func (h *ModerationHandler) ModeratePrompt(c *gin.Context) {
	h.moderate(c, h.pipeline.ModeratePrompt)
}

func (h *ModerationHandler) moderate(c *gin.Context, fn moderateFunc) {
	var req moderationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := fn(c.Request.Context(), middleware.UserID(c), models.Content{
		Ref:          req.Ref,
		Text:         req.Text,
		Labels:       req.Labels,
		FaceDetected: req.FaceDetected,
		RequireFace:  req.RequireFace,
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to moderate content")
		return
	}

	c.JSON(http.StatusOK, result)
}
