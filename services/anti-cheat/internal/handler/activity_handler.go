// services/anti-cheat/internal/handler/activity_handler.go
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
)

// ActivityHandler sits behind Protect and records the activity rows the
// detectors read back.
type ActivityHandler struct {
	activity repository.ActivityRepository
	logger   *zap.Logger
	nowFn    func() time.Time
}

func NewActivityHandler(activity repository.ActivityRepository, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{
		activity: activity,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// CastVote handles POST /api/v1/battles/:id/vote
func (h *ActivityHandler) CastVote(c *gin.Context) {
	ac := Activity(c)
	if ac == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Missing anti-cheat context"})
		return
	}

	vote := &models.Vote{
		ID:        uuid.New().String(),
		UserID:    ac.UserID,
		BattleID:  ac.Payload.BattleID,
		DeviceID:  ac.DeviceID,
		CreatedAt: h.nowFn(),
	}
	if err := h.activity.RecordVote(c.Request.Context(), vote); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "Already voted on this battle"})
			return
		}
		h.logger.Error("failed to record vote", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record vote"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "vote": vote})
}

// CreateBattle handles POST /api/v1/battles
func (h *ActivityHandler) CreateBattle(c *gin.Context) {
	ac := Activity(c)
	if ac == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Missing anti-cheat context"})
		return
	}
	if ac.Payload.ChallengerID == "" || ac.Payload.DefenderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "challenger_id and defender_id are required"})
		return
	}

	battle := &models.Battle{
		ID:           uuid.New().String(),
		CreatorID:    ac.UserID,
		ChallengerID: ac.Payload.ChallengerID,
		DefenderID:   ac.Payload.DefenderID,
		CreatedAt:    h.nowFn(),
	}
	if err := h.activity.RecordBattle(c.Request.Context(), battle); err != nil {
		h.logger.Error("failed to record battle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create battle"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "battle": battle})
}

// Accepted acknowledges protected actions whose business effect lives in
// another service: transforms, tribe joins, comments, profile updates and
// session sightings.
func (h *ActivityHandler) Accepted(c *gin.Context) {
	resp := gin.H{"success": true}
	if ac := Activity(c); ac != nil {
		resp["action"] = ac.Action
	}
	if d := Decision(c); d != nil {
		resp["trust_level"] = d.TrustLevel
		if len(d.FailOpenStages) > 0 {
			resp["degraded"] = true
		}
	}
	c.JSON(http.StatusOK, resp)
}
