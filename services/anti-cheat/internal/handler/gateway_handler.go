// services/anti-cheat/internal/handler/gateway_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/service"
	"trust-defense/shared/pkg/middleware"
)

const (
	DeviceFingerprintHeader = "X-Device-Fingerprint"
	SessionIDHeader         = "X-Session-ID"
	CountryHeader           = "CF-IPCountry"
	RegionHeader            = "X-Geo-Region"
	CityHeader              = "X-Geo-City"

	activityKey = "anticheat_activity"
	decisionKey = "anticheat_decision"
)

type GatewayHandler struct {
	gateway *service.Gateway
	logger  *zap.Logger
}

func NewGatewayHandler(gateway *service.Gateway, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		gateway: gateway,
		logger:  logger,
	}
}

// Protect runs the anti-cheat gateway in front of a handler. Denied requests
// are aborted with 403; allowed ones carry the activity context and decision
// on the gin context.
func (h *GatewayHandler) Protect(action models.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := activityContext(c, action)
		if hasBody(c) {
			if err := c.ShouldBindBodyWith(&ac.Payload, binding.JSON); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		switch action {
		case models.ActionVote:
			ac.Payload.BattleID = c.Param("id")
		case models.ActionJoinTribe:
			ac.Payload.TribeID = c.Param("id")
		}

		decision, err := h.gateway.Check(c.Request.Context(), ac)
		if err != nil {
			if statusFor(err) == http.StatusBadRequest {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			h.logger.Error("anti-cheat check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check request"})
			return
		}

		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": decision.Message,
				"reason":  decision.Reason,
			})
			return
		}

		c.Set(activityKey, ac)
		c.Set(decisionKey, decision)
		c.Next()
	}
}

type checkRequest struct {
	Action     models.Action        `json:"action" binding:"required"`
	Payload    models.ActionPayload `json:"payload"`
	DeviceInfo models.DeviceInfo    `json:"device_info"`
}

// Check handles POST /api/v1/anticheat/check. The decision is returned
// without blocking so clients can pre-flight an action.
func (h *GatewayHandler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ac := activityContext(c, req.Action)
	ac.Payload = req.Payload
	ac.DeviceInfo = mergeReportedInfo(ac.DeviceInfo, req.DeviceInfo)

	decision, err := h.gateway.Check(c.Request.Context(), ac)
	if err != nil {
		respondError(c, h.logger, err, "Failed to check request")
		return
	}

	c.JSON(http.StatusOK, decision)
}

// activityContext collects what the request boundary knows about the caller.
func activityContext(c *gin.Context, action models.Action) *models.ActivityContext {
	sessionID := c.GetHeader(SessionIDHeader)
	if sessionID == "" {
		sessionID = c.GetString(middleware.SessionIDKey)
	}

	ac := &models.ActivityContext{
		UserID:    middleware.UserID(c),
		DeviceID:  c.GetHeader(DeviceFingerprintHeader),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		SessionID: sessionID,
		Action:    action,
		DeviceInfo: models.DeviceInfo{
			UserAgent: c.Request.UserAgent(),
			Platform:  c.GetHeader("Sec-CH-UA-Platform"),
			Language:  c.GetHeader("Accept-Language"),
		},
	}

	if country := c.GetHeader(CountryHeader); country != "" {
		ac.Geo = &models.Geo{
			Country: country,
			Region:  c.GetHeader(RegionHeader),
			City:    c.GetHeader(CityHeader),
		}
	}
	return ac
}

func mergeReportedInfo(headers, reported models.DeviceInfo) models.DeviceInfo {
	if reported.Platform != "" {
		headers.Platform = reported.Platform
	}
	if reported.Screen != "" {
		headers.Screen = reported.Screen
	}
	if reported.Timezone != "" {
		headers.Timezone = reported.Timezone
	}
	if reported.Language != "" {
		headers.Language = reported.Language
	}
	return headers
}

func hasBody(c *gin.Context) bool {
	return c.Request.Body != nil && c.Request.Body != http.NoBody && c.Request.ContentLength != 0
}

// Activity returns the context stored by Protect.
func Activity(c *gin.Context) *models.ActivityContext {
	if v, ok := c.Get(activityKey); ok {
		if ac, ok := v.(*models.ActivityContext); ok {
			return ac
		}
	}
	return nil
}

// Decision returns the gateway decision stored by Protect.
func Decision(c *gin.Context) *models.GatewayDecision {
	if v, ok := c.Get(decisionKey); ok {
		if d, ok := v.(*models.GatewayDecision); ok {
			return d
		}
	}
	return nil
}
