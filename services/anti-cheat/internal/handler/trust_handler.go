// services/anti-cheat/internal/handler/trust_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/service"
	"trust-defense/shared/pkg/middleware"
)

type TrustHandler struct {
	engine *service.TrustEngine
	logger *zap.Logger
}

func NewTrustHandler(engine *service.TrustEngine, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{
		engine: engine,
		logger: logger,
	}
}

// GetMyTrust handles GET /api/v1/trust/me
func (h *TrustHandler) GetMyTrust(c *gin.Context) {
	ts, err := h.engine.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to load trust score")
		return
	}

	// A shadowban is never disclosed to the user it applies to.
	summary := ts.Summary()
	summary.Flags.IsShadowBanned = false

	c.JSON(http.StatusOK, gin.H{"trust": summary})
}

// CheckMyPermission handles GET /api/v1/trust/me/permissions/:action
func (h *TrustHandler) CheckMyPermission(c *gin.Context) {
	action := models.Action(c.Param("action"))

	result, err := h.engine.CheckPermission(c.Request.Context(), middleware.UserID(c), action)
	if err != nil {
		respondError(c, h.logger, err, "Failed to check permission")
		return
	}

	c.JSON(http.StatusOK, gin.H{"action": action, "allowed": result.Allowed, "reason": result.Reason})
}
