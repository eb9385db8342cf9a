// services/anti-cheat/internal/handler/routes.go
package handler

import (
	"github.com/gin-gonic/gin"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/shared/pkg/middleware"
)

type Handlers struct {
	Gateway    *GatewayHandler
	Activity   *ActivityHandler
	Moderation *ModerationHandler
	Trust      *TrustHandler
	Admin      *AdminHandler
}

// RegisterRoutes mounts the API under v1. auth must populate the user id
// and role on the context.
func RegisterRoutes(v1 *gin.RouterGroup, auth gin.HandlerFunc, h *Handlers) {
	api := v1.Group("", auth)

	protect := h.Gateway.Protect
	battles := api.Group("/battles")
	{
		battles.POST("", protect(models.ActionCreateBattle), h.Activity.CreateBattle)
		battles.POST("/:id/vote", protect(models.ActionVote), h.Activity.CastVote)
	}
	api.POST("/transformations", protect(models.ActionTransform), h.Activity.Accepted)
	api.POST("/tribes/:id/join", protect(models.ActionJoinTribe), h.Activity.Accepted)
	api.POST("/comments", protect(models.ActionComment), h.Activity.Accepted)
	api.PUT("/profile", protect(models.ActionUpdateProfile), h.Activity.Accepted)
	api.POST("/sessions", protect(models.ActionLogin), h.Activity.Accepted)
	api.POST("/registrations", protect(models.ActionRegister), h.Activity.Accepted)

	api.POST("/anticheat/check", h.Gateway.Check)

	moderation := api.Group("/moderation")
	{
		moderation.POST("/text", h.Moderation.ModerateText)
		moderation.POST("/image", h.Moderation.ModerateImage)
		moderation.POST("/prompt", h.Moderation.ModeratePrompt)
	}

	trust := api.Group("/trust/me")
	{
		trust.GET("", h.Trust.GetMyTrust)
		trust.GET("/permissions/:action", h.Trust.CheckMyPermission)
	}

	a := h.Admin
	admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	{
		detections := admin.Group("/detections")
		detections.GET("", a.ListDetections)
		detections.GET("/pending", a.ListPendingDetections)
		detections.GET("/:id", a.GetDetection)
		detections.POST("/:id/review", a.ReviewDetection)
		detections.POST("/:id/confirm", a.ConfirmDetection)
		detections.POST("/:id/false-positive", a.MarkFalsePositive)
		detections.POST("/:id/resolve", a.ResolveDetection)
		detections.POST("/:id/escalate", a.EscalateDetection)

		scores := admin.Group("/trust-scores")
		scores.GET("", a.ListTrustScores)
		scores.GET("/:user_id", a.GetTrustScore)
		scores.POST("/:user_id/adjust", a.AdjustTrustScore)

		users := admin.Group("/users/:user_id")
		users.POST("/shadowban", a.UserAction(a.review.ShadowbanUser, "Failed to shadowban user"))
		users.POST("/unshadowban", a.UserAction(a.review.LiftShadowban, "Failed to lift shadowban"))
		users.POST("/temporary-ban", a.TemporaryBan)
		users.POST("/permanent-ban", a.UserAction(a.review.PermanentBanUser, "Failed to ban user"))
		users.POST("/revoke-permanent-ban", a.UserAction(a.review.RevokePermanentBan, "Failed to revoke ban"))

		devices := admin.Group("/devices")
		devices.GET("", a.ListDevices)
		devices.GET("/:fingerprint", a.GetDevice)
		devices.POST("/:fingerprint/suspicious", a.MarkDevice(models.DeviceFlagSuspicious))
		devices.POST("/:fingerprint/blocked", a.MarkDevice(models.DeviceFlagBlocked))
		devices.POST("/:fingerprint/bot", a.MarkDevice(models.DeviceFlagBot))
		devices.POST("/:fingerprint/unmark", a.UnmarkDevice)

		admin.GET("/statistics", a.GetStatistics)
		admin.GET("/audit", a.ListAudit)
		admin.POST("/reconcile", a.Reconcile)
	}
}
