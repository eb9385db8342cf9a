// services/anti-cheat/internal/handler/admin_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trust-defense/services/anti-cheat/internal/models"
	"trust-defense/services/anti-cheat/internal/repository"
	"trust-defense/services/anti-cheat/internal/service"
	"trust-defense/shared/pkg/middleware"
)

const defaultStatsWindow = 30 * 24 * time.Hour

type AdminHandler struct {
	review     *service.AdminReviewService
	trust      *service.TrustEngine
	devices    *service.DeviceRegistry
	stats      *service.StatisticsService
	reconciler *service.TrustReconciler
	logger     *zap.Logger
}

func NewAdminHandler(
	review *service.AdminReviewService,
	trust *service.TrustEngine,
	devices *service.DeviceRegistry,
	stats *service.StatisticsService,
	reconciler *service.TrustReconciler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		review:     review,
		trust:      trust,
		devices:    devices,
		stats:      stats,
		reconciler: reconciler,
		logger:     logger,
	}
}

type reviewRequest struct {
	Action           models.ReviewAction `json:"action"`
	Notes            string              `json:"notes"`
	BanDurationHours int                 `json:"ban_duration_hours"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type adjustRequest struct {
	Points int    `json:"points"`
	Reason string `json:"reason" binding:"required"`
}

type banRequest struct {
	Reason        string `json:"reason" binding:"required"`
	DurationHours int    `json:"duration_hours"`
}

type deviceFlagRequest struct {
	Flag   models.DeviceFlag `json:"flag"`
	Reason string            `json:"reason" binding:"required"`
}

// ListDetections handles GET /api/v1/admin/detections
func (h *AdminHandler) ListDetections(c *gin.Context) {
	filter, ok := detectionFilter(c)
	if !ok {
		return
	}
	items, total, err := h.review.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list detections")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detections": items, "total": total, "limit": filter.Limit, "offset": filter.Offset})
}

// ListPendingDetections handles GET /api/v1/admin/detections/pending
func (h *AdminHandler) ListPendingDetections(c *gin.Context) {
	filter, ok := detectionFilter(c)
	if !ok {
		return
	}
	items, total, err := h.review.ListPending(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list detections")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detections": items, "total": total, "limit": filter.Limit, "offset": filter.Offset})
}

// GetDetection handles GET /api/v1/admin/detections/:id
func (h *AdminHandler) GetDetection(c *gin.Context) {
	d, err := h.review.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "Failed to load detection")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detection": d})
}

// ReviewDetection handles POST /api/v1/admin/detections/:id/review
func (h *AdminHandler) ReviewDetection(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.review.Review(c.Request.Context(), c.Param("id"), h.reviewRequest(c, req))
	if err != nil {
		respondError(c, h.logger, err, "Failed to review detection")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detection": d})
}

// ConfirmDetection handles POST /api/v1/admin/detections/:id/confirm
func (h *AdminHandler) ConfirmDetection(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.review.Confirm(c.Request.Context(), c.Param("id"), h.reviewRequest(c, req))
	if err != nil {
		respondError(c, h.logger, err, "Failed to confirm detection")
		return
	}
	c.JSON(http.StatusOK, gin.H{"detection": d})
}

// MarkFalsePositive handles POST /api/v1/admin/detections/:id/false-positive
func (h *AdminHandler) MarkFalsePositive(c *gin.Context) {
	h.notesTransition(c, h.review.MarkFalsePositive, "Failed to mark false positive")
}

// ResolveDetection handles POST /api/v1/admin/detections/:id/resolve
func (h *AdminHandler) ResolveDetection(c *gin.Context) {
	h.notesTransition(c, h.review.Resolve, "Failed to resolve detection")
}

// EscalateDetection handles POST /api/v1/admin/detections/:id/escalate
func (h *AdminHandler) EscalateDetection(c *gin.Context) {
	h.notesTransition(c, h.review.Escalate, "Failed to escalate detection")
}

type transitionFunc func(ctx context.Context, id, adminID, notes string) (*models.FraudDetection, error)

func (h *AdminHandler) notesTransition(c *gin.Context, fn transitionFunc, msg string) {
	var req notesRequest
	if hasBody(c) {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	d, err := fn(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Notes)
	if err != nil {
		respondError(c, h.logger, err, msg)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detection": d})
}

func (h *AdminHandler) reviewRequest(c *gin.Context, req reviewRequest) service.ReviewRequest {
	return service.ReviewRequest{
		AdminID:     middleware.UserID(c),
		Action:      req.Action,
		Notes:       req.Notes,
		BanDuration: time.Duration(req.BanDurationHours) * time.Hour,
	}
}

// ListTrustScores handles GET /api/v1/admin/trust-scores
func (h *AdminHandler) ListTrustScores(c *gin.Context) {
	limit, offset := pageParams(c)
	filter := repository.TrustFilter{
		Level:        models.TrustLevel(c.Query("level")),
		ShadowBanned: boolParam(c, "shadow_banned"),
		Banned:       boolParam(c, "banned"),
		Limit:        limit,
		Offset:       offset,
	}
	items, total, err := h.trust.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list trust scores")
		return
	}
	c.JSON(http.StatusOK, gin.H{"trust_scores": items, "total": total, "limit": limit, "offset": offset})
}

// GetTrustScore handles GET /api/v1/admin/trust-scores/:user_id
func (h *AdminHandler) GetTrustScore(c *gin.Context) {
	ts, err := h.trust.Get(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, h.logger, err, "Failed to load trust score")
		return
	}
	c.JSON(http.StatusOK, gin.H{"trust_score": ts})
}

// AdjustTrustScore handles POST /api/v1/admin/trust-scores/:user_id/adjust
func (h *AdminHandler) AdjustTrustScore(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ts, err := h.review.AdjustTrustScore(c.Request.Context(), middleware.UserID(c), c.Param("user_id"), req.Points, req.Reason)
	if err != nil {
		respondError(c, h.logger, err, "Failed to adjust trust score")
		return
	}
	c.JSON(http.StatusOK, gin.H{"trust_score": ts})
}

type userActionFunc func(ctx context.Context, adminID, userID, reason string) (*models.TrustScore, error)

// UserAction builds the handler for POST /api/v1/admin/users/:user_id/<action>.
func (h *AdminHandler) UserAction(fn userActionFunc, msg string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req banRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ts, err := fn(c.Request.Context(), middleware.UserID(c), c.Param("user_id"), req.Reason)
		if err != nil {
			respondError(c, h.logger, err, msg)
			return
		}
		c.JSON(http.StatusOK, gin.H{"trust_score": ts})
	}
}

// TemporaryBan handles POST /api/v1/admin/users/:user_id/temporary-ban
func (h *AdminHandler) TemporaryBan(c *gin.Context) {
	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	duration := time.Duration(req.DurationHours) * time.Hour
	ts, err := h.review.TemporaryBanUser(c.Request.Context(), middleware.UserID(c), c.Param("user_id"), duration, req.Reason)
	if err != nil {
		respondError(c, h.logger, err, "Failed to ban user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"trust_score": ts})
}

// ListDevices handles GET /api/v1/admin/devices
func (h *AdminHandler) ListDevices(c *gin.Context) {
	limit, offset := pageParams(c)
	minRisk, _ := strconv.Atoi(c.Query("min_risk"))
	filter := repository.DeviceFilter{
		MultiAccountOnly: c.Query("multi_account") == "true",
		SuspiciousOnly:   c.Query("suspicious") == "true",
		BlockedOnly:      c.Query("blocked") == "true",
		MinRisk:          minRisk,
		Limit:            limit,
		Offset:           offset,
	}
	items, total, err := h.devices.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "Failed to list devices")
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": items, "total": total, "limit": limit, "offset": offset})
}

// GetDevice handles GET /api/v1/admin/devices/:fingerprint
func (h *AdminHandler) GetDevice(c *gin.Context) {
	d, err := h.devices.Get(c.Request.Context(), c.Param("fingerprint"))
	if err != nil {
		respondError(c, h.logger, err, "Failed to load device")
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": d})
}

// MarkDevice builds the handler for POST /api/v1/admin/devices/:fingerprint/<flag>.
func (h *AdminHandler) MarkDevice(flag models.DeviceFlag) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req deviceFlagRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := h.review.MarkDevice(c.Request.Context(), middleware.UserID(c), c.Param("fingerprint"), flag, req.Reason)
		if err != nil {
			respondError(c, h.logger, err, "Failed to mark device")
			return
		}
		c.JSON(http.StatusOK, gin.H{"device": d})
	}
}

// UnmarkDevice handles POST /api/v1/admin/devices/:fingerprint/unmark
func (h *AdminHandler) UnmarkDevice(c *gin.Context) {
	var req deviceFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Flag.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flag must be suspicious, blocked or bot"})
		return
	}
	d, err := h.review.UnmarkDevice(c.Request.Context(), middleware.UserID(c), c.Param("fingerprint"), req.Flag, req.Reason)
	if err != nil {
		respondError(c, h.logger, err, "Failed to unmark device")
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": d})
}

// GetStatistics handles GET /api/v1/admin/statistics
func (h *AdminHandler) GetStatistics(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-defaultStatsWindow)
	var ok bool
	if from, ok = timeParam(c, "from", from); !ok {
		return
	}
	if to, ok = timeParam(c, "to", to); !ok {
		return
	}

	stats, err := h.stats.Compute(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, h.logger, err, "Failed to compute statistics")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListAudit handles GET /api/v1/admin/audit
func (h *AdminHandler) ListAudit(c *gin.Context) {
	limit, offset := pageParams(c)
	entries, err := h.review.ListAudit(c.Request.Context(), repository.AuditFilter{
		Actor:      c.Query("actor"),
		TargetType: c.Query("target_type"),
		Target:     c.Query("target"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to list audit log")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Reconcile handles POST /api/v1/admin/reconcile?repair=true
func (h *AdminHandler) Reconcile(c *gin.Context) {
	report, err := h.reconciler.Reconcile(c.Request.Context(), c.Query("repair") == "true")
	if err != nil {
		respondError(c, h.logger, err, "Failed to reconcile trust scores")
		return
	}
	c.JSON(http.StatusOK, report)
}

func detectionFilter(c *gin.Context) (repository.DetectionFilter, bool) {
	limit, offset := pageParams(c)
	filter := repository.DetectionFilter{
		UserID:     c.Query("user_id"),
		Type:       models.FraudType(c.Query("type")),
		Status:     models.DetectionStatus(c.Query("status")),
		Severity:   models.Severity(c.Query("severity")),
		ActiveOnly: c.Query("active") == "true",
		Limit:      limit,
		Offset:     offset,
	}
	var ok bool
	if filter.From, ok = timeParam(c, "from", time.Time{}); !ok {
		return filter, false
	}
	if filter.To, ok = timeParam(c, "to", time.Time{}); !ok {
		return filter, false
	}
	return filter, true
}

func pageParams(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return repository.NormalizePage(limit, offset)
}

func boolParam(c *gin.Context, name string) *bool {
	raw, ok := c.GetQuery(name)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

// timeParam parses an RFC 3339 query parameter. On a bad value it writes
// 400 and returns false.
func timeParam(c *gin.Context, name string, fallback time.Time) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an RFC 3339 timestamp"})
		return time.Time{}, false
	}
	return t, true
}
