package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/leadpilot/adops-go/internal/models"
	"github.com/leadpilot/adops-go/internal/services"
)

// OptimizerHandler exposes the campaign budget optimizer over HTTP.
type OptimizerHandler struct {
	optimizer *services.BudgetOptimizer
	notifier  *services.NotificationService
	logger    *logrus.Logger
}

// NewOptimizerHandler creates a new optimizer handler.
func NewOptimizerHandler(optimizer *services.BudgetOptimizer, notifier *services.NotificationService, logger *logrus.Logger) *OptimizerHandler {
	return &OptimizerHandler{
		optimizer: optimizer,
		notifier:  notifier,
		logger:    logger,
	}
}

// OptimizeRequest carries optional overrides; zero values fall back to
// configured defaults.
type OptimizeRequest struct {
	LookbackDays  int     `json:"lookback_days"`
	VolatilityCap float64 `json:"volatility_cap"`
	CooldownHours int     `json:"cooldown_hours"`
}

// OptimizeResponse is the recommendation list for one campaign.
type OptimizeResponse struct {
	CampaignID      string                        `json:"campaign_id"`
	Recommendations []models.BudgetRecommendation `json:"recommendations"`
	Count           int                           `json:"count"`
}

// ApplyRequest triggers an optimize-and-apply pass.
type ApplyRequest struct {
	OptimizeRequest
	AutoApprove bool `json:"auto_approve"`
}

// ApplyResponse pairs the recommendations with the apply report.
type ApplyResponse struct {
	CampaignID      string                        `json:"campaign_id"`
	Recommendations []models.BudgetRecommendation `json:"recommendations"`
	Report          *models.BudgetApplyReport     `json:"report"`
}

// OptimizeCampaign computes budget recommendations for a campaign's ad sets
// without writing anything.
func (h *OptimizerHandler) OptimizeCampaign(c *gin.Context) {
	campaignID := c.Param("id")

	var req OptimizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	recommendations, err := h.optimizer.OptimizeCampaignBudget(c.Request.Context(), campaignID, req.LookbackDays, req.VolatilityCap, req.CooldownHours)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, OptimizeResponse{
		CampaignID:      campaignID,
		Recommendations: recommendations,
		Count:           len(recommendations),
	})
}

// ApplyCampaignBudgets optimizes and applies in one pass, then notifies the
// operations channel about what changed.
func (h *OptimizerHandler) ApplyCampaignBudgets(c *gin.Context) {
	campaignID := c.Param("id")

	var req ApplyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	recommendations, err := h.optimizer.OptimizeCampaignBudget(c.Request.Context(), campaignID, req.LookbackDays, req.VolatilityCap, req.CooldownHours)
	if err != nil {
		respondError(c, err)
		return
	}

	report := h.optimizer.ApplyBudgetRecommendations(c.Request.Context(), recommendations, req.AutoApprove)
	if h.notifier != nil {
		h.notifier.NotifyBudgetApplied(c.Request.Context(), campaignID, recommendations, report)
	}

	c.JSON(http.StatusOK, ApplyResponse{
		CampaignID:      campaignID,
		Recommendations: recommendations,
		Report:          report,
	})
}

// CrossPlatformHandler exposes the cross-platform allocator over HTTP.
type CrossPlatformHandler struct {
	optimizer *services.CrossPlatformOptimizer
	notifier  *services.NotificationService
	logger    *logrus.Logger
}

// NewCrossPlatformHandler creates a new cross-platform handler.
func NewCrossPlatformHandler(optimizer *services.CrossPlatformOptimizer, notifier *services.NotificationService, logger *logrus.Logger) *CrossPlatformHandler {
	return &CrossPlatformHandler{
		optimizer: optimizer,
		notifier:  notifier,
		logger:    logger,
	}
}

// CrossPlatformRequest parameterizes one allocation pass.
type CrossPlatformRequest struct {
	TotalBudget  decimal.Decimal   `json:"total_budget"`
	LookbackDays int               `json:"lookback_days"`
	Platforms    []models.Platform `json:"platforms"`
}

// CrossPlatformApplyRequest adds the apply switch.
type CrossPlatformApplyRequest struct {
	CrossPlatformRequest
	AutoApprove bool `json:"auto_approve"`
}

// CrossPlatformApplyResponse pairs the recommendation with its apply report.
type CrossPlatformApplyResponse struct {
	Recommendation *models.CrossPlatformRecommendation `json:"recommendation"`
	Report         *models.CrossPlatformApplyReport    `json:"report"`
}

// OptimizePersona computes the recommended platform split for a persona.
func (h *CrossPlatformHandler) OptimizePersona(c *gin.Context) {
	personaID := c.Param("id")

	var req CrossPlatformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := h.optimizer.OptimizeCrossPlatform(c.Request.Context(), personaID, req.TotalBudget, req.LookbackDays, req.Platforms)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

// LatestRecommendation serves the cached recommendation for the dashboard
// read path, avoiding a fresh optimization on every page load.
func (h *CrossPlatformHandler) LatestRecommendation(c *gin.Context) {
	rec, err := h.optimizer.LatestRecommendation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ApplyPersonaBudgets optimizes and applies the platform split in one pass.
func (h *CrossPlatformHandler) ApplyPersonaBudgets(c *gin.Context) {
	personaID := c.Param("id")

	var req CrossPlatformApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := h.optimizer.OptimizeCrossPlatform(c.Request.Context(), personaID, req.TotalBudget, req.LookbackDays, req.Platforms)
	if err != nil {
		respondError(c, err)
		return
	}

	report := h.optimizer.ApplyCrossPlatformRecommendations(c.Request.Context(), rec, req.AutoApprove)
	if h.notifier != nil {
		h.notifier.NotifyCrossPlatformApplied(c.Request.Context(), rec, report)
	}

	c.JSON(http.StatusOK, CrossPlatformApplyResponse{
		Recommendation: rec,
		Report:         report,
	})
}
