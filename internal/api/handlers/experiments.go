package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/leadpilot/adops-go/internal/services"
)

// ExperimentHandler exposes the experiment engine over HTTP.
type ExperimentHandler struct {
	experiments *services.ExperimentService
	monitor     *services.ResourceMonitor
	logger      *logrus.Logger
}

// NewExperimentHandler creates a new experiment handler.
func NewExperimentHandler(experiments *services.ExperimentService, monitor *services.ResourceMonitor, logger *logrus.Logger) *ExperimentHandler {
	return &ExperimentHandler{
		experiments: experiments,
		monitor:     monitor,
		logger:      logger,
	}
}

// StopExperimentRequest carries the operator-supplied stop reason.
type StopExperimentRequest struct {
	Reason string `json:"reason"`
}

// CompleteExperimentRequest controls winner promotion on completion.
type CompleteExperimentRequest struct {
	ApplyWinner bool `json:"apply_winner"`
}

// CreateExperiment registers a new draft experiment.
func (h *ExperimentHandler) CreateExperiment(c *gin.Context) {
	var spec services.ExperimentSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	exp, err := h.experiments.CreateExperiment(c.Request.Context(), spec)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exp)
}

// GetExperiment returns one experiment including its latest analysis.
func (h *ExperimentHandler) GetExperiment(c *gin.Context) {
	exp, err := h.experiments.GetExperiment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// StartExperiment transitions a draft experiment to running.
func (h *ExperimentHandler) StartExperiment(c *gin.Context) {
	exp, err := h.experiments.StartExperiment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// AnalyzeExperiment recomputes and returns the analysis snapshot.
func (h *ExperimentHandler) AnalyzeExperiment(c *gin.Context) {
	result, err := h.experiments.AnalyzeExperiment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CheckStoppingRules evaluates the stop conditions for one experiment.
func (h *ExperimentHandler) CheckStoppingRules(c *gin.Context) {
	decision, err := h.experiments.CheckStoppingRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// StopExperiment stops a running experiment with the given reason.
func (h *ExperimentHandler) StopExperiment(c *gin.Context) {
	var req StopExperimentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "stopped by operator"
	}

	if err := h.experiments.StopExperiment(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// CompleteExperiment finalizes a running experiment, optionally promoting
// the winning creative.
func (h *ExperimentHandler) CompleteExperiment(c *gin.Context) {
	var req CompleteExperimentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	result, err := h.experiments.CompleteExperiment(c.Request.Context(), c.Param("id"), req.ApplyWinner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunChecks evaluates stopping rules across every running experiment. The
// batch fans out one analysis per experiment, so it runs under the resource
// monitor.
func (h *ExperimentHandler) RunChecks(c *gin.Context) {
	var report *services.ExperimentCheckReport
	err := h.monitor.LogBatch(c.Request.Context(), "experiment_checks", func(ctx context.Context) error {
		var batchErr error
		report, batchErr = h.experiments.RunExperimentChecks(ctx)
		return batchErr
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
