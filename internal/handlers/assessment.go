package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/xuhao2004/kimochi-sub000/internal/services"
	"github.com/xuhao2004/kimochi-sub000/internal/session"

	"github.com/gin-gonic/gin"
)

type AssessmentHandler struct {
	assessmentService *services.AssessmentService
	inviteService     *services.InviteService
}

func NewAssessmentHandler(assessmentService *services.AssessmentService, inviteService *services.InviteService) *AssessmentHandler {
	return &AssessmentHandler{assessmentService: assessmentService, inviteService: inviteService}
}

type CreateAssessmentRequest struct {
	Type     string `json:"assessment_type" binding:"required"`
	InviteID string `json:"invite_id"`
}

// Create godoc
// @Summary      Create or attach an assessment session
// @Description  Idempotent per invite: accepting the same invite twice
// @Description  returns the already-linked session.
// @Tags         assessments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CreateAssessmentRequest true "Session data"
// @Success      201 {object} models.Assessment
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/assessments [post]
func (h *AssessmentHandler) Create(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req CreateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	assessment, err := h.assessmentService.CreateOrAttach(userID, req.Type, req.InviteID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, assessment)
}

// Get godoc
// @Summary      Get the remote copy of a session
// @Tags         assessments
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Assessment ID"
// @Success      200 {object} session.RemoteSession
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/assessments/{id} [get]
func (h *AssessmentHandler) Get(c *gin.Context) {
	userID := c.GetUint("user_id")
	assessmentID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid assessment id"})
		return
	}

	remote, err := h.assessmentService.Get(uint(assessmentID), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, remote)
}

// SaveProgress godoc
// @Summary      Save session progress
// @Description  Accepts the full answer map; duplicate or reordered saves
// @Description  overwrite idempotently. With beacon=1 the handler replies
// @Description  204 regardless of outcome, for unload-time fire-and-forget
// @Description  delivery.
// @Tags         assessments
// @Accept       json
// @Security     BearerAuth
// @Param        id path int true "Assessment ID"
// @Param        beacon query bool false "Fire-and-forget mode"
// @Param        request body session.SaveRequest true "Full progress snapshot"
// @Success      204
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/assessments/{id}/progress [put]
func (h *AssessmentHandler) SaveProgress(c *gin.Context) {
	userID := c.GetUint("user_id")
	beacon := c.Query("beacon") == "1"
	assessmentID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid assessment id"})
		return
	}

	var req session.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if beacon {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.assessmentService.SaveProgress(uint(assessmentID), userID, req); err != nil && !beacon {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

type SubmitRequest struct {
	Answers     map[string]string `json:"answers" binding:"required"`
	ElapsedTime int               `json:"elapsed_time"`
}

type SubmitResponse struct {
	Summary interface{} `json:"summary"`
}

// Submit godoc
// @Summary      Submit a completed session for grading
// @Description  Rejected with the unanswered count when any question lacks
// @Description  an answer. On success the linked invite is completed and
// @Description  the result envelope appended to the room log.
// @Tags         assessments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path int true "Assessment ID"
// @Param        request body SubmitRequest true "Answers"
// @Success      200 {object} SubmitResponse
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/assessments/{id}/submit [post]
func (h *AssessmentHandler) Submit(c *gin.Context) {
	userID := c.GetUint("user_id")
	assessmentID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid assessment id"})
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	assessment, summary, err := h.assessmentService.Submit(uint(assessmentID), userID, req.Answers, req.ElapsedTime)
	if err != nil {
		var unanswered *session.UnansweredError
		if errors.As(err, &unanswered) {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if assessment.InviteID != "" {
		if _, err := h.inviteService.Complete(assessment.InviteID, summary); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	c.Data(http.StatusOK, "application/json", []byte(`{"summary":`+string(summary)+`}`))
}
