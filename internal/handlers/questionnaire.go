package handlers

import (
	"net/http"

	"github.com/xuhao2004/kimochi-sub000/internal/services"

	"github.com/gin-gonic/gin"
)

type QuestionnaireHandler struct {
	questionnaireService *services.QuestionnaireService
}

func NewQuestionnaireHandler(questionnaireService *services.QuestionnaireService) *QuestionnaireHandler {
	return &QuestionnaireHandler{questionnaireService: questionnaireService}
}

// GetQuestions godoc
// @Summary      Get the question set for an assessment type
// @Tags         questionnaires
// @Produce      json
// @Security     BearerAuth
// @Param        type path string true "Assessment type (mbti, scl90, sds)"
// @Param        variant query string false "Question-set variant (e.g. short, long)"
// @Success      200 {object} session.QuestionSet
// @Failure      404 {object} ErrorResponse
// @Router       /api/v1/questionnaires/{type} [get]
func (h *QuestionnaireHandler) GetQuestions(c *gin.Context) {
	typ := c.Param("type")
	variant := c.Query("variant")

	qs, err := h.questionnaireService.GetQuestionSet(typ, variant)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, qs)
}

// Import godoc
// @Summary      Create or replace a questionnaire definition
// @Tags         questionnaires
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body services.QuestionnaireImport true "Definition"
// @Success      201 {object} models.Questionnaire
// @Failure      400 {object} ErrorResponse
// @Router       /api/v1/questionnaires/import [post]
func (h *QuestionnaireHandler) Import(c *gin.Context) {
	var req services.QuestionnaireImport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	q, err := h.questionnaireService.Import(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, q)
}
