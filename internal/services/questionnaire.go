package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xuhao2004/kimochi-sub000/internal/models"
	"github.com/xuhao2004/kimochi-sub000/internal/session"

	"gorm.io/gorm"
)

type QuestionnaireService struct {
	db *gorm.DB
}

func NewQuestionnaireService(db *gorm.DB) *QuestionnaireService {
	return &QuestionnaireService{db: db}
}

func (s *QuestionnaireService) find(typ, variant string) (*models.Questionnaire, error) {
	var q models.Questionnaire
	query := s.db.Where("type = ?", typ).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_num ASC")
		})
	if variant != "" {
		query = query.Where("variant = ?", variant)
	} else {
		query = query.Order("variant ASC")
	}
	if err := query.First(&q).Error; err != nil {
		return nil, errors.New("questionnaire not found")
	}
	return &q, nil
}

// GetQuestionSet loads the ordered question list plus paging and scale
// metadata for one assessment type, optionally a specific variant.
func (s *QuestionnaireService) GetQuestionSet(typ, variant string) (*session.QuestionSet, error) {
	q, err := s.find(typ, variant)
	if err != nil {
		return nil, err
	}

	qs := &session.QuestionSet{
		PageSize:    q.PageSize,
		Instruction: q.Instruction,
		Variant:     q.Variant,
	}
	for _, item := range q.Items {
		qs.Questions = append(qs.Questions, session.Question{
			ID:        item.Code,
			Text:      item.Text,
			Dimension: item.Dimension,
			Reverse:   item.Reverse,
		})
	}
	if len(q.ScaleOptions) > 0 {
		if err := json.Unmarshal(q.ScaleOptions, &qs.ScaleOptions); err != nil {
			return nil, fmt.Errorf("bad scale options for %s: %w", typ, err)
		}
	}
	return qs, nil
}

// TotalQuestions returns the item count for a type/variant.
func (s *QuestionnaireService) TotalQuestions(typ, variant string) (int, error) {
	q, err := s.find(typ, variant)
	if err != nil {
		return 0, err
	}
	return len(q.Items), nil
}

// Items returns the raw item list, ordered, for scoring.
func (s *QuestionnaireService) Items(typ, variant string) ([]models.QuestionnaireItem, error) {
	q, err := s.find(typ, variant)
	if err != nil {
		return nil, err
	}
	return q.Items, nil
}

type QuestionnaireImportItem struct {
	Code      string `json:"code" binding:"required"`
	Text      string `json:"text" binding:"required"`
	Dimension string `json:"dimension"`
	Reverse   bool   `json:"reverse"`
}

type QuestionnaireImport struct {
	Type         string                    `json:"assessment_type" binding:"required"`
	Variant      string                    `json:"variant"`
	Title        string                    `json:"title" binding:"required"`
	Instruction  string                    `json:"instruction"`
	PageSize     int                       `json:"page_size"`
	ScaleOptions []session.ScaleOption     `json:"scale_options"`
	Items        []QuestionnaireImportItem `json:"items" binding:"required"`
}

// Import creates or replaces a questionnaire definition.
func (s *QuestionnaireService) Import(req QuestionnaireImport) (*models.Questionnaire, error) {
	if !session.AssessmentType(req.Type).Valid() {
		return nil, fmt.Errorf("unknown assessment type %q", req.Type)
	}
	if len(req.Items) == 0 {
		return nil, errors.New("questionnaire must have at least one item")
	}
	if req.PageSize <= 0 {
		req.PageSize = 10
	}

	var scaleJSON json.RawMessage
	if len(req.ScaleOptions) > 0 {
		raw, err := json.Marshal(req.ScaleOptions)
		if err != nil {
			return nil, err
		}
		scaleJSON = raw
	}

	var result models.Questionnaire
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Questionnaire
		if err := tx.Where("type = ? AND variant = ?", req.Type, req.Variant).
			First(&existing).Error; err == nil {
			if err := tx.Where("questionnaire_id = ?", existing.ID).
				Delete(&models.QuestionnaireItem{}).Error; err != nil {
				return err
			}
			existing.Title = req.Title
			existing.Instruction = req.Instruction
			existing.PageSize = req.PageSize
			existing.ScaleOptions = scaleJSON
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result = existing
		} else {
			result = models.Questionnaire{
				Type:         req.Type,
				Variant:      req.Variant,
				Title:        req.Title,
				Instruction:  req.Instruction,
				PageSize:     req.PageSize,
				ScaleOptions: scaleJSON,
			}
			if err := tx.Create(&result).Error; err != nil {
				return err
			}
		}

		for i, item := range req.Items {
			row := models.QuestionnaireItem{
				QuestionnaireID: result.ID,
				Code:            item.Code,
				Text:            item.Text,
				OrderNum:        i + 1,
				Dimension:       item.Dimension,
				Reverse:         item.Reverse,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("order_num ASC")
	}).First(&result, result.ID)
	return &result, nil
}
