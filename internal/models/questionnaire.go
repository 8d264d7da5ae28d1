package models

import (
	"encoding/json"
	"time"
)

// Questionnaire is one assessment definition (type + optional variant).
type Questionnaire struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	Type         string              `gorm:"size:20;not null;uniqueIndex:idx_questionnaire_variant" json:"assessment_type"`
	Variant      string              `gorm:"size:20;not null;default:'';uniqueIndex:idx_questionnaire_variant" json:"variant,omitempty"`
	Title        string              `gorm:"size:255;not null" json:"title"`
	Instruction  string              `gorm:"type:text" json:"instruction,omitempty"`
	PageSize     int                 `gorm:"not null;default:10" json:"page_size"`
	ScaleOptions json.RawMessage     `gorm:"type:json" json:"scale_options,omitempty"`
	Items        []QuestionnaireItem `gorm:"foreignKey:QuestionnaireID" json:"items,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type QuestionnaireItem struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	QuestionnaireID uint   `gorm:"not null;index" json:"questionnaire_id"`
	Code            string `gorm:"size:20;not null" json:"code"`
	Text            string `gorm:"type:text;not null" json:"text"`
	OrderNum        int    `gorm:"not null" json:"order_num"`
	Dimension       string `gorm:"size:10" json:"dimension,omitempty"`
	Reverse         bool   `gorm:"not null;default:false" json:"reverse"`
}
