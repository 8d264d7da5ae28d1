package services

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/xuhao2004/kimochi-sub000/internal/models"
)

func mbtiItems() []models.QuestionnaireItem {
	items := make([]models.QuestionnaireItem, 0, 8)
	for i, dim := range []string{"EI", "EI", "SN", "SN", "TF", "TF", "JP", "JP"} {
		items = append(items, models.QuestionnaireItem{
			Code:      fmt.Sprintf("m%d", i+1),
			Dimension: dim,
		})
	}
	return items
}

func scaleItems(prefix string, n int, reverse ...int) []models.QuestionnaireItem {
	rev := map[int]bool{}
	for _, i := range reverse {
		rev[i] = true
	}
	items := make([]models.QuestionnaireItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, models.QuestionnaireItem{
			Code:    fmt.Sprintf("%s%d", prefix, i),
			Reverse: rev[i],
		})
	}
	return items
}

func TestScoreMBTI(t *testing.T) {
	scorer := NewScoringService()
	items := mbtiItems()

	// A counts toward the first letter of the pair, B toward the second.
	answers := map[string]string{
		"m1": "A", "m2": "A", // E
		"m3": "B", "m4": "B", // N
		"m5": "A", "m6": "B", // T on the tie
		"m7": "B", "m8": "B", // P
	}
	raw, err := scorer.Score("mbti", items, answers)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	var summary MBTISummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Type != "ENTP" {
		t.Fatalf("expected ENTP, got %s", summary.Type)
	}
	if summary.Dimensions["E"] != 2 || summary.Dimensions["N"] != 2 {
		t.Fatalf("dimension tallies wrong: %v", summary.Dimensions)
	}
}

func TestScoreMBTIRejectsBadAnswer(t *testing.T) {
	scorer := NewScoringService()
	items := mbtiItems()
	answers := map[string]string{}
	for _, item := range items {
		answers[item.Code] = "A"
	}
	answers["m3"] = "C"
	if _, err := scorer.Score("mbti", items, answers); err == nil {
		t.Fatalf("expected invalid answer error")
	}
}

func TestScoreSCL90(t *testing.T) {
	scorer := NewScoringService()
	items := scaleItems("s", 4)
	answers := map[string]string{"s1": "1", "s2": "2", "s3": "3", "s4": "5"}

	raw, err := scorer.Score("scl90", items, answers)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	var summary SCL90Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalScore != 11 {
		t.Fatalf("expected total 11, got %d", summary.TotalScore)
	}
	if summary.GSI != 2.75 {
		t.Fatalf("expected GSI 2.75, got %v", summary.GSI)
	}
	if summary.PositiveItems != 3 {
		t.Fatalf("expected 3 positive items, got %d", summary.PositiveItems)
	}
}

func TestScoreSCL90RejectsOutOfRange(t *testing.T) {
	scorer := NewScoringService()
	items := scaleItems("s", 1)
	if _, err := scorer.Score("scl90", items, map[string]string{"s1": "6"}); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	if _, err := scorer.Score("scl90", items, map[string]string{"s1": "0"}); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestScoreSDS(t *testing.T) {
	scorer := NewScoringService()
	// Item 2 is reverse-keyed: an answer of 1 scores 4.
	items := scaleItems("d", 4, 2)
	answers := map[string]string{"d1": "3", "d2": "1", "d3": "4", "d4": "2"}

	raw, err := scorer.Score("sds", items, answers)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	var summary SDSSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RawScore != 13 {
		t.Fatalf("expected raw 13, got %d", summary.RawScore)
	}
	// 13 x 1.25 = 16.25, rounded to 16.
	if summary.IndexScore != 16 {
		t.Fatalf("expected index 16, got %d", summary.IndexScore)
	}
	if summary.Severity != "none" {
		t.Fatalf("expected severity none, got %s", summary.Severity)
	}
}

func TestScoreSDSSeverityBands(t *testing.T) {
	scorer := NewScoringService()
	cases := []struct {
		name     string
		items    int
		answer   string
		severity string
	}{
		{"all ones stays none", 20, "1", "none"},       // raw 20, index 25
		{"mild band", 11, "4", "mild"},                 // raw 44, index 55
		{"moderate band", 13, "4", "moderate"},         // raw 52, index 65
		{"severe band", 20, "3", "severe"},             // raw 60, index 75
	}
	for _, tc := range cases {
		items := scaleItems("d", tc.items)
		answers := map[string]string{}
		for _, item := range items {
			answers[item.Code] = tc.answer
		}
		raw, err := scorer.Score("sds", items, answers)
		if err != nil {
			t.Fatalf("%s: score: %v", tc.name, err)
		}
		var summary SDSSummary
		if err := json.Unmarshal(raw, &summary); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if summary.Severity != tc.severity {
			t.Fatalf("%s: expected %s, got %s (index %d)", tc.name, tc.severity, summary.Severity, summary.IndexScore)
		}
	}
}

func TestScoreUnknownType(t *testing.T) {
	scorer := NewScoringService()
	if _, err := scorer.Score("phq9", nil, nil); err == nil {
		t.Fatalf("expected unknown type error")
	}
}
