package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/xuhao2004/kimochi-sub000/internal/models"
	"github.com/xuhao2004/kimochi-sub000/internal/session"
)

// Scorer turns a complete answer set into a result summary. The session
// runner treats the summary as opaque; only the result views interpret it.
type Scorer interface {
	Score(typ string, items []models.QuestionnaireItem, answers map[string]string) (json.RawMessage, error)
}

type ScoringService struct{}

func NewScoringService() *ScoringService {
	return &ScoringService{}
}

func (s *ScoringService) Score(typ string, items []models.QuestionnaireItem, answers map[string]string) (json.RawMessage, error) {
	switch session.AssessmentType(typ) {
	case session.TypeMBTI:
		return s.scoreMBTI(items, answers)
	case session.TypeSCL90:
		return s.scoreSCL90(items, answers)
	case session.TypeSDS:
		return s.scoreSDS(items, answers)
	}
	return nil, fmt.Errorf("unknown assessment type %q", typ)
}

type MBTISummary struct {
	Type       string         `json:"type"`
	Dimensions map[string]int `json:"dimensions"`
}

// scoreMBTI tallies A/B choices per dimension pair (EI/SN/TF/JP); the
// majority letter of each pair forms the four-letter type.
func (s *ScoringService) scoreMBTI(items []models.QuestionnaireItem, answers map[string]string) (json.RawMessage, error) {
	counts := map[string]int{}
	for _, item := range items {
		if len(item.Dimension) != 2 {
			continue
		}
		first := string(item.Dimension[0])
		second := string(item.Dimension[1])
		switch answers[item.Code] {
		case "A":
			counts[first]++
		case "B":
			counts[second]++
		default:
			return nil, fmt.Errorf("invalid answer for question %s", item.Code)
		}
	}

	result := ""
	for _, pair := range []string{"EI", "SN", "TF", "JP"} {
		a := string(pair[0])
		b := string(pair[1])
		if counts[b] > counts[a] {
			result += b
		} else {
			result += a
		}
	}
	return json.Marshal(MBTISummary{Type: result, Dimensions: counts})
}

type SCL90Summary struct {
	TotalScore    int     `json:"total_score"`
	GSI           float64 `json:"gsi"`
	PositiveItems int     `json:"positive_items"`
}

// scoreSCL90 computes the total score, the global severity index, and the
// count of positive items (rated 2 or higher on the 1-5 scale).
func (s *ScoringService) scoreSCL90(items []models.QuestionnaireItem, answers map[string]string) (json.RawMessage, error) {
	total := 0
	positive := 0
	for _, item := range items {
		v, err := scaleValue(item.Code, answers, 1, 5)
		if err != nil {
			return nil, err
		}
		total += v
		if v >= 2 {
			positive++
		}
	}
	gsi := 0.0
	if len(items) > 0 {
		gsi = math.Round(float64(total)/float64(len(items))*100) / 100
	}
	return json.Marshal(SCL90Summary{TotalScore: total, GSI: gsi, PositiveItems: positive})
}

type SDSSummary struct {
	RawScore   int    `json:"raw_score"`
	IndexScore int    `json:"index_score"`
	Severity   string `json:"severity"`
}

// scoreSDS sums the 1-4 scale (reverse items score 5-v) and converts the
// raw score to the standard index (raw x 1.25).
func (s *ScoringService) scoreSDS(items []models.QuestionnaireItem, answers map[string]string) (json.RawMessage, error) {
	raw := 0
	for _, item := range items {
		v, err := scaleValue(item.Code, answers, 1, 4)
		if err != nil {
			return nil, err
		}
		if item.Reverse {
			v = 5 - v
		}
		raw += v
	}
	index := int(math.Round(float64(raw) * 1.25))

	severity := "none"
	switch {
	case index >= 73:
		severity = "severe"
	case index >= 63:
		severity = "moderate"
	case index >= 53:
		severity = "mild"
	}
	return json.Marshal(SDSSummary{RawScore: raw, IndexScore: index, Severity: severity})
}

func scaleValue(code string, answers map[string]string, min, max int) (int, error) {
	raw, ok := answers[code]
	if !ok {
		return 0, fmt.Errorf("missing answer for question %s", code)
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, fmt.Errorf("invalid answer for question %s", code)
	}
	return v, nil
}
