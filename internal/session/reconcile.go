package session

import "time"

// Progress is one tier's copy of an in-flight session: the full answer map,
// the page cursor, and accumulated time. CurrentPage is -1 when the tier
// never recorded an explicit page.
type Progress struct {
	Answers     map[string]string `json:"answers"`
	CurrentPage int               `json:"current_page"`
	ElapsedTime int               `json:"elapsed_time"`
	SavedAt     time.Time         `json:"saved_at,omitempty"`
}

func (p *Progress) answeredCount() int {
	if p == nil {
		return 0
	}
	return len(p.Answers)
}

// Reconcile merges the local and remote progress tiers into one
// authoritative starting point for a resumed session. The tier with more
// recorded answers wins: save timestamps are unreliable (the unload-time
// flush is allowed to be lost), while a larger answer set is monotonically
// safe. Page and elapsed time come from the chosen base only; a missing
// page cursor is inferred from the answered count.
func Reconcile(local, remote *Progress, pageSize int) Progress {
	base := remote
	if local != nil && local.answeredCount() >= remote.answeredCount() {
		base = local
	}
	if base == nil {
		return Progress{Answers: map[string]string{}, CurrentPage: 0}
	}

	merged := Progress{
		Answers:     make(map[string]string, len(base.Answers)),
		CurrentPage: base.CurrentPage,
		ElapsedTime: base.ElapsedTime,
	}
	for k, v := range base.Answers {
		merged.Answers[k] = v
	}
	if merged.CurrentPage < 0 {
		merged.CurrentPage = inferPage(len(merged.Answers), pageSize)
	}
	return merged
}

// inferPage maps an answered count onto the last partially-filled page:
// max(0, ceil(count/pageSize)-1).
func inferPage(answered, pageSize int) int {
	if answered <= 0 || pageSize <= 0 {
		return 0
	}
	page := (answered+pageSize-1)/pageSize - 1
	if page < 0 {
		page = 0
	}
	return page
}
