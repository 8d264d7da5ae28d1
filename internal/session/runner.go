package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const defaultDebounce = 800 * time.Millisecond

var (
	ErrPageIncomplete = errors.New("answer all questions on this page first")
	ErrClosed         = errors.New("session is closed")
	ErrNoSuchQuestion = errors.New("unknown question id")
)

// UnansweredError reports how many questions still lack an answer when a
// submit is attempted early.
type UnansweredError struct {
	Count int
}

func (e *UnansweredError) Error() string {
	return fmt.Sprintf("%d questions unanswered", e.Count)
}

// RunnerConfig configures a session runner.
type RunnerConfig struct {
	API          API
	Store        LocalStore
	AssessmentID uint
	Type         AssessmentType
	Variant      string

	// Debounce is the quiet period collapsing rapid answer bursts into one
	// remote save. Defaults to 800ms.
	Debounce time.Duration
	// Now is the clock used for elapsed-time accounting. Defaults to
	// time.Now.
	Now func() time.Time
	// OnSaveError receives non-fatal background save failures. The next
	// debounced save subsumes a failed one; there is no retry policy.
	OnSaveError func(error)
}

// Runner drives one open session: paging, answer capture, debounced
// incremental saves, the flush-on-close, and final submission.
type Runner struct {
	mu sync.Mutex

	api   API
	store LocalStore

	assessmentID uint
	typ          AssessmentType
	variant      string

	questions    []Question
	pageSize     int
	instruction  string
	scaleOptions []ScaleOption

	answers     map[string]string
	currentPage int

	elapsedBase int
	resumedAt   time.Time

	debounce    time.Duration
	saveTimer   *time.Timer
	closed      bool
	now         func() time.Time
	onSaveError func(error)
}

// Open loads the question set (local cache first), reconciles the two
// progress tiers, and clears the paused flag server-side: opening the
// session is a resume, whichever tier won.
func Open(ctx context.Context, cfg RunnerConfig) (*Runner, error) {
	if cfg.API == nil || cfg.Store == nil {
		return nil, errors.New("session: api and store are required")
	}
	r := &Runner{
		api:          cfg.API,
		store:        cfg.Store,
		assessmentID: cfg.AssessmentID,
		typ:          cfg.Type,
		variant:      cfg.Variant,
		debounce:     cfg.Debounce,
		now:          cfg.Now,
		onSaveError:  cfg.OnSaveError,
	}
	if r.debounce <= 0 {
		r.debounce = defaultDebounce
	}
	if r.now == nil {
		r.now = time.Now
	}

	local := LoadLocalProgress(r.store, r.assessmentID)
	var remote *Progress
	if rs, err := r.api.GetSession(ctx, r.assessmentID); err == nil && rs != nil {
		// The remote tier records which question set the stored answers
		// belong to; an unpinned open follows it.
		if r.variant == "" {
			r.variant = rs.Variant
		}
		remote = &Progress{
			Answers:     rs.Answers,
			CurrentPage: rs.CurrentPage,
			ElapsedTime: rs.ElapsedTime,
		}
	}
	// A remote fetch failure is tolerated: the local tier alone still lets
	// the user continue, and the next save repairs the remote copy.

	if err := r.loadQuestions(ctx); err != nil {
		return nil, err
	}

	merged := Reconcile(local, remote, r.pageSize)
	r.answers = merged.Answers
	r.currentPage = merged.CurrentPage
	r.elapsedBase = merged.ElapsedTime
	r.resumedAt = r.now()

	if err := r.api.SaveProgress(ctx, r.assessmentID, r.saveRequest(false)); err != nil {
		r.reportSaveError(err)
	}
	return r, nil
}

func (r *Runner) loadQuestions(ctx context.Context) error {
	if qs := LoadLocalQuestions(r.store, r.assessmentID); qs != nil && qs.Variant == r.variant {
		r.applyQuestionSet(qs)
		return nil
	}
	qs, err := r.api.GetQuestions(ctx, r.typ, r.variant)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	r.applyQuestionSet(qs)
	StoreLocalQuestions(r.store, r.assessmentID, *qs)
	return nil
}

func (r *Runner) applyQuestionSet(qs *QuestionSet) {
	if qs.Variant != "" {
		r.variant = qs.Variant
	}
	r.questions = qs.Questions
	r.pageSize = qs.PageSize
	if r.pageSize <= 0 {
		r.pageSize = len(qs.Questions)
	}
	r.instruction = qs.Instruction
	r.scaleOptions = qs.ScaleOptions
}

// Answer records one answer keyed by question id, updates in-memory state
// immediately, and schedules a debounced remote save. A newer answer resets
// the debounce wait; a save already in flight is never canceled.
func (r *Runner) Answer(questionID, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if !r.hasQuestion(questionID) {
		return ErrNoSuchQuestion
	}
	r.answers[questionID] = value
	r.scheduleSaveLocked()
	return nil
}

func (r *Runner) hasQuestion(id string) bool {
	for _, q := range r.questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

func (r *Runner) scheduleSaveLocked() {
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.saveTimer = time.AfterFunc(r.debounce, r.flushDebounced)
}

func (r *Runner) flushDebounced() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	req := r.saveRequestLocked(false)
	r.mu.Unlock()

	if err := r.api.SaveProgress(context.Background(), r.assessmentID, req); err != nil {
		r.reportSaveError(err)
	}
}

// saveRequest snapshots the full current state. Full-map saves keep remote
// writes idempotent under reordering and duplication.
func (r *Runner) saveRequest(paused bool) SaveRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveRequestLocked(paused)
}

func (r *Runner) saveRequestLocked(paused bool) SaveRequest {
	answers := make(map[string]string, len(r.answers))
	for k, v := range r.answers {
		answers[k] = v
	}
	return SaveRequest{
		CurrentPage: r.currentPage,
		Variant:     r.variant,
		Answers:     answers,
		ElapsedTime: r.elapsedLocked(),
		IsPaused:    paused,
	}
}

func (r *Runner) elapsedLocked() int {
	if r.closed {
		return r.elapsedBase
	}
	return r.elapsedBase + int(r.now().Sub(r.resumedAt).Seconds())
}

// Elapsed returns the accumulated session time in seconds.
func (r *Runner) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked()
}

// Page returns the zero-based current page index.
func (r *Runner) Page() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPage
}

// PageCount returns the number of pages.
func (r *Runner) PageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pageCountLocked()
}

func (r *Runner) pageCountLocked() int {
	if len(r.questions) == 0 {
		return 1
	}
	return (len(r.questions) + r.pageSize - 1) / r.pageSize
}

// PageQuestions returns the questions on the current page.
func (r *Runner) PageQuestions() []Question {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := r.currentPage * r.pageSize
	if start >= len(r.questions) {
		return nil
	}
	end := start + r.pageSize
	if end > len(r.questions) {
		end = len(r.questions)
	}
	return r.questions[start:end]
}

// AnswerFor returns the recorded answer for a question, if any.
func (r *Runner) AnswerFor(questionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.answers[questionID]
	return v, ok
}

// Instruction returns the questionnaire instruction text.
func (r *Runner) Instruction() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instruction
}

// ScaleOptions returns the rating scale, if the type uses one.
func (r *Runner) ScaleOptions() []ScaleOption {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scaleOptions
}

// AnsweredCount returns how many questions have answers.
func (r *Runner) AnsweredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.answers)
}

// Total returns the question count.
func (r *Runner) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.questions)
}

// Percent returns the completion percentage.
func (r *Runner) Percent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Percent(len(r.answers), len(r.questions))
}

func (r *Runner) pageCompleteLocked() bool {
	start := r.currentPage * r.pageSize
	end := start + r.pageSize
	if end > len(r.questions) {
		end = len(r.questions)
	}
	for _, q := range r.questions[start:end] {
		if _, ok := r.answers[q.ID]; !ok {
			return false
		}
	}
	return true
}

// Next advances to the next page once every question on the current page is
// answered. The new cursor is persisted remotely best-effort before the
// move takes effect locally.
func (r *Runner) Next(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.pageCompleteLocked() {
		r.mu.Unlock()
		return ErrPageIncomplete
	}
	if r.currentPage >= r.pageCountLocked()-1 {
		r.mu.Unlock()
		return nil
	}
	r.currentPage++
	req := r.saveRequestLocked(false)
	r.mu.Unlock()

	if err := r.api.SaveProgress(ctx, r.assessmentID, req); err != nil {
		r.reportSaveError(err)
	}
	return nil
}

// Prev moves back one page. No completeness gate applies.
func (r *Runner) Prev(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.currentPage == 0 {
		r.mu.Unlock()
		return nil
	}
	r.currentPage--
	req := r.saveRequestLocked(false)
	r.mu.Unlock()

	if err := r.api.SaveProgress(ctx, r.assessmentID, req); err != nil {
		r.reportSaveError(err)
	}
	return nil
}

// CanSubmit reports whether every question has a non-empty answer.
func (r *Runner) CanSubmit() bool {
	return r.MissingCount() == 0
}

// MissingCount returns how many questions still lack an answer.
func (r *Runner) MissingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	missing := 0
	for _, q := range r.questions {
		if v, ok := r.answers[q.ID]; !ok || v == "" {
			missing++
		}
	}
	return missing
}

// Submit sends the complete answer set for grading. Rejected locally when
// any question is unanswered. On failure the session stays open for retry;
// on success the runner is closed and the summary returned.
func (r *Runner) Submit(ctx context.Context) (json.RawMessage, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	missing := 0
	for _, q := range r.questions {
		if v, ok := r.answers[q.ID]; !ok || v == "" {
			missing++
		}
	}
	if missing > 0 {
		r.mu.Unlock()
		return nil, &UnansweredError{Count: missing}
	}
	answers := make(map[string]string, len(r.answers))
	for k, v := range r.answers {
		answers[k] = v
	}
	elapsed := r.elapsedLocked()
	r.mu.Unlock()

	summary, err := r.api.Submit(ctx, r.assessmentID, answers, elapsed)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.elapsedBase = elapsed
	r.closed = true
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.mu.Unlock()
	return summary, nil
}

// SwitchVariant restarts the session on a different question-set variant.
// In-memory answers are discarded and paging restarts at zero; both tiers
// are reset to match. This is a deliberate reset.
func (r *Runner) SwitchVariant(ctx context.Context, variant string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.mu.Unlock()

	qs, err := r.api.GetQuestions(ctx, r.typ, variant)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	r.mu.Lock()
	r.variant = variant
	r.applyQuestionSet(qs)
	r.answers = map[string]string{}
	r.currentPage = 0
	req := r.saveRequestLocked(false)
	prog := Progress{Answers: map[string]string{}, CurrentPage: 0, ElapsedTime: req.ElapsedTime, SavedAt: r.now()}
	r.mu.Unlock()

	StoreLocalQuestions(r.store, r.assessmentID, *qs)
	StoreLocalProgress(r.store, r.assessmentID, prog)
	if err := r.api.SaveProgress(ctx, r.assessmentID, req); err != nil {
		r.reportSaveError(err)
	}
	return nil
}

// Close flushes the session for teardown: the debounce wait is canceled,
// the local tier is written synchronously, and a paused remote save goes
// out fire-and-forget. That last write may be lost; the reconciler's
// larger-answer-set rule absorbs it on the next resume. Returns the pause
// snapshot for the envelope update. Idempotent.
func (r *Runner) Close() *ProgressSnapshot {
	r.mu.Lock()
	if r.closed {
		snap := Snapshot(len(r.answers), len(r.questions))
		r.mu.Unlock()
		return snap
	}
	r.elapsedBase = r.elapsedLocked()
	r.closed = true
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	req := r.saveRequestLocked(true)
	prog := Progress{
		Answers:     req.Answers,
		CurrentPage: req.CurrentPage,
		ElapsedTime: req.ElapsedTime,
		SavedAt:     r.now(),
	}
	snap := Snapshot(len(r.answers), len(r.questions))
	r.mu.Unlock()

	StoreLocalProgress(r.store, r.assessmentID, prog)
	r.api.SaveProgressAsync(r.assessmentID, req)
	return snap
}

// Closed reports whether the runner has been closed or submitted.
func (r *Runner) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// AssessmentID returns the session's assessment id.
func (r *Runner) AssessmentID() uint { return r.assessmentID }

// Variant returns the question-set variant currently in use.
func (r *Runner) Variant() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.variant
}

func (r *Runner) reportSaveError(err error) {
	if r.onSaveError != nil {
		r.onSaveError(err)
		return
	}
	log.Printf("session: save failed for assessment %d: %v", r.assessmentID, err)
}
