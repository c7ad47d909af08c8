package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tutorbook/internal/metrics"
	"tutorbook/internal/slots"
	"tutorbook/internal/timemath"
	"tutorbook/internal/tutorapi"
)

// Backend is the marketplace API the session talks to.
type Backend interface {
	GetTutor(ctx context.Context, tutorID string) (*tutorapi.Tutor, error)
	GetAvailability(ctx context.Context, tutorID string, start, end time.Time) (*tutorapi.AvailabilityResponse, error)
	CreateLesson(ctx context.Context, req tutorapi.LessonRequest) (*tutorapi.Lesson, error)
}

// Journal records submission outcomes.
type Journal interface {
	RecordSubmission(ctx context.Context, sub Submission) error
}

// Submission statuses.
const (
	SubmissionCreated = "created"
	SubmissionFailed  = "failed"
)

// Submission is one hand-off of a lesson draft to the backend.
type Submission struct {
	SessionID string
	LessonID  string
	Status    string
	Error     string
	Draft     LessonDraft
	CreatedAt time.Time
}

// Receipt is returned by a successful Submit.
type Receipt struct {
	LessonID string      `json:"lesson_id"`
	Status   string      `json:"status"`
	Draft    LessonDraft `json:"draft"`
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Backend Backend
	Journal Journal
	Policy  func() slots.Policy
	Clock   Clock
	Format  Formatter
	Logger  *zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Policy == nil {
		d.Policy = slots.DefaultPolicy
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.Format == nil {
		d.Format = DefaultFormatter
	}
	if d.Logger == nil {
		nop := zerolog.Nop()
		d.Logger = &nop
	}
	return d
}

type loadTag struct {
	seq     uint64
	tutorID string
	month   string
}

// Session holds one student's booking in progress. A day change clears the
// chosen blocks under the same lock, and only the latest availability load
// may update the session.
type Session struct {
	ID        string
	StudentID string
	CreatedAt time.Time

	deps   Deps
	fsm    *FSM
	logger zerolog.Logger

	mu        sync.Mutex
	step      Step
	updatedAt time.Time

	tutorID   string
	tutorName string
	month     time.Time
	rate      float64
	slots     []slots.AvailabilitySlot
	loading   bool
	loadErr   error

	sel    Selection
	fields FormFields

	seq        uint64
	cancel     context.CancelFunc
	submitting bool
	lessonID   string
}

func newSession(id, studentID string, deps Deps, fsm *FSM) *Session {
	now := deps.Clock.Now()
	return &Session{
		ID:        id,
		StudentID: studentID,
		CreatedAt: now,
		deps:      deps,
		fsm:       fsm,
		logger:    deps.Logger.With().Str("session_id", id).Logger(),
		step:      StepIdle,
		updatedAt: now,
	}
}

// LoadMonth fetches the tutor's profile and availability for month and
// replaces the session's availability. A call made while another load is in
// flight cancels the older one; a late response from it returns
// ErrSuperseded and changes nothing.
func (s *Session) LoadMonth(ctx context.Context, tutorID string, month time.Time) error {
	tutorID = strings.TrimSpace(tutorID)
	if tutorID == "" {
		return &ValidationError{Code: CodeMissingField, Field: "tutor_id"}
	}
	first, last := slots.MonthRange(month)

	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return ErrSubmitInProgress
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	tag := loadTag{seq: s.seq, tutorID: tutorID, month: slots.MonthKey(first)}
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.tutorID = tutorID
	s.tutorName = ""
	s.month = first
	s.rate = 0
	s.slots = nil
	s.loading = true
	s.loadErr = nil
	s.sel = Selection{}
	s.lessonID = ""
	s.step = StepIdle
	s.touch()
	s.mu.Unlock()
	defer cancel()

	tutor, resp, err := s.fetch(loadCtx, tutorID, first, last)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrent(tag) {
		metrics.IncStaleDiscarded()
		s.logger.Debug().
			Str("tutor_id", tag.tutorID).
			Str("month", tag.month).
			Uint64("seq", tag.seq).
			Msg("discarding stale availability response")
		return ErrSuperseded
	}
	s.loading = false
	s.cancel = nil

	if err != nil {
		metrics.IncAvailabilityFetch("error")
		s.loadErr = err
		s.logger.Error().Err(err).Str("tutor_id", tutorID).Str("month", tag.month).Msg("availability fetch failed")
		return err
	}
	metrics.IncAvailabilityFetch("ok")

	p := s.deps.Policy()
	all, rejected := slots.Ingest(toRawSlots(resp.AvailableSlots), p.Loc())
	for _, rerr := range rejected {
		s.logger.Warn().Err(rerr).Str("tutor_id", tutorID).Msg("dropping malformed availability entry")
	}

	s.tutorName = tutor.Name
	s.rate = tutor.HourlyRate
	s.slots = all
	s.step = StepTutor
	s.touch()
	return nil
}

func (s *Session) fetch(ctx context.Context, tutorID string, first, last time.Time) (*tutorapi.Tutor, *tutorapi.AvailabilityResponse, error) {
	tutor, err := s.deps.Backend.GetTutor(ctx, tutorID)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.deps.Backend.GetAvailability(ctx, tutorID, first, last)
	if err != nil {
		return nil, nil, err
	}
	return tutor, resp, nil
}

func (s *Session) isCurrent(tag loadTag) bool {
	return tag.seq == s.seq && tag.tutorID == s.tutorID && tag.month == slots.MonthKey(s.month)
}

// SelectDay picks a day from the selectable set and clears any chosen block.
func (s *Session) SelectDay(date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutable(StepDay); err != nil {
		return err
	}
	if !s.indexLocked().Selectable(date) {
		return ErrDayNotSelectable
	}
	s.sel = Selection{Day: timemath.DayOf(date)}
	s.step = StepDay
	s.touch()
	return nil
}

// PickBlock chooses the block starting at startMinute among the day's
// offered start options. Any extension is dropped.
func (s *Session) PickBlock(startMinute int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutable(StepBlock); err != nil {
		return err
	}
	_, offered := s.offeredLocked(s.deps.Policy(), s.deps.Clock.Now())
	b, ok := slots.FindOption(offered, startMinute)
	if !ok {
		return ErrBlockNotOffered
	}
	s.sel.Primary = &b
	s.sel.Adjacent = nil
	s.settle()
	return nil
}

// ClearBlock drops the chosen blocks and keeps the day.
func (s *Session) ClearBlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutable(StepDay); err != nil {
		return err
	}
	if s.sel.Day.IsZero() {
		return ErrNoDay
	}
	s.sel.Clear()
	s.step = StepDay
	s.touch()
	return nil
}

// SetExtended adds or removes the block directly after the chosen one.
func (s *Session) SetExtended(extend bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkMutable(StepBlock); err != nil {
		return err
	}
	if s.sel.Primary == nil {
		return ErrNoBlock
	}
	if !extend {
		s.sel.Adjacent = nil
		s.settle()
		return nil
	}
	day := slots.FilterDay(s.slots, s.sel.Day)
	next, ok := slots.FindAdjacent(*s.sel.Primary, day.Slots, s.deps.Policy())
	if !ok {
		return ErrExtensionUnavailable
	}
	s.sel.Adjacent = &next
	s.settle()
	return nil
}

// SetFields stores the lesson details.
func (s *Session) SetFields(f FormFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return ErrSubmitInProgress
	}
	if s.step == StepSubmitted {
		return ErrInvalidStep
	}
	s.fields = f
	if s.sel.Primary != nil {
		s.settle()
	}
	s.touch()
	return nil
}

// Finalize validates the current selection and fields into a draft.
func (s *Session) Finalize() (LessonDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeLocked()
}

func (s *Session) finalizeLocked() (LessonDraft, error) {
	who := Participants{TutorID: s.tutorID, StudentID: s.StudentID, HourlyRate: s.rate}
	draft, err := Finalize(s.sel, who, s.fields, s.deps.Policy(), s.deps.Format)

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		metrics.IncDraftValidation(verr.Code)
	case err == nil:
		metrics.IncDraftValidation("ok")
	}
	return draft, err
}

// Submit validates the draft and creates the lesson on the backend. Every
// outcome that reaches the backend is recorded in the journal.
func (s *Session) Submit(ctx context.Context) (*Receipt, error) {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	if s.step == StepSubmitted {
		s.mu.Unlock()
		return nil, ErrInvalidStep
	}
	if err := s.revalidateLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	draft, err := s.finalizeLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.submitting = true
	s.mu.Unlock()

	lesson, err := s.deps.Backend.CreateLesson(ctx, draft.Request())
	s.record(ctx, draft, lesson, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	s.touch()

	if err != nil {
		metrics.IncLessonCreated("error")
		s.logger.Error().Err(err).Str("tutor_id", draft.TutorID).Msg("lesson submission failed")
		return nil, err
	}
	metrics.IncLessonCreated("created")
	s.logger.Info().
		Str("lesson_id", lesson.ID).
		Str("tutor_id", draft.TutorID).
		Time("start", draft.StartTime).
		Int("duration_minutes", draft.DurationMinutes).
		Msg("lesson submitted")

	s.lessonID = lesson.ID
	s.step = StepSubmitted
	return &Receipt{LessonID: lesson.ID, Status: lesson.Status, Draft: draft}, nil
}

func (s *Session) record(ctx context.Context, draft LessonDraft, lesson *tutorapi.Lesson, sendErr error) {
	if s.deps.Journal == nil {
		return
	}
	sub := Submission{
		SessionID: s.ID,
		Status:    SubmissionCreated,
		Draft:     draft,
		CreatedAt: s.deps.Clock.Now(),
	}
	if sendErr != nil {
		sub.Status = SubmissionFailed
		sub.Error = sendErr.Error()
	} else if lesson != nil {
		sub.LessonID = lesson.ID
	}
	if err := s.deps.Journal.RecordSubmission(context.WithoutCancel(ctx), sub); err != nil {
		s.logger.Error().Err(err).Msg("failed to record submission")
	}
}

// close cancels an in-flight availability load.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Step returns the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// IsExpired reports whether the session has been idle longer than timeout.
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Clock.Now().Sub(s.updatedAt) > timeout
}

func (s *Session) checkMutable(to Step) error {
	if s.submitting {
		return ErrSubmitInProgress
	}
	return s.fsm.guard(s.step, to)
}

// settle moves a session with a chosen block to block or ready.
func (s *Session) settle() {
	switch {
	case s.sel.Primary == nil:
		s.step = StepDay
	case fieldsComplete(s.fields):
		s.step = StepReady
	default:
		s.step = StepBlock
	}
	s.touch()
}

// offeredLocked returns the selected day and the blocks it offers at now.
// A day that has left the selectable set offers nothing.
func (s *Session) offeredLocked(p slots.Policy, now time.Time) (slots.DayAvailability, []slots.Block) {
	day, ok := slots.BuildIndex(s.slots, now, p).Day(s.sel.Day)
	if !ok {
		return slots.FilterDay(s.slots, s.sel.Day), nil
	}
	return day, slots.GenerateStartOptions(day, now, p)
}

// revalidateLocked checks the chosen blocks against the current clock and
// policy. A block that is no longer offered, or an extension that no longer
// fits, clears the selection back to the day step.
func (s *Session) revalidateLocked() error {
	if s.sel.Primary == nil {
		return nil
	}
	p := s.deps.Policy()
	day, offered := s.offeredLocked(p, s.deps.Clock.Now())

	b, ok := slots.FindOption(offered, s.sel.Primary.Start)
	ok = ok && b == *s.sel.Primary
	if ok && s.sel.Adjacent != nil {
		next, fits := slots.FindAdjacent(b, day.Slots, p)
		ok = fits && next == *s.sel.Adjacent
	}
	if ok {
		return nil
	}

	s.logger.Info().
		Str("date", slots.DateKey(s.sel.Day)).
		Str("start", timemath.FormatMinutes(s.sel.Primary.Start)).
		Msg("chosen block is no longer offered, selection cleared")
	s.sel.Clear()
	s.step = StepDay
	s.touch()
	return ErrBlockNotOffered
}

func (s *Session) touch() {
	s.updatedAt = s.deps.Clock.Now()
}

func (s *Session) indexLocked() slots.Index {
	return slots.BuildIndex(s.slots, s.deps.Clock.Now(), s.deps.Policy())
}

func fieldsComplete(f FormFields) bool {
	return strings.TrimSpace(f.Title) != "" &&
		strings.TrimSpace(f.Subject) != "" &&
		strings.TrimSpace(f.Level) != ""
}

func toRawSlots(in []tutorapi.Slot) []slots.RawSlot {
	out := make([]slots.RawSlot, 0, len(in))
	for _, s := range in {
		out = append(out, slots.RawSlot{Date: s.Date, StartTime: s.StartTime, EndTime: s.EndTime})
	}
	return out
}
