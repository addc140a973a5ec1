package triage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medqueue/medqueue/internal/domain/audit"
)

// Actors stamped on audit events for transitions the engine triggers
// itself rather than on behalf of a dashboard caller.
const (
	ActorSystem    = "system"
	ActorPredictor = "predictor"
)

// Predictor produces a whole-queue wait prediction from the symptom codes
// and current queue depth. Implementations may be slow and may fail; the
// engine never calls it while holding its mutex.
type Predictor interface {
	Predict(ctx context.Context, symptomCodes []string, queueSize int) (float64, error)
}

// EngineConfig tunes an Engine. Zero values fall back to defaults.
type EngineConfig struct {
	Policy Policy
	Logger zerolog.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine owns the live patient set. All mutations are serialized through a
// single mutex; durable writes never happen while it is held. A mutation is
// staged under the mutex (so concurrent callers cannot claim or re-mutate
// the same record), written durably together with its audit event, and only
// then committed to the visible in-memory state — or rolled back. Waiters
// park on a condition variable until in-flight writes settle, which keeps
// NextForService linearizable without racing the durability boundary.
type Engine struct {
	store     Store
	auditLog  audit.Log
	predictor Predictor
	policy    Policy
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	entries map[uuid.UUID]*entry
	queue   waitQueue

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(store Store, auditLog audit.Log, predictor Predictor, cfg EngineConfig) *Engine {
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	eng := &Engine{
		store:     store,
		auditLog:  auditLog,
		predictor: predictor,
		policy:    cfg.Policy,
		logger:    cfg.Logger.With().Str("component", "triage_engine").Logger(),
		now:       cfg.Clock,
		entries:   make(map[uuid.UUID]*entry),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	eng.cond = sync.NewCond(&eng.mu)
	return eng
}

// Load rebuilds the in-memory queue from the durable store after a restart.
// Records stranded in Predicting get their prediction re-requested.
func (eng *Engine) Load(ctx context.Context) error {
	records, err := eng.store.ListActive(ctx)
	if err != nil {
		return err
	}

	eng.mu.Lock()
	var resume []uuid.UUID
	for _, rec := range records {
		e := &entry{rec: rec, heapIndex: -1}
		eng.entries[rec.ID] = e
		if rec.State.claimable() {
			eng.queue.push(e)
		}
		if rec.State == StatePredicting {
			resume = append(resume, rec.ID)
		}
	}
	eng.mu.Unlock()

	for _, id := range resume {
		eng.schedulePrediction(id)
	}
	eng.logger.Info().Int("active", len(records)).Int("resumed_predictions", len(resume)).
		Msg("queue reloaded from store")
	return nil
}

// Close stops background prediction work and waits for it to drain.
func (eng *Engine) Close() {
	eng.cancel()
	eng.wg.Wait()
}

// Enqueue validates the intake, durably creates the Waiting record with its
// intake audit event, makes it visible to the queue, and schedules the
// asynchronous ETA refinement. It never blocks on the predictor.
func (eng *Engine) Enqueue(ctx context.Context, symptoms []Symptom, arrivalTime time.Time, actor string) (uuid.UUID, error) {
	if len(symptoms) == 0 {
		return uuid.Nil, &ValidationError{Field: "symptoms", Reason: "at least one symptom is required"}
	}
	cleaned := make([]Symptom, 0, len(symptoms))
	for _, s := range symptoms {
		if s.Code == "" {
			return uuid.Nil, &ValidationError{Field: "symptoms", Reason: "symptom code must not be empty"}
		}
		if s.Severity == 0 {
			s.Severity = DefaultSeverity(s.Code)
		}
		if s.Severity < MinSeverity || s.Severity > MaxSeverity {
			return uuid.Nil, &ValidationError{Field: "symptoms", Reason: "severity out of bounds"}
		}
		cleaned = append(cleaned, s)
	}

	now := eng.now()
	if arrivalTime.IsZero() {
		arrivalTime = now
	}
	rec := &Record{
		ID:          uuid.New(),
		Symptoms:    cleaned,
		ArrivalTime: arrivalTime,
		State:       StateWaiting,
		Severity:    SeverityOf(cleaned),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ev := eng.eventFor(rec, "", actor)

	// The id is fresh, so nothing can observe the record before this write
	// lands; log-before-apply holds without staging.
	if err := eng.store.ApplyTransition(ctx, rec, ev); err != nil {
		return uuid.Nil, err
	}

	eng.mu.Lock()
	e := &entry{rec: rec, heapIndex: -1}
	eng.entries[rec.ID] = e
	eng.queue.push(e)
	eng.cond.Broadcast()
	eng.mu.Unlock()

	eng.logger.Info().Str("patient_id", rec.ID.String()).Int("severity", rec.Severity).
		Str("actor", actor).Msg("patient enqueued")
	eng.schedulePrediction(rec.ID)
	return rec.ID, nil
}

// NextForService atomically claims the highest-priority waiting patient for
// the doctor. Concurrent callers never receive the same patient, and no
// patient is skipped past a settling higher-priority one.
func (eng *Engine) NextForService(ctx context.Context, doctorID uuid.UUID, actor string) (*Record, error) {
	eng.mu.Lock()
	var e *entry
	for {
		head := eng.queue.peek()
		if head == nil {
			if eng.stagedClaimableLocked(nil) {
				eng.cond.Wait()
				continue
			}
			eng.mu.Unlock()
			return nil, ErrEmptyQueue
		}
		if head.inflight || eng.stagedClaimableLocked(head) {
			eng.cond.Wait()
			continue
		}
		e = eng.queue.popMin()
		break
	}

	next := e.rec.clone()
	next.State = StateInService
	doc := doctorID
	next.AssignedDoctor = &doc
	next.Version++
	next.UpdatedAt = eng.now()
	ev := eng.eventFor(next, e.rec.State, actor)
	e.inflight = true
	eng.mu.Unlock()

	if err := eng.finishTransition(ctx, e, next, ev); err != nil {
		return nil, err
	}
	eng.logger.Info().Str("patient_id", next.ID.String()).Str("doctor_id", doctorID.String()).
		Msg("patient claimed for service")
	return next.clone(), nil
}

// ClaimForService is the manual override: it claims a specific patient
// instead of the queue head, guarded by the caller's expected version.
func (eng *Engine) ClaimForService(ctx context.Context, patientID, doctorID uuid.UUID, expectedVersion int64, actor string) (*Record, error) {
	eng.mu.Lock()
	e, ok := eng.entries[patientID]
	if !ok {
		eng.mu.Unlock()
		return nil, eng.missing(ctx, patientID)
	}
	for e.inflight {
		eng.cond.Wait()
	}
	if !e.rec.State.claimable() {
		eng.mu.Unlock()
		return nil, ErrNotWaiting
	}
	if e.rec.Version != expectedVersion {
		eng.mu.Unlock()
		return nil, ErrVersionConflict
	}

	next := e.rec.clone()
	next.State = StateInService
	doc := doctorID
	next.AssignedDoctor = &doc
	next.Version++
	next.UpdatedAt = eng.now()
	ev := eng.eventFor(next, e.rec.State, actor)
	e.inflight = true
	eng.queue.remove(e)
	eng.mu.Unlock()

	if err := eng.finishTransition(ctx, e, next, ev); err != nil {
		return nil, err
	}
	return next.clone(), nil
}

// CompleteVisit moves an in-service patient to Completed.
func (eng *Engine) CompleteVisit(ctx context.Context, patientID uuid.UUID, expectedVersion int64, actor string) error {
	return eng.finishVisit(ctx, patientID, expectedVersion, actor, StateCompleted)
}

// Cancel withdraws a waiting or in-service patient.
func (eng *Engine) Cancel(ctx context.Context, patientID uuid.UUID, expectedVersion int64, actor string) error {
	return eng.finishVisit(ctx, patientID, expectedVersion, actor, StateCancelled)
}

func (eng *Engine) finishVisit(ctx context.Context, patientID uuid.UUID, expectedVersion int64, actor string, to State) error {
	eng.mu.Lock()
	e, ok := eng.entries[patientID]
	if !ok {
		eng.mu.Unlock()
		return eng.missing(ctx, patientID)
	}
	for e.inflight {
		eng.cond.Wait()
	}
	allowed := e.rec.State == StateInService
	if to == StateCancelled {
		allowed = allowed || e.rec.State.claimable()
	}
	if !allowed {
		eng.mu.Unlock()
		return ErrInvalidTransition
	}
	if e.rec.Version != expectedVersion {
		eng.mu.Unlock()
		return ErrVersionConflict
	}

	next := e.rec.clone()
	next.State = to
	next.Version++
	next.UpdatedAt = eng.now()
	ev := eng.eventFor(next, e.rec.State, actor)
	e.inflight = true
	eng.queue.remove(e)
	eng.mu.Unlock()

	return eng.finishTransition(ctx, e, next, ev)
}

// RefreshEta is the predictor callback. A nil prediction means the adapter
// exhausted its retries; the patient simply returns to Waiting with the ETA
// left unknown. Predictions arriving after the patient left the queue are
// dropped silently.
func (eng *Engine) RefreshEta(ctx context.Context, patientID uuid.UUID, predictedTotal *float64) error {
	eng.mu.Lock()
	e, ok := eng.entries[patientID]
	if !ok {
		eng.mu.Unlock()
		// Terminal or unknown: stale predictions are discarded, missing
		// records are the caller's error.
		if _, err := eng.store.Get(ctx, patientID); err != nil {
			return ErrNotFound
		}
		return nil
	}
	for e.inflight {
		eng.cond.Wait()
	}
	if !e.rec.State.claimable() {
		eng.mu.Unlock()
		return nil
	}
	if predictedTotal == nil && e.rec.State == StateWaiting {
		// Nothing to record.
		eng.mu.Unlock()
		return nil
	}

	next := e.rec.clone()
	next.State = StateWaiting
	next.Version++
	next.UpdatedAt = eng.now()
	if predictedTotal != nil {
		now := eng.now()
		mpp := MinutesPerPatient(*predictedTotal, eng.queue.Len())
		score := eng.policy.Score(next.Severity, next.ArrivalTime, now)
		eta := EstimateWait(mpp, eng.aheadOfLocked(e), score)
		next.EtaMinutes = &eta
	}
	ev := eng.eventFor(next, e.rec.State, ActorPredictor)
	// The entry keeps its queue slot: its committed rank inputs are
	// unchanged until commit, which re-fixes the heap.
	e.inflight = true
	eng.mu.Unlock()

	return eng.finishTransition(ctx, e, next, ev)
}

// Snapshot returns a consistent point-in-time view: waiting patients in
// service order with aged scores, then in-service patients. Committed
// records are immutable, so only references are copied under the mutex.
func (eng *Engine) Snapshot() *QueueSnapshot {
	now := eng.now()

	eng.mu.Lock()
	waiting := make([]*Record, 0, eng.queue.Len())
	var inService []*Record
	for _, e := range eng.entries {
		switch {
		case e.rec.State.claimable():
			waiting = append(waiting, e.rec)
		case e.rec.State == StateInService:
			inService = append(inService, e.rec)
		}
	}
	eng.mu.Unlock()

	sort.Slice(waiting, func(i, j int) bool { return rankLess(waiting[i], waiting[j]) })
	sort.Slice(inService, func(i, j int) bool {
		return inService[i].ArrivalTime.Before(inService[j].ArrivalTime)
	})

	snap := &QueueSnapshot{TakenAt: now}
	for i, rec := range waiting {
		v := eng.viewOf(rec, now)
		v.Position = i + 1
		snap.Waiting = append(snap.Waiting, v)
	}
	for _, rec := range inService {
		snap.InService = append(snap.InService, eng.viewOf(rec, now))
	}
	return snap
}

// Get returns a single patient view, falling back to the durable store for
// completed and cancelled records.
func (eng *Engine) Get(ctx context.Context, patientID uuid.UUID) (*View, error) {
	eng.mu.Lock()
	e, ok := eng.entries[patientID]
	var rec *Record
	if ok {
		rec = e.rec
	}
	eng.mu.Unlock()

	if rec == nil {
		stored, err := eng.store.Get(ctx, patientID)
		if err != nil {
			return nil, ErrNotFound
		}
		rec = stored
	}
	return eng.viewOf(rec, eng.now()), nil
}

// History returns the patient's full audit trail in chronological order.
func (eng *Engine) History(ctx context.Context, patientID uuid.UUID) ([]*audit.Event, error) {
	events, err := eng.auditLog.History(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events, nil
}

// -- internals --

// finishTransition runs the staged durable write and commits or rolls back
// the in-memory state. Callers hold no lock and have already marked the
// entry in flight (and, for claims and cancels, removed it from the queue).
func (eng *Engine) finishTransition(ctx context.Context, e *entry, next *Record, ev *audit.Event) error {
	err := eng.store.ApplyTransition(ctx, next, ev)

	eng.mu.Lock()
	defer func() {
		eng.cond.Broadcast()
		eng.mu.Unlock()
	}()

	e.inflight = false
	if err != nil {
		if e.rec.State.claimable() && e.heapIndex < 0 {
			eng.queue.push(e)
		}
		eng.logger.Error().Err(err).Str("patient_id", next.ID.String()).
			Str("to_state", string(next.State)).Msg("transition rolled back")
		return err
	}

	wasQueued := e.heapIndex >= 0
	e.rec = next
	switch {
	case next.State.claimable() && wasQueued:
		eng.queue.fix(e)
	case next.State.claimable():
		eng.queue.push(e)
	case wasQueued:
		eng.queue.remove(e)
	}
	if next.State.Terminal() {
		delete(eng.entries, next.ID)
	}
	return nil
}

// stagedClaimableLocked reports whether any claimable record has a staged
// claim or cancel in flight that could still roll back ahead of head (all
// of them, when head is nil). NextForService must let those settle before
// deciding the queue order or emptiness.
func (eng *Engine) stagedClaimableLocked(head *entry) bool {
	for _, e := range eng.entries {
		if !e.inflight || e.heapIndex >= 0 || !e.rec.State.claimable() {
			continue
		}
		if head == nil || rankLess(e.rec, head.rec) {
			return true
		}
	}
	return false
}

// aheadOfLocked counts queued patients ranked before e.
func (eng *Engine) aheadOfLocked(e *entry) int {
	ahead := 0
	for _, other := range eng.queue {
		if other != e && rankLess(other.rec, e.rec) {
			ahead++
		}
	}
	return ahead
}

// missing distinguishes "never existed" from "already terminal" for
// callers that hit the entries map miss. Called without the mutex held.
func (eng *Engine) missing(ctx context.Context, patientID uuid.UUID) error {
	rec, err := eng.store.Get(ctx, patientID)
	if err != nil {
		return ErrNotFound
	}
	if rec.State.Terminal() {
		return ErrInvalidTransition
	}
	return ErrNotFound
}

func (eng *Engine) eventFor(next *Record, from State, actor string) *audit.Event {
	return &audit.Event{
		PatientID:          next.ID,
		FromState:          string(from),
		ToState:            string(next.State),
		Actor:              actor,
		RecordVersionAfter: next.Version,
		Recorded:           eng.now(),
	}
}

func (eng *Engine) viewOf(rec *Record, now time.Time) *View {
	v := &View{
		ID:          rec.ID,
		Symptoms:    rec.Symptoms,
		ArrivalTime: rec.ArrivalTime,
		State:       rec.State,
		Severity:    rec.Severity,
		Version:     rec.Version,
	}
	if rec.State.claimable() {
		// Predicting is not a distinct public state.
		v.State = StateWaiting
		v.PriorityScore = eng.policy.Score(rec.Severity, rec.ArrivalTime, now)
	}
	if rec.EtaMinutes != nil {
		eta := *rec.EtaMinutes
		v.EtaMinutes = &eta
		v.EstimatedWait = &eta
	}
	if rec.AssignedDoctor != nil {
		doc := *rec.AssignedDoctor
		v.AssignedDoctor = &doc
	}
	return v
}

// schedulePrediction kicks off the asynchronous ETA refinement for a newly
// enqueued (or reloaded mid-prediction) patient.
func (eng *Engine) schedulePrediction(patientID uuid.UUID) {
	if eng.predictor == nil {
		return
	}
	eng.wg.Add(1)
	go func() {
		defer eng.wg.Done()
		eng.runPrediction(patientID)
	}()
}

func (eng *Engine) runPrediction(patientID uuid.UUID) {
	ctx := eng.baseCtx

	codes, queueSize, ok := eng.beginPredicting(ctx, patientID)
	if !ok {
		return
	}

	total, err := eng.predictor.Predict(ctx, codes, queueSize)
	if err != nil {
		eng.logger.Warn().Err(err).Str("patient_id", patientID.String()).
			Msg("prediction unavailable, eta left unknown")
		_ = eng.RefreshEta(ctx, patientID, nil)
		return
	}
	if err := eng.RefreshEta(ctx, patientID, &total); err != nil {
		eng.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("eta refresh failed")
	}
}

// beginPredicting transitions Waiting -> Predicting so duplicate predictor
// calls for one record cannot overlap, and gathers the feature inputs.
func (eng *Engine) beginPredicting(ctx context.Context, patientID uuid.UUID) ([]string, int, bool) {
	eng.mu.Lock()
	e, ok := eng.entries[patientID]
	if !ok {
		eng.mu.Unlock()
		return nil, 0, false
	}
	for e.inflight {
		eng.cond.Wait()
	}

	features := func() ([]string, int) {
		codes := make([]string, 0, len(e.rec.Symptoms))
		for _, s := range e.rec.Symptoms {
			codes = append(codes, s.Code)
		}
		return codes, eng.queue.Len()
	}

	if e.rec.State == StatePredicting {
		// Reloaded mid-prediction; just resume the call.
		codes, size := features()
		eng.mu.Unlock()
		return codes, size, true
	}
	if e.rec.State != StateWaiting {
		eng.mu.Unlock()
		return nil, 0, false
	}

	next := e.rec.clone()
	next.State = StatePredicting
	next.Version++
	next.UpdatedAt = eng.now()
	ev := eng.eventFor(next, e.rec.State, ActorSystem)
	codes, size := features()
	e.inflight = true
	eng.mu.Unlock()

	if err := eng.finishTransition(ctx, e, next, ev); err != nil {
		eng.logger.Warn().Err(err).Str("patient_id", patientID.String()).
			Msg("could not mark record predicting")
		return nil, 0, false
	}
	return codes, size, true
}
