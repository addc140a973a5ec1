package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is the append-only audit trail. Record must tolerate at-least-once
// delivery: an event with an already-recorded (patient_id,
// record_version_after) pair is dropped, not appended twice. History returns
// a patient's events in chronological order.
type Log interface {
	Record(ctx context.Context, ev *Event) error
	History(ctx context.Context, patientID uuid.UUID) ([]*Event, error)
}

type versionKey struct {
	patientID uuid.UUID
	version   int64
}

// MemoryLog keeps the trail in memory. It backs tests and the in-memory
// store; production deployments use LogPG.
type MemoryLog struct {
	mu      sync.Mutex
	events  []*Event
	seen    map[versionKey]bool
	nextSeq int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{seen: make(map[versionKey]bool), nextSeq: 1}
}

func (l *MemoryLog) Record(_ context.Context, ev *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := versionKey{ev.PatientID, ev.RecordVersionAfter}
	if l.seen[key] {
		return nil
	}
	cp := *ev
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.Recorded.IsZero() {
		cp.Recorded = time.Now()
	}
	cp.Seq = l.nextSeq
	l.nextSeq++
	l.seen[key] = true
	l.events = append(l.events, &cp)
	return nil
}

func (l *MemoryLog) History(_ context.Context, patientID uuid.UUID) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Event
	for _, ev := range l.events {
		if ev.PatientID == patientID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
