package triage

import (
	"time"

	"github.com/google/uuid"
)

// State is a patient's position in the service lifecycle. Predicting is a
// transient sub-state of Waiting: it guards against duplicate predictor
// calls and is ranked and claimable exactly like Waiting.
type State string

const (
	StateWaiting    State = "waiting"
	StatePredicting State = "predicting"
	StateInService  State = "in_service"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// claimable reports whether nextForService / claim may take the patient.
func (s State) claimable() bool {
	return s == StateWaiting || s == StatePredicting
}

// Symptom is one reported complaint with its severity score. Symptoms are
// immutable after intake; corrections are a new intake.
type Symptom struct {
	Code     string `db:"code" json:"code"`
	Severity int    `db:"severity" json:"severity"`
}

// Record is the durable patient record. Version increases on every
// mutation and is the optimistic-concurrency token for CompleteVisit,
// Cancel and ClaimForService.
type Record struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Symptoms       []Symptom  `db:"symptoms" json:"symptoms"`
	ArrivalTime    time.Time  `db:"arrival_time" json:"arrival_time"`
	State          State      `db:"state" json:"state"`
	Severity       int        `db:"severity" json:"severity"`
	EtaMinutes     *float64   `db:"eta_minutes" json:"eta_minutes,omitempty"`
	AssignedDoctor *uuid.UUID `db:"assigned_doctor" json:"assigned_doctor,omitempty"`
	Version        int64      `db:"version" json:"version"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Symptoms = append([]Symptom(nil), r.Symptoms...)
	if r.EtaMinutes != nil {
		eta := *r.EtaMinutes
		cp.EtaMinutes = &eta
	}
	if r.AssignedDoctor != nil {
		doc := *r.AssignedDoctor
		cp.AssignedDoctor = &doc
	}
	return &cp
}

// View is a dashboard-facing projection of one record at a point in time.
// PriorityScore and EstimatedWait age with the clock, so they are computed
// per snapshot rather than stored.
type View struct {
	ID             uuid.UUID  `json:"id"`
	Symptoms       []Symptom  `json:"symptoms"`
	ArrivalTime    time.Time  `json:"arrival_time"`
	State          State      `json:"state"`
	Severity       int        `json:"severity"`
	PriorityScore  float64    `json:"priority_score"`
	Position       int        `json:"position,omitempty"`
	EtaMinutes     *float64   `json:"eta_minutes,omitempty"`
	EstimatedWait  *float64   `json:"estimated_wait_minutes,omitempty"`
	AssignedDoctor *uuid.UUID `json:"assigned_doctor,omitempty"`
	Version        int64      `json:"version"`
}

// QueueSnapshot is a consistent point-in-time view of the live queue:
// waiting patients (including predicting) in service order, then everyone
// currently with a doctor.
type QueueSnapshot struct {
	TakenAt   time.Time `json:"taken_at"`
	Waiting   []*View   `json:"waiting"`
	InService []*View   `json:"in_service"`
}
