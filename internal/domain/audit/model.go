package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is one immutable entry in a patient's state-transition history.
// FromState is empty for the intake event.
type Event struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	Seq                int64     `db:"seq" json:"seq"`
	PatientID          uuid.UUID `db:"patient_id" json:"patient_id"`
	FromState          string    `db:"from_state" json:"from_state,omitempty"`
	ToState            string    `db:"to_state" json:"to_state"`
	Actor              string    `db:"actor" json:"actor"`
	RecordVersionAfter int64     `db:"record_version_after" json:"record_version_after"`
	Recorded           time.Time `db:"recorded" json:"recorded"`
}
