package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type logPG struct{ pool *pgxpool.Pool }

// NewLogPG returns a Log backed by the audit_events table. Deduplication of
// redelivered events rides on the unique (patient_id, record_version_after)
// index.
func NewLogPG(pool *pgxpool.Pool) Log { return &logPG{pool: pool} }

func (l *logPG) Record(ctx context.Context, ev *Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO audit_events (id, patient_id, from_state, to_state, actor, record_version_after, recorded)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (patient_id, record_version_after) DO NOTHING`,
		ev.ID, ev.PatientID, ev.FromState, ev.ToState, ev.Actor, ev.RecordVersionAfter, ev.Recorded)
	return err
}

func (l *logPG) History(ctx context.Context, patientID uuid.UUID) ([]*Event, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, seq, patient_id, from_state, to_state, actor, record_version_after, recorded
		FROM audit_events WHERE patient_id = $1 ORDER BY seq`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.PatientID, &ev.FromState, &ev.ToState,
			&ev.Actor, &ev.RecordVersionAfter, &ev.Recorded); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
