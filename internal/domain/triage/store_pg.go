package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqueue/medqueue/internal/domain/audit"
)

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns a Store over the patients and audit_events tables.
// Both writes of ApplyTransition run in a single transaction, and the
// version guard on the patients UPDATE enforces the no-lost-updates
// invariant at the durability boundary as well.
func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

const patientCols = `id, symptoms, arrival_time, state, severity, eta_minutes,
	assigned_doctor, version, created_at, updated_at`

func scanPatient(row pgx.Row) (*Record, error) {
	var (
		rec      Record
		symptoms []byte
	)
	err := row.Scan(&rec.ID, &symptoms, &rec.ArrivalTime, &rec.State, &rec.Severity,
		&rec.EtaMinutes, &rec.AssignedDoctor, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(symptoms, &rec.Symptoms); err != nil {
		return nil, fmt.Errorf("decode symptoms: %w", err)
	}
	return &rec, nil
}

func (s *storePG) ApplyTransition(ctx context.Context, rec *Record, ev *audit.Event) error {
	symptoms, err := json.Marshal(rec.Symptoms)
	if err != nil {
		return fmt.Errorf("encode symptoms: %w", err)
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	defer tx.Rollback(ctx)

	// Append the event first so a partial commit can never leave a state
	// the trail does not explain.
	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_events (id, patient_id, from_state, to_state, actor, record_version_after, recorded)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (patient_id, record_version_after) DO NOTHING`,
		ev.ID, ev.PatientID, ev.FromState, ev.ToState, ev.Actor, ev.RecordVersionAfter, ev.Recorded); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	if rec.Version == 1 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO patients (`+patientCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, symptoms, rec.ArrivalTime, rec.State, rec.Severity, rec.EtaMinutes,
			rec.AssignedDoctor, rec.Version, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrVersionConflict
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE patients SET state=$2, eta_minutes=$3, assigned_doctor=$4, version=$5, updated_at=$6
			WHERE id = $1 AND version = $7`,
			rec.ID, rec.State, rec.EtaMinutes, rec.AssignedDoctor, rec.Version, rec.UpdatedAt, rec.Version-1)
		if err != nil {
			return fmt.Errorf("update patient: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrVersionConflict
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	return nil
}

func (s *storePG) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanPatient(s.pool.QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *storePG) ListActive(ctx context.Context) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE state NOT IN ('completed', 'cancelled')
		ORDER BY arrival_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
