package main

import (
	"database/sql"
	"fmt"
)

// AppointmentStore keeps synced records for the host application. Fields the
// host owns (reminder_sent, reminder_days) survive later syncs of the same
// event.
type AppointmentStore struct {
	db *sql.DB
}

func NewAppointmentStore(db *sql.DB) *AppointmentStore {
	return &AppointmentStore{db: db}
}

func (s *AppointmentStore) Save(records []AppointmentRecord) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO appointments
		(id, client_name, pet_name, pet_type, client_phone, appointment_date, service_type,
		 reminder_days, reminder_sent, source, source_event_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_name = excluded.client_name,
			pet_name = excluded.pet_name,
			pet_type = excluded.pet_type,
			client_phone = excluded.client_phone,
			appointment_date = excluded.appointment_date,
			service_type = excluded.service_type,
			source = excluded.source,
			source_event_id = excluded.source_event_id`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var rowsAffected int64
	for _, r := range records {
		result, err := stmt.Exec(r.ID, r.ClientName, r.PetName, r.PetType, r.ClientPhone, r.AppointmentDate,
			r.ServiceType, r.ReminderDays, r.ReminderSent, r.Source, r.SourceEventID, r.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("error saving appointment %s: %w", r.ID, err)
		}
		n, _ := result.RowsAffected()
		rowsAffected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

func (s *AppointmentStore) List() ([]AppointmentRecord, error) {
	rows, err := s.db.Query(`SELECT id, client_name, pet_name, pet_type, client_phone, appointment_date,
		service_type, reminder_days, reminder_sent, source, source_event_id, created_at
		FROM appointments ORDER BY appointment_date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []AppointmentRecord{}
	for rows.Next() {
		var r AppointmentRecord
		if err := rows.Scan(&r.ID, &r.ClientName, &r.PetName, &r.PetType, &r.ClientPhone, &r.AppointmentDate,
			&r.ServiceType, &r.ReminderDays, &r.ReminderSent, &r.Source, &r.SourceEventID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning appointment row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneBefore deletes appointments dated before cutoff (YYYY-MM-DD). Dates
// and RFC 3339 instants share a lexical prefix, so string comparison holds.
func (s *AppointmentStore) PruneBefore(cutoff string) (int64, error) {
	result, err := s.db.Exec("DELETE FROM appointments WHERE appointment_date < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *AppointmentStore) MarkReminderSent(id string) error {
	result, err := s.db.Exec("UPDATE appointments SET reminder_sent = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("appointment %s not found", id)
	}
	return nil
}
