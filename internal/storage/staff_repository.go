package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/booking-calendar-sync/backend/internal/storage/models"
)

// StaffRepository provides data access for staff members, their remote
// calendar credentials and the services they offer.
type StaffRepository struct {
	BaseRepository
}

// NewStaffRepository creates a new staff repository.
func NewStaffRepository(db *DB) *StaffRepository {
	return &StaffRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// CreateStaff inserts a staff member.
func (r *StaffRepository) CreateStaff(ctx context.Context, s *models.Staff) error {
	if s.ID == "" {
		s.ID = GenerateID()
	}
	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO staff (id, name, email) VALUES (?, ?, ?)
	`, s.ID, s.Name, s.Email)
	if err != nil {
		return fmt.Errorf("inserting staff: %w", err)
	}
	return nil
}

// CreateService inserts a bookable service.
func (r *StaffRepository) CreateService(ctx context.Context, s *models.Service) error {
	if s.ID == "" {
		s.ID = GenerateID()
	}
	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO services (id, name, description, duration_min) VALUES (?, ?, ?, ?)
	`, s.ID, s.Name, s.Description, s.DurationMin)
	if err != nil {
		return fmt.Errorf("inserting service: %w", err)
	}
	return nil
}

// GetService retrieves a service by its ID.
func (r *StaffRepository) GetService(ctx context.Context, id string) (*models.Service, error) {
	s := &models.Service{}
	err := r.DB().QueryRowContext(ctx, `
		SELECT id, name, description, duration_min FROM services WHERE id = ?
	`, id).Scan(&s.ID, &s.Name, &s.Description, &s.DurationMin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying service: %w", err)
	}
	return s, nil
}

// SetCredentials stores or replaces a staff member's calendar credentials.
func (r *StaffRepository) SetCredentials(ctx context.Context, c *models.CalendarCredentials) error {
	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO staff_calendars (staff_id, url, username, password, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(staff_id) DO UPDATE SET
			url = excluded.url, username = excluded.username,
			password = excluded.password, updated_at = excluded.updated_at
	`, c.StaffID, c.URL, c.Username, c.Password, r.Now())
	if err != nil {
		return fmt.Errorf("storing calendar credentials: %w", err)
	}
	return nil
}

// GetCredentials returns the staff member's calendar credentials, or nil
// when none are configured.
func (r *StaffRepository) GetCredentials(ctx context.Context, staffID string) (*models.CalendarCredentials, error) {
	c := &models.CalendarCredentials{}
	err := r.DB().QueryRowContext(ctx, `
		SELECT staff_id, url, username, password FROM staff_calendars WHERE staff_id = ?
	`, staffID).Scan(&c.StaffID, &c.URL, &c.Username, &c.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying calendar credentials: %w", err)
	}
	return c, nil
}
