package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/student"
	"github.com/frahmantamala/transport-fees/internal/directory"
)

const studentColumns = `student_ref, name, guardian_id, monthly_fee, active, route_id, route_name, bus_id, bus_label`

type StudentDirectory struct {
	db *sqlx.DB
}

func NewStudentDirectory(db *sqlx.DB) *StudentDirectory {
	return &StudentDirectory{db: db}
}

var _ directory.Directory = (*StudentDirectory)(nil)

// ActiveStudents ignores period: enrollment is tracked as a single flag.
func (d *StudentDirectory) ActiveStudents(ctx context.Context, _ string) ([]student.Student, error) {
	var students []student.Student
	query := d.db.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE active = ? ORDER BY student_ref`)
	if err := d.db.SelectContext(ctx, &students, query, true); err != nil {
		return nil, internal.ErrDirectoryUnavailable.WithCause(err)
	}
	return students, nil
}

func (d *StudentDirectory) Student(ctx context.Context, studentRef string) (*student.Student, error) {
	var s student.Student
	query := d.db.Rebind(`SELECT ` + studentColumns + ` FROM students WHERE student_ref = ?`)
	if err := d.db.GetContext(ctx, &s, query, studentRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.ErrStudentNotFound
		}
		return nil, internal.ErrDirectoryUnavailable.WithCause(err)
	}
	return &s, nil
}

func (d *StudentDirectory) RouteAssignment(ctx context.Context, studentRef string) (student.Assignment, error) {
	s, err := d.Student(ctx, studentRef)
	if err != nil {
		return student.Assignment{}, fmt.Errorf("route assignment for %s: %w", studentRef, err)
	}
	return s.Assignment(), nil
}

func (d *StudentDirectory) GuardianStudents(ctx context.Context, guardianID string) ([]string, error) {
	var refs []string
	query := d.db.Rebind(`SELECT student_ref FROM students WHERE guardian_id = ? ORDER BY student_ref`)
	if err := d.db.SelectContext(ctx, &refs, query, guardianID); err != nil {
		return nil, internal.ErrDirectoryUnavailable.WithCause(err)
	}
	return refs, nil
}
