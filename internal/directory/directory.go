// Package directory is the engine's read-only view of the student directory.
package directory

import (
	"context"

	"github.com/frahmantamala/transport-fees/internal/core/datamodel/student"
)

type Directory interface {
	// ActiveStudents returns every student enrolled for period.
	ActiveStudents(ctx context.Context, period string) ([]student.Student, error)
	Student(ctx context.Context, studentRef string) (*student.Student, error)
	RouteAssignment(ctx context.Context, studentRef string) (student.Assignment, error)
	GuardianStudents(ctx context.Context, guardianID string) ([]string, error)
}
