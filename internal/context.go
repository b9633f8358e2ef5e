package internal

import (
	"context"
	"slices"
	"time"
)

type ctxKey string

const ContextCallerKey ctxKey = "caller"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleGuardian Role = "guardian"
	RoleSystem   Role = "system"
)

// Caller is the verified identity an engine operation runs on behalf of.
// StudentRefs lists the students a guardian is responsible for.
type Caller struct {
	UserID      string   `json:"user_id"`
	Role        Role     `json:"role"`
	StudentRefs []string `json:"student_refs,omitempty"`
}

// SystemCaller is used by CLI jobs that run without a request.
var SystemCaller = Caller{UserID: "system", Role: RoleSystem}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin || c.Role == RoleSystem
}

func (c Caller) IsGuardianFor(studentRef string) bool {
	return c.Role == RoleGuardian && slices.Contains(c.StudentRefs, studentRef)
}

// CanAccessStudent reports whether the caller may read or pay records of studentRef.
func (c Caller) CanAccessStudent(studentRef string) bool {
	return c.IsAdmin() || c.IsGuardianFor(studentRef)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(ContextCallerKey).(Caller)
	return caller, ok
}

func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, ContextCallerKey, caller)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
