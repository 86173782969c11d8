package enrollment

import (
	"context"
	"time"
)

// Enrollment grants a user access to a course. PaymentID is nil for free
// enrollments.
type Enrollment struct {
	ID        string
	UserID    string
	CourseID  string
	PaymentID *string
	CreatedAt time.Time
}

// Repository defines persistence operations for enrollments. At most one
// enrollment exists per (user, course).
type Repository interface {
	// Create inserts e; an existing (user, course) pair returns an apperr
	// ALREADY_EXISTS error.
	Create(ctx context.Context, e *Enrollment) error
	// CreateForPayment inserts one enrollment per course linked to
	// paymentID, skipping courses the user is already enrolled in. It
	// returns the number of enrollments created.
	CreateForPayment(ctx context.Context, userID, paymentID string, courseIDs []string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]Enrollment, error)
	// EnrolledCourses returns the subset of courseIDs the user is enrolled in.
	EnrolledCourses(ctx context.Context, userID string, courseIDs []string) ([]string, error)
}
