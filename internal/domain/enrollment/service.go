package enrollment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/course"
	"github.com/xenking/course-checkout/internal/domain/pricing"
)

// Service handles direct enrollments and enrollment listing. Paid
// enrollments are created by the payment flow.
type Service struct {
	enrollments Repository
	courses     course.Repository
	now         func() time.Time
}

// NewService creates an enrollment Service.
func NewService(enrollments Repository, courses course.Repository) *Service {
	return &Service{enrollments: enrollments, courses: courses, now: time.Now}
}

// Enroll enrolls the user in a course that is currently free. Paid courses
// must go through an order.
func (s *Service) Enroll(ctx context.Context, userID, courseID string) (*Enrollment, error) {
	if courseID == "" {
		return nil, apperr.InvalidField("courseId", "required")
	}
	c, err := s.courses.GetByID(ctx, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "get course")
	}

	now := s.now()
	if pricing.EffectivePrice(*c, now).IsPositive() {
		return nil, apperr.PaymentRequired(courseID)
	}

	e := &Enrollment{
		ID:        uuid.New().String(),
		UserID:    userID,
		CourseID:  courseID,
		CreatedAt: now,
	}
	if err := s.enrollments.Create(ctx, e); err != nil {
		return nil, errors.Wrap(err, "create enrollment")
	}
	return e, nil
}

// List returns the user's enrollments, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Enrollment, error) {
	list, err := s.enrollments.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list enrollments")
	}
	return list, nil
}
