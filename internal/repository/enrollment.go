package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/enrollment"
)

const (
	createEnrollmentSQL = `INSERT INTO enrollments (id, user_id, course_id, payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	createPaidEnrollmentSQL = `INSERT INTO enrollments (id, user_id, course_id, payment_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, course_id) DO NOTHING`

	listEnrollmentsByUserSQL = `SELECT id, user_id, course_id, payment_id, created_at
		FROM enrollments WHERE user_id = $1 ORDER BY created_at DESC, id`

	enrolledCoursesSQL = `SELECT course_id FROM enrollments
		WHERE user_id = $1 AND course_id = ANY($2) ORDER BY course_id`
)

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

// EnrollmentRepository implements enrollment.Repository backed by PostgreSQL.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository returns an EnrollmentRepository that uses the given pool.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// Create inserts a single enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, e *enrollment.Enrollment) error {
	_, err := conn(ctx, r.pool).Exec(ctx, createEnrollmentSQL,
		e.ID, e.UserID, e.CourseID, e.PaymentID, e.CreatedAt,
	)
	switch pgCode(err) {
	case "":
	case uniqueViolation:
		return apperr.AlreadyExists("enrollment", e.CourseID)
	case foreignKeyViolation:
		return apperr.NotFound("course", e.CourseID)
	}
	if err != nil {
		return dbErr(err, "creating enrollment for course %q", e.CourseID)
	}
	return nil
}

// CreateForPayment enrolls the user in every course funded by the payment,
// skipping existing enrollments.
func (r *EnrollmentRepository) CreateForPayment(
	ctx context.Context,
	userID, paymentID string,
	courseIDs []string,
) (int, error) {
	q := conn(ctx, r.pool)
	var created int
	for _, courseID := range courseIDs {
		tag, err := q.Exec(ctx, createPaidEnrollmentSQL, uuid.New().String(), userID, courseID, paymentID)
		if err != nil {
			return created, dbErr(err, "enrolling user %q in course %q", userID, courseID)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// ListByUser returns the user's enrollments, newest first.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID string) ([]enrollment.Enrollment, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listEnrollmentsByUserSQL, userID)
	if err != nil {
		return nil, dbErr(err, "listing enrollments of user %q", userID)
	}
	enrollments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (enrollment.Enrollment, error) {
		var e enrollment.Enrollment
		err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.PaymentID, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, dbErr(err, "listing enrollments of user %q", userID)
	}
	return enrollments, nil
}

// EnrolledCourses returns the subset of courseIDs the user is enrolled in.
func (r *EnrollmentRepository) EnrolledCourses(ctx context.Context, userID string, courseIDs []string) ([]string, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, enrolledCoursesSQL, userID, courseIDs)
	if err != nil {
		return nil, dbErr(err, "checking enrollments of user %q", userID)
	}
	enrolled, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, dbErr(err, "checking enrollments of user %q", userID)
	}
	return enrolled, nil
}
