package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/course"
)

const (
	courseColumns = `id, title, description, normal_price, early_bird_price,
		early_bird_start, early_bird_end, created_at`

	listCoursesSQL = `SELECT ` + courseColumns + ` FROM courses ORDER BY created_at, id`

	getCourseByIDSQL = `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`

	getCoursesByIDsSQL = `SELECT ` + courseColumns + ` FROM courses WHERE id = ANY($1)`

	upsertCourseSQL = `INSERT INTO courses (id, title, description, normal_price, early_bird_price,
		early_bird_start, early_bird_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			normal_price = EXCLUDED.normal_price,
			early_bird_price = EXCLUDED.early_bird_price,
			early_bird_start = EXCLUDED.early_bird_start,
			early_bird_end = EXCLUDED.early_bird_end`
)

var _ course.Repository = (*CourseRepository)(nil)

// CourseRepository implements course.Repository backed by PostgreSQL.
type CourseRepository struct {
	pool *pgxpool.Pool
}

// NewCourseRepository returns a CourseRepository that uses the given pool.
func NewCourseRepository(pool *pgxpool.Pool) *CourseRepository {
	return &CourseRepository{pool: pool}
}

// List returns the catalog in creation order.
func (r *CourseRepository) List(ctx context.Context) ([]course.Course, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listCoursesSQL)
	if err != nil {
		return nil, dbErr(err, "listing courses")
	}
	courses, err := pgx.CollectRows(rows, scanCourse)
	if err != nil {
		return nil, dbErr(err, "listing courses")
	}
	return courses, nil
}

// GetByID returns a single course by its identifier.
func (r *CourseRepository) GetByID(ctx context.Context, id string) (*course.Course, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCourseByIDSQL, id)
	if err != nil {
		return nil, dbErr(err, "getting course %q", id)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCourse)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("course", id)
		}
		return nil, dbErr(err, "getting course %q", id)
	}
	return &c, nil
}

// GetByIDs returns courses matching any of the given IDs.
func (r *CourseRepository) GetByIDs(ctx context.Context, ids []string) ([]course.Course, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCoursesByIDsSQL, ids)
	if err != nil {
		return nil, dbErr(err, "getting courses by ids")
	}
	courses, err := pgx.CollectRows(rows, scanCourse)
	if err != nil {
		return nil, dbErr(err, "getting courses by ids")
	}
	return courses, nil
}

// Upsert inserts or replaces a course. Used by seeding.
func (r *CourseRepository) Upsert(ctx context.Context, c course.Course) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertCourseSQL,
		c.ID, c.Title, c.Description, c.NormalPrice, c.EarlyBirdPrice,
		c.EarlyBirdStart, c.EarlyBirdEnd,
	)
	if err != nil {
		return dbErr(err, "upserting course %q", c.ID)
	}
	return nil
}

func scanCourse(row pgx.CollectableRow) (course.Course, error) {
	var c course.Course
	err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.NormalPrice, &c.EarlyBirdPrice,
		&c.EarlyBirdStart, &c.EarlyBirdEnd, &c.CreatedAt,
	)
	return c, err
}
