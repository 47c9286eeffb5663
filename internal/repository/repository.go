package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rashoti/backend/internal/model"
)

var (
	// ErrEmailTaken reports a unique-constraint conflict on users.email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnknownRole reports a role tag outside the closed set.
	ErrUnknownRole = errors.New("unknown role")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, email, password_hash, name, user_type, profile_image, created_at, updated_at, metadata`

// GetUserByEmail returns (nil, nil) on a miss so callers can tell "not
// found" apart from a failed lookup.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, userID)
	return scanUser(row)
}

// CreateUserWithProfile inserts the user row and its role profile in one
// transaction; either both rows exist afterwards or neither does. The
// duplicate-email decision is made by the unique index, not by a prior
// existence check, so two concurrent registrations cannot both succeed.
func (s *Store) CreateUserWithProfile(ctx context.Context, user model.User) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, password_hash, name, user_type, profile_image, created_at, updated_at, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, user.ID, user.Email, user.PasswordHash, user.Name, user.Role, user.ProfileImage, user.CreatedAt, user.UpdatedAt, user.Metadata)
		if err != nil {
			return err
		}

		switch user.Role {
		case model.RoleStudent:
			_, err = tx.Exec(ctx, `
				INSERT INTO students (user_id, grade, subjects)
				VALUES ($1, $2, $3)
			`, user.ID, "Not Set", []string{})
		case model.RoleTeacher:
			_, err = tx.Exec(ctx, `
				INSERT INTO teachers (user_id, subjects, grades)
				VALUES ($1, $2, $3)
			`, user.ID, []string{}, []string{})
		case model.RoleParent:
			_, err = tx.Exec(ctx, `
				INSERT INTO parents (user_id, children_ids)
				VALUES ($1, $2)
			`, user.ID, []string{})
		default:
			return ErrUnknownRole
		}
		return err
	})
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func (s *Store) GetStudentProfile(ctx context.Context, userID string) (*model.StudentProfile, error) {
	var profile model.StudentProfile
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, grade, subjects, parent_id, school_id, moodle_user_id
		FROM students
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&profile.UserID, &profile.Grade, &profile.Subjects, &profile.ParentID, &profile.SchoolID, &profile.MoodleUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Store) GetTeacherProfile(ctx context.Context, userID string) (*model.TeacherProfile, error) {
	var profile model.TeacherProfile
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, subjects, grades, school_id, department, moodle_user_id
		FROM teachers
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&profile.UserID, &profile.Subjects, &profile.Grades, &profile.SchoolID, &profile.Department, &profile.MoodleUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Store) GetParentProfile(ctx context.Context, userID string) (*model.ParentProfile, error) {
	var profile model.ParentProfile
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, children_ids, occupation
		FROM parents
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&profile.UserID, &profile.ChildrenIDs, &profile.Occupation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Role,
		&user.ProfileImage,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
