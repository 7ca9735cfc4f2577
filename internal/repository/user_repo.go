package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aimms/backend/internal/domain"
	"github.com/aimms/backend/internal/idalloc"
)

// maxAllocAttempts bounds retries when an allocated ID collides on commit.
const maxAllocAttempts = 3

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

// queryer is the subset of *sql.DB and *sql.Tx used for reads.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ListIDs returns every assigned user ID in ascending order without
// duplicates.
func (r *UserRepo) ListIDs(ctx context.Context) ([]int64, error) {
	return listUserIDs(ctx, r.db)
}

func listUserIDs(ctx context.Context, q queryer) ([]int64, error) {
	rows, err := q.QueryContext(ctx, "SELECT DISTINCT id FROM users WHERE id > 0 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NextID previews the ID the next CreateWithNextID call would assign. The
// value is not reserved.
func (r *UserRepo) NextID(ctx context.Context) (int64, error) {
	ids, err := r.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	return idalloc.Next(ids), nil
}

// CreateWithNextID stores u. When u.ID is unset the lowest free ID is
// allocated; reading the ID space and inserting happen in one transaction, and
// a primary key collision on commit triggers a fresh allocation.
func (r *UserRepo) CreateWithNextID(ctx context.Context, u *domain.User) (*domain.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	explicit := u.ID > 0
	var lastErr error
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		created, err := r.createOnce(ctx, u, explicit)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrIDConflict) || explicit {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("allocate user id after %d attempts: %w", maxAllocAttempts, lastErr)
}

func (r *UserRepo) createOnce(ctx context.Context, u *domain.User, explicit bool) (*domain.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	created := *u
	if !explicit {
		ids, err := listUserIDs(ctx, tx)
		if err != nil {
			return nil, err
		}
		created.ID = idalloc.Next(ids)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (id, name, email, created_at) VALUES (?,?,?,?)",
		created.ID, created.Name, created.Email, formatTime(created.CreatedAt),
	)
	if err != nil {
		switch {
		case violates(err, "users.email"):
			return nil, ErrDuplicateEmail
		case isUniqueViolation(err):
			return nil, ErrIDConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrIDConflict
		}
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &created, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT * FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (r *UserRepo) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT * FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// Delete removes a user, freeing its ID for reuse.
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var createdAt string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}
