package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/egannguyen/storefront/internal/entity"
	"github.com/egannguyen/storefront/internal/repository"
)

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository backed by Postgres.
func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user entity.User) (entity.User, error) {
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO users (username, email) VALUES ($1, $2) RETURNING id, created_at",
		user.Username, user.Email,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return entity.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (entity.User, error) {
	var u entity.User
	err := r.db.QueryRowContext(ctx, "SELECT id, username, email, created_at FROM users WHERE id = $1", id).
		Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.User{}, entity.UserNotFound(id)
	}
	if err != nil {
		return entity.User{}, fmt.Errorf("failed to query user %d: %w", id, err)
	}
	return u, nil
}

func (r *userRepository) FindAll(ctx context.Context) ([]entity.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, username, email, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []entity.User{}
	for rows.Next() {
		var u entity.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}
