package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"lib/pq unique", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"lib/pq other", &pq.Error{Code: "22003"}, false},
		{"pgx unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pgx other", &pgconn.PgError{Code: "23503"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
