package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/domain"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "other pg error", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestSideColumnsRoundTrip(t *testing.T) {
	consumer, amount, currency := sideColumns(nil)
	assert.Nil(t, consumer)
	assert.False(t, amount.Valid)
	assert.Nil(t, currency)
	assert.Nil(t, sideFromColumns(consumer, amount, currency))

	side := &domain.TransactionSide{ConsumerID: "c-1", Amount: decimal.RequireFromString("12.50"), Currency: "USD"}
	got := sideFromColumns(sideColumns(side))
	require.NotNil(t, got)
	assert.Equal(t, side.ConsumerID, got.ConsumerID)
	assert.True(t, side.Amount.Equal(got.Amount))
	assert.Equal(t, side.Currency, got.Currency)
}

func TestEmbeddedMigrationsDeclareLockUniqueness(t *testing.T) {
	b, err := migrationsFS.ReadFile("migrations/0001_settlement.up.sql")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "UNIQUE (object_type, key)"))
}
