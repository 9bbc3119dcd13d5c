package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsContentionRetryableCodes(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		err := &pgconn.PgError{Code: code}
		if !IsContention(err) {
			t.Errorf("code %s: expected contention", code)
		}
		wrapped := fmt.Errorf("failed to update transaction: %w", err)
		if !IsContention(wrapped) {
			t.Errorf("code %s: expected contention through wrapping", code)
		}
	}
}

func TestIsContentionNonRetryable(t *testing.T) {
	cases := []error{
		&pgconn.PgError{Code: "23505"}, // unique violation
		&pgconn.PgError{Code: "08006"}, // connection failure
		&pgconn.PgError{Code: "42P01"}, // undefined table
		errors.New("connection reset"),
		nil,
	}
	for _, err := range cases {
		if IsContention(err) {
			t.Errorf("%v: expected not contention", err)
		}
	}
}
