package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"campus-courier/models"
)

// Dialect captures the few SQL differences between PostgreSQL and SQLite.
type Dialect struct {
	Name       string
	numbered   bool   // $1, $2 placeholders instead of ?
	forUpdate  string // row lock suffix for SELECT
	like       string
	rewardExpr string
	types      *strings.Replacer
}

var Postgres = Dialect{
	Name:       "postgres",
	numbered:   true,
	forUpdate:  " FOR UPDATE",
	like:       "ILIKE",
	rewardExpr: "reward_amount",
	types: strings.NewReplacer(
		"{{timestamp}}", "TIMESTAMPTZ",
		"{{money}}", "NUMERIC(12,2)",
		"{{float}}", "DOUBLE PRECISION",
	),
}

// SQLite has no row locks; the connection opens transactions with BEGIN IMMEDIATE instead.
var SQLite = Dialect{
	Name:       "sqlite",
	like:       "LIKE",
	rewardExpr: "CAST(reward_amount AS REAL)",
	types: strings.NewReplacer(
		"{{timestamp}}", "TIMESTAMP",
		"{{money}}", "TEXT",
		"{{float}}", "REAL",
	),
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) lockTimeoutStatement(timeout time.Duration) string {
	if d.Name != Postgres.Name || timeout <= 0 {
		return ""
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())
}

// classifyError maps driver lock failures onto models.ErrConcurrencyConflict.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "40P01", "40001": // lock_not_available, deadlock_detected, serialization_failure
			return &models.TaskError{Kind: models.ErrConcurrencyConflict, Msg: pqErr.Message}
		}
		return err
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return &models.TaskError{Kind: models.ErrConcurrencyConflict, Msg: liteErr.Error()}
		}
	}
	return err
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
