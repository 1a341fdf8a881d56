package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext
		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
		PingContext(ctx context.Context) error
		Close() error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// OrderBy renders the orderings whose field is allowed as an ORDER BY list.
// Unknown fields are dropped; fallback is used when nothing remains.
func OrderBy(ordering []DBOrdering, allowed map[string]string, fallback string) string {
	clause := ""
	for _, ord := range ordering {
		col, ok := allowed[ord.Field]
		if !ok {
			continue
		}
		if clause != "" {
			clause += ", "
		}
		clause += DBOrdering{Field: col, Ascending: ord.Ascending}.String()
	}
	if clause == "" {
		return fallback
	}
	return clause
}
