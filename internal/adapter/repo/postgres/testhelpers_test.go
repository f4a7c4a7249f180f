package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type rowStub struct {
	scan func(dest ...any) error
}

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

type execCall struct {
	sql  string
	args []any
}

type poolStub struct {
	execs    []execCall
	execFn   func(sql string, args ...any) (pgconn.CommandTag, error)
	queryRow func(sql string, args ...any) pgx.Row
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	if p.execFn != nil {
		return p.execFn(sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if p.queryRow != nil {
		return p.queryRow(sql, args...)
	}
	return rowStub{scan: func(...any) error { return pgx.ErrNoRows }}
}
