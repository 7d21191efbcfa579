package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: the message, the API
// code, each wrapped layer, and the server-side detail of a Postgres error
// from either driver when one is in the chain. Empty values are left out.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	fields := map[string]any{
		"error":       err.Error(),
		"error_code":  CodeOf(err),
		"error_chain": chain,
	}
	for key, value := range postgresDetail(err) {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}

func postgresDetail(err error) map[string]string {
	var (
		pgxErr *pgconn.PgError
		pqErr  *pq.Error
	)
	switch {
	case errors.As(err, &pgxErr):
		return map[string]string{
			"pg_code":       pgxErr.Code,
			"pg_constraint": pgxErr.ConstraintName,
			"pg_table":      pgxErr.TableName,
			"pg_column":     pgxErr.ColumnName,
			"pg_detail":     pgxErr.Detail,
			"pg_message":    pgxErr.Message,
		}
	case errors.As(err, &pqErr):
		return map[string]string{
			"pg_code":       string(pqErr.Code),
			"pg_class":      pqErr.Code.Class().Name(),
			"pg_constraint": pqErr.Constraint,
			"pg_table":      pqErr.Table,
			"pg_column":     pqErr.Column,
			"pg_detail":     pqErr.Detail,
			"pg_message":    pqErr.Message,
		}
	}
	return nil
}
