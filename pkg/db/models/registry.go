package models

// All lists every persisted model in dependency order. It backs the SQLite
// dev database and repository tests; Postgres schemas come from goose.
func All() []any {
	return []any{
		&Customer{},
		&Product{},
		&ProductVariant{},
		&Order{},
		&OrderItem{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
