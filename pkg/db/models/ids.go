package models

import "github.com/google/uuid"

// assignID fills a zero primary key so inserts behave the same on Postgres
// (where gen_random_uuid() is the column default) and SQLite.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
