package postgres

import (
	"github.com/lib/pq"
)

// pqStringArray wraps a []string for binding into a Postgres text[] column
// or ANY() predicate, mirroring the teacher's use of pq.Array throughout
// internal/repository.
func pqStringArray(ss []string) any {
	return pq.Array(ss)
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the signal the Email repository uses to detect an
// idempotency-key replay race.
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	return pqErr.Code == "23505"
}
