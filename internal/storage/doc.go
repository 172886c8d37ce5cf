// Package storage persists content schedules and the operator audit log.
//
// Both drivers implement the scheduler's Store contract (save is an upsert,
// delete is idempotent, load returns every known schedule) plus AppendAudit.
package storage
