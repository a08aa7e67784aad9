// Package storage persists advertisements, bots, the recipient ledger, and
// the append-only broadcast outcome metrics in a single SQLite database.
//
// The advertisement status column is only ever changed through Transition,
// a guarded compare-and-set. That guard is what keeps the scheduler, manual
// triggers, and queue retries from double-broadcasting the same campaign.
package storage
