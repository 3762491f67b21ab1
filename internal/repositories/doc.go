// Package repositories implements SQLite persistence for qrdeck.
//
// Key Implementations:
//   - [CredentialRepository] : the credential store's persister, one upserted row per provider
//   - [RoundRepository] : card session history with state and reveal time
//
// Sequence numbers provide stable, human-readable ordering (round #12) independent of UUIDs and timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
