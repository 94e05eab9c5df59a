// Package stores persists run history. SQLiteStore keeps runs, entity status
// transitions and an audit trail of operator actions; RedisSnapshotStore mirrors the
// live status of the active run for dashboards.
package stores
