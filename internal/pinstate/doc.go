// Package pinstate persists the agent's local pin intent in SQLite: one
// row per managed CID, the single active profile record, and CIDs that
// exhausted their pin retries. It assumes a single logical writer.
package pinstate
