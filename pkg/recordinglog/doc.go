// Package recordinglog implements the replicated Recording Log: the
// append-only sequence of TERM and SNAPSHOT entries every member persists
// durably, the RecoveryPlan derived from it on startup, and the
// coordinator that drives a full cluster snapshot to completion.
package recordinglog
