/*
Package types holds the data model shared across the consensus module:
cluster members, leadership terms, client sessions, recording-log entries,
and the agent's own state machine. Nothing in this package touches disk,
the network, or the clock (besides the one Now() escape hatch used outside
of tests) — it is the vocabulary the rest of the module is written in.
*/
package types
