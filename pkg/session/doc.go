// Package session implements the Session Table: admission bookkeeping for
// every client session a leader (or ex-leader) is tracking, from the first
// Connect through CLOSED/REJECTED. It tracks the two disjoint monotone id
// counters (positive client sessions, negative service-originated pseudo
// sessions), the open+pending admission count, per-session liveness
// timeouts, and the at-least-once NewLeader notification owed to every
// open session across a leadership change.
package session
