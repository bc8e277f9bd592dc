/*
Package timer implements the Timer Service: a deadline-ordered min-heap
keyed by correlation id, polled against the
cluster's own clock rather than wall time. Schedule is idempotent against
a timer that already fired — a second schedule() for the same correlation
id consumes a "fire credit" instead of installing a duplicate — which is
what lets the leader and a replaying follower agree on timer state even
when a TimerEvent and a subsequent re-schedule request race each other.
*/
package timer
