/*
Package metrics exposes the consensus module's Prometheus gauges and
counters: election outcomes, commit/appended position, session counts by
state, timer wheel depth, service-message ring depth, and the per-tick
do_work() histogram the conductor's back-off strategy would otherwise have
to infer from wall-clock gaps alone.
*/
package metrics
