/*
Package members implements the Cluster Member Registry:
the set of active members, their endpoints, and the per-peer replication
bookkeeping (appended/commit position, catch-up state, pending join/remove
flags) the Election, Dynamic Join, and Agent Loop components all read and
mutate on every tick.
*/
package members
