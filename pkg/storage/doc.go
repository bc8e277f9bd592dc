/*
Package storage persists the two things the consensus module cannot
reconstruct from the live log alone: the recording log (the ordered
sequence of TERM and SNAPSHOT entries) and the
opaque snapshot blobs the module takes of itself (member registry, session
table, timer wheel, pending service-message ring) and of each hosted
service.

BoltStore is the concrete, single-file embedded implementation, using a
bucket-per-entity, JSON-encoded-value convention.
*/
package storage
