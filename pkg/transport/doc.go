/*
Package transport defines the two external collaborators the consensus
module treats as out-of-process infrastructure — the reliable
log-streaming Transport and the recording Archive — and ships one
concrete, in-process implementation of each (InProcessTransport/
MemoryArchive, wired together over a shared Bus) so the rest of the
module is buildable and testable without a real network.

Position counters are a small Counter type around atomic.Int64,
published and read with release/acquire semantics.
*/
package transport
