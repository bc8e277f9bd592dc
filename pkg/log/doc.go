/*
Package log provides structured logging for the consensus module using
zerolog. It wraps a single global zerolog.Logger, initialized once via
Init(), and exposes WithComponent/WithMemberID/WithTerm/WithSessionID
helpers that attach the fields call sites care about (which subsystem,
which member, which leadership term, which client session) without every
caller re-deriving a context.Logger by hand.

JSON output is the default (suitable for the archive of agent logs
alongside the recording log); console output is available for interactive
use via Config.JSONOutput.
*/
package log
