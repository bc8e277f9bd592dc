// Package election implements the leader-election subprotocol: the
// abstract state machine that turns a canvass of every member's
// (last_leadership_term_id, appended_log_position) into agreement on
// (leadership_term_id, log_position, leader_id), including the
// catch-up replay a lagging follower must complete before it can
// participate in the new term.
package election
