/*
Package events provides an in-memory event broker for the agent's own
state-transition notifications.

The broker is non-blocking: Publish never waits on a subscriber, and a full
subscriber buffer simply skips that subscriber rather than stalling the
publishing do_work tick. It is not a replicated or durable log — every
member's broker only ever sees events published on that member, and nothing
published here crosses the network. Anything that needs to be agreed on by
the cluster goes through the recording log instead; this bus is strictly for
local observability (logging, metrics, a CLI --watch) of state this member
has already committed to.

# Event Types

	EventLeaderElected   - a new leadership term was finalized
	EventRoleChanged     - this member's own role flipped leader/follower
	EventMemberJoined    - a membership-change record admitted a new member
	EventMemberLeft      - a member quit or was removed
	EventStateChanged     - the top-level AgentState transitioned
	EventSnapshotTaken    - a module snapshot was written to storage
	EventTerminationSet   - termination_position was fixed during shutdown

# Usage

	broker := events.NewBroker()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			log.Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventLeaderElected, Term: 3})
*/
package events
