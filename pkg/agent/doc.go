// Package agent implements the Agent Loop & State Orchestrator: the
// single-threaded do_work(now_ms) entry point that composes the member
// registry, session table, timer service, pending service-message ring,
// recording log, log publisher/adapter, service proxy, ingress decoder,
// election, and dynamic join subprotocols into one cooperative consensus
// agent.
package agent
