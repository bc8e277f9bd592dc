// Package ingress implements the client-facing Ingress Adapter: decoding
// frames a client sends the leader (SessionConnect, SessionClose,
// IngressMessage, SessionKeepAlive, ChallengeResponse) and encoding the
// events sent back (session admission outcome, authentication challenge,
// redirect, NewLeader notification).
package ingress
