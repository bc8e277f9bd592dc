// Package dynamicjoin implements the Dynamic Join subprotocol: how a
// member started with an empty static member list and a non-empty status
// endpoint list discovers the cluster, fetches snapshot recordings,
// replays them locally, and is admitted as a full member via a
// MembershipChangeEvent(JOIN).
package dynamicjoin
