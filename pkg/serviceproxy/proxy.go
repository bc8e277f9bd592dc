package serviceproxy

import "github.com/cuemby/clustercore/pkg/types"

// ModuleMessageKind discriminates module-to-service control messages.
type ModuleMessageKind uint8

const (
	ModuleJoinLog ModuleMessageKind = iota
	ModuleClusterMembersResponse
	ModuleTerminationPosition
	ModuleElectionStartEvent
)

// ModuleMessage is everything the module sends a hosted service.
type ModuleMessage struct {
	Kind ModuleMessageKind

	LeadershipTermID int64
	LogPosition      int64
	MaxLogPosition   int64
	MemberID         types.MemberID
	LogSessionID     int32
	LogStreamID      int32
	Channel          string

	Members []types.ClusterMember
}

// ServiceMessageKind discriminates service-to-module control messages.
type ServiceMessageKind uint8

const (
	ServiceAck ServiceMessageKind = iota
	ServiceMessageProduced
	ServiceCloseSession
	ServiceScheduleTimer
	ServiceCancelTimer
	ServiceClusterMembersQuery
)

// ServiceMessage is everything a hosted service sends the module.
type ServiceMessage struct {
	Kind      ServiceMessageKind
	ServiceID int32

	// ServiceAck
	LogPosition int64
	AckID       int64
	RelevantID  int64

	// ServiceMessageProduced
	LeadershipTermID int64
	Payload          []byte

	// ServiceCloseSession
	ClusterSessionID int64

	// ServiceScheduleTimer / ServiceCancelTimer
	CorrelationID int64
	DeadlineMS    int64
}

// Link is the transport a ModuleMessage/ServiceMessage pair travels over
// for one hosted service. Send never blocks; Poll never blocks.
type Link interface {
	Send(ModuleMessage) error
	Poll(handler func(ServiceMessage), limit int) int
}

// Proxy fans module-to-service traffic out to every attached hosted
// service and tracks each one's last heartbeat time so the agent can
// detect a lost service per the configured heartbeat timeout.
type Proxy struct {
	links      map[int32]Link
	heartbeats map[int32]int64
}

// New returns a Proxy with no services attached yet.
func New() *Proxy {
	return &Proxy{links: make(map[int32]Link), heartbeats: make(map[int32]int64)}
}

// Attach wires serviceID's Link into the proxy.
func (p *Proxy) Attach(serviceID int32, link Link) {
	p.links[serviceID] = link
}

// ServiceIDs returns every attached service id.
func (p *Proxy) ServiceIDs() []int32 {
	ids := make([]int32, 0, len(p.links))
	for id := range p.links {
		ids = append(ids, id)
	}
	return ids
}

// SendTo delivers msg to one hosted service.
func (p *Proxy) SendTo(serviceID int32, msg ModuleMessage) error {
	link, ok := p.links[serviceID]
	if !ok {
		return nil
	}
	return link.Send(msg)
}

// Broadcast delivers msg to every attached hosted service, returning the
// first error encountered (if any) after attempting delivery to all.
func (p *Proxy) Broadcast(msg ModuleMessage) error {
	var firstErr error
	for _, serviceID := range p.ServiceIDs() {
		if err := p.SendTo(serviceID, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Poll delivers up to limit pending messages from serviceID to handler,
// recording a heartbeat touch for every message observed since any
// traffic from a service demonstrates it is alive.
func (p *Proxy) Poll(serviceID int32, nowMS int64, handler func(ServiceMessage), limit int) int {
	link, ok := p.links[serviceID]
	if !ok {
		return 0
	}
	delivered := link.Poll(func(msg ServiceMessage) {
		p.heartbeats[serviceID] = nowMS
		handler(msg)
	}, limit)
	return delivered
}

// RecordHeartbeat explicitly touches serviceID's last-seen time, for
// transports that carry a heartbeat as a bare counter rather than a
// ServiceMessage.
func (p *Proxy) RecordHeartbeat(serviceID int32, nowMS int64) {
	p.heartbeats[serviceID] = nowMS
}

// HeartbeatLost reports whether serviceID has gone silent for longer than
// timeoutMS. A service never heard from is treated as lost once nowMS
// itself exceeds the timeout, so a service that never starts cannot wedge
// the module indefinitely.
func (p *Proxy) HeartbeatLost(serviceID int32, nowMS, timeoutMS int64) bool {
	last, ok := p.heartbeats[serviceID]
	if !ok {
		return nowMS > timeoutMS
	}
	return nowMS-last > timeoutMS
}
