package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/cuemby/clustercore/pkg/log"
	"github.com/rs/zerolog"
)

// frameHeaderLen is the fixed header every TCP frame carries ahead of its
// payload: a 4-byte big-endian length, a 4-byte stream id, and a 4-byte
// session id identifying the publisher-side connection.
const frameHeaderLen = 12

// maxFrameLen guards against a corrupt or hostile length prefix forcing an
// unbounded allocation.
const maxFrameLen = 16 << 20

// TCPChannel describes the destination of a net.Conn-backed publication.
// Channels in this transport are plain "host:port" strings (the endpoint
// half of the "aeron:udp?endpoint=host:port" URI convention the consumed
// Transport interface is modelled on); there is no multicast equivalent so
// one connection is dialled per distinct remote address.
type TCPChannel = string

// TCPTransport is a Transport implementation backed by real TCP
// connections, for a genuine multi-process deployment rather than the
// single-process InProcessTransport used by tests. One TCPTransport
// listens on listenAddr for inbound connections from every peer that
// publishes to it, and lazily dials outbound connections for every
// channel this side publishes to.
type TCPTransport struct {
	listenAddr string
	ln         net.Listener
	logger     zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*tcpConn // by remote address, shared across streams
	subs   map[int32][]*tcpSubscription
	dialFn func(network, address string) (net.Conn, error)
	closed bool
}

// NewTCPTransport starts listening on listenAddr and returns a Transport
// bound to it. Callers close it via Close once the conductor loop exits.
func NewTCPTransport(listenAddr string) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", listenAddr, err)
	}
	t := &TCPTransport{
		listenAddr: listenAddr,
		ln:         ln,
		logger:     log.WithComponent("tcp-transport"),
		conns:      make(map[string]*tcpConn),
		subs:       make(map[int32][]*tcpSubscription),
		dialFn:     net.Dial,
	}
	go t.acceptLoop()
	return t, nil
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return // listener closed
		}
		c := &tcpConn{conn: conn, w: bufio.NewWriter(conn)}
		go t.readLoop(c)
	}
}

// readLoop is the single reader goroutine for one inbound connection; it
// demultiplexes frames by stream id onto that stream's registered
// subscriptions' inbound queues. It never calls application code directly,
// keeping Poll itself non-blocking.
func (t *TCPTransport) readLoop(c *tcpConn) {
	r := bufio.NewReader(c.conn)
	header := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(header[0:4])
		streamID := int32(binary.BigEndian.Uint32(header[4:8]))
		sessionID := int32(binary.BigEndian.Uint32(header[8:12]))
		if length > maxFrameLen {
			t.logger.Warn().Uint32("length", length).Msg("tcp transport: oversized frame, dropping connection")
			return
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}

		t.mu.Lock()
		subs := append([]*tcpSubscription(nil), t.subs[streamID]...)
		t.mu.Unlock()
		for _, sub := range subs {
			sub.push(Fragment{SessionID: sessionID, Data: payload})
		}
	}
}

// AddPublication returns a Publication that lazily dials channel (a
// "host:port" address) the first time Offer is called, then reuses the
// connection for every subsequent Offer to that same address regardless of
// streamID.
func (t *TCPTransport) AddPublication(channel string, streamID int32) (Publication, error) {
	addr := strings.TrimPrefix(channel, "tcp://")
	return &tcpPublication{t: t, addr: addr, streamID: streamID, sessionID: t.nextSessionID()}, nil
}

// AddSubscription registers interest in streamID; frames arriving on any
// inbound connection tagged with that stream id are delivered to it.
// channel is accepted for interface symmetry but unused: a TCPTransport
// already owns exactly one listen address, so the stream id alone
// disambiguates multiplexed traffic the way Aeron's channel+stream pair
// would across several listen endpoints.
func (t *TCPTransport) AddSubscription(channel string, streamID int32, onUnavailable ImageUnavailableHandler) (Subscription, error) {
	sub := &tcpSubscription{onUnavailable: onUnavailable}
	t.mu.Lock()
	t.subs[streamID] = append(t.subs[streamID], sub)
	t.mu.Unlock()
	return sub, nil
}

// Loopback returns a Publication that delivers directly to this
// transport's own subscriptions on streamID without going over the
// network, the TCP transport's equivalent of the in-process transport's
// implicit self-delivery (a publication and subscription sharing one
// (channel, streamID) topic are always wired together, including the
// publisher's own subscription). The log topic's leader-side publisher
// needs this: the replicated-log adapter is every member's only path for
// applying a record, the leader included, so a leader that only fanned
// its append out to followers and never looped it back to itself would
// never apply its own writes.
func (t *TCPTransport) Loopback(streamID int32) Publication {
	return &tcpLoopbackPublication{t: t, streamID: streamID, sessionID: t.nextSessionID()}
}

type tcpLoopbackPublication struct {
	t         *TCPTransport
	streamID  int32
	sessionID int32

	mu       sync.Mutex
	position int64
	closed   bool
}

func (p *tcpLoopbackPublication) Offer(data []byte) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPublicationClosed
	}

	p.t.mu.Lock()
	subs := append([]*tcpSubscription(nil), p.t.subs[p.streamID]...)
	p.t.mu.Unlock()
	for _, sub := range subs {
		sub.push(Fragment{SessionID: p.sessionID, Data: append([]byte(nil), data...)})
	}

	p.position += alignedLen(len(data))
	return p.position, nil
}

func (p *tcpLoopbackPublication) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *tcpLoopbackPublication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// AgentInvoker is a no-op: connection I/O runs on dedicated goroutines
// (one read loop per accepted connection), so there is no multiplexer step
// for the caller's cooperative loop to pump.
func (t *TCPTransport) AgentInvoker() {}

// Close shuts down the listener and every connection this transport owns.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, c := range t.conns {
		_ = c.conn.Close()
	}
	return t.ln.Close()
}

var sessionIDCounter sessionIDGen

type sessionIDGen struct {
	mu  sync.Mutex
	cur int32
}

func (g *sessionIDGen) next() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cur++
	return g.cur
}

func (t *TCPTransport) nextSessionID() int32 {
	return sessionIDCounter.next()
}

// dial returns the shared outbound connection to addr, dialling it on
// first use.
func (t *TCPTransport) dial(addr string) (*tcpConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrPublicationClosed
	}
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	conn, err := t.dialFn("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	c := &tcpConn{conn: conn, w: bufio.NewWriter(conn)}
	t.conns[addr] = c
	return c, nil
}

type tcpConn struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer
}

func (c *tcpConn) writeFrame(streamID, sessionID int32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := make([]byte, frameHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(header[4:8], uint32(streamID))
	binary.BigEndian.PutUint32(header[8:12], uint32(sessionID))

	if _, err := c.w.Write(header); err != nil {
		return err
	}
	if _, err := c.w.Write(data); err != nil {
		return err
	}
	return c.w.Flush()
}

type tcpPublication struct {
	t         *TCPTransport
	addr      string
	streamID  int32
	sessionID int32

	mu       sync.Mutex
	position int64
	closed   bool
}

func (p *tcpPublication) Offer(data []byte) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPublicationClosed
	}

	c, err := p.t.dial(p.addr)
	if err != nil {
		// A connection reset or refused dial is this transport's
		// equivalent of running out of term buffer space: the caller
		// retries on a later tick without reordering.
		return 0, ErrBackPressured
	}
	if err := c.writeFrame(p.streamID, p.sessionID, data); err != nil {
		return 0, ErrBackPressured
	}

	p.position += alignedLen(len(data))
	return p.position, nil
}

func (p *tcpPublication) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *tcpPublication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type tcpSubscription struct {
	mu            sync.Mutex
	queue         []Fragment
	closed        bool
	onUnavailable ImageUnavailableHandler
}

func (s *tcpSubscription) push(f Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) >= queueCapacity {
		return
	}
	s.queue = append(s.queue, f)
}

func (s *tcpSubscription) Poll(handler FragmentHandler, limit int) int {
	s.mu.Lock()
	if limit <= 0 || limit > len(s.queue) {
		limit = len(s.queue)
	}
	batch := s.queue[:limit]
	s.queue = s.queue[limit:]
	s.mu.Unlock()

	for _, f := range batch {
		handler(f)
	}
	return len(batch)
}

func (s *tcpSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
