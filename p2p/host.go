// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package p2p

import (
	"crypto/ecdsa"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvidchain/corvid/log"
	"github.com/corvidchain/corvid/p2p/discover"
	"github.com/corvidchain/corvid/p2p/nodetable"
)

// Defaults and maintenance intervals that must match for wire
// compatibility between implementations.
const (
	DefaultListenAddress = "0.0.0.0:30304"
	DefaultMinPeers      = 25
	DefaultMaxPeers      = 50

	maintenanceInterval  = 1000 * time.Millisecond
	discoveryRefreshTick = 7200 * time.Millisecond
	discoveryRoundTick   = 300 * time.Millisecond
	nodeTableSaveTick    = 300000 * time.Millisecond

	dialTimeout = 10 * time.Second

	// reservedInboundSlots is carved out of MaxHandshakes so a burst of
	// outbound dials can never starve inbound accepts.
	reservedInboundSlots = 16
)

// NonReservedPeerMode governs whether non-reserved peers may occupy a
// connection slot at all.
type NonReservedPeerMode int

const (
	NonReservedAccept NonReservedPeerMode = iota
	NonReservedDeny
)

// NetworkConfiguration is the whole of Host's external configuration
// surface, matching spec.md section 4.F.
type NetworkConfiguration struct {
	ConfigPath    string // key persistence directory, "" disables persistence
	NetConfigPath string // node table persistence directory, "" = in-memory only

	ListenAddress string // default DefaultListenAddress
	PublicAddress string // optional override, bypasses NAT/interface scan
	UDPPort       uint16 // defaults to the bound TCP port when zero

	NATEnabled       bool
	DiscoveryEnabled bool

	BootNodes     []string // enode URLs
	ReservedNodes []string // enode URLs

	UseSecret *ecdsa.PrivateKey

	MinPeers int // default DefaultMinPeers
	MaxPeers int // default DefaultMaxPeers

	NonReservedMode NonReservedPeerMode
}

// Discovery is the interface Host depends on, matching spec.md section
// 4.D; discover.Driver is the production implementation.
type Discovery interface {
	AddNode(entry NodeEntry)
	InitNodeList(entries []NodeEntry)
	AddNodeList(entries []NodeEntry)
	Readable() (*nodetable.TableUpdates, error)
	Writable() error
	Refresh()
	Round() (*nodetable.TableUpdates, error)
	Close() error
}

type sessionReadResult struct {
	token SlabToken
	data  SessionData
	err   error
}

type acceptedConn struct {
	conn net.Conn
}

type dialResult struct {
	conn   net.Conn
	target NodeID
	err    error
}

type discoveryReadResult struct {
	updates *nodetable.TableUpdates
	err     error
}

type timerFired struct {
	token SlabToken
}

// Host is the orchestrator described in spec.md section 4.F: it owns the
// session slab, the node table, the (lazily created) discovery driver,
// the listening socket, and the handler/timer registries, and serializes
// all mutation of that state onto a single run goroutine.
type Host struct {
	config NetworkConfiguration

	info      *HostInfo
	nodeTable *nodetable.NodeTable
	slab      *SessionSlab
	stats     *NetworkStats
	nat       *NATMapper

	listener net.Listener

	reservedMu sync.RWMutex
	reserved   map[NodeID]struct{}

	handlersMu sync.RWMutex
	handlers   map[string]*protocolHandlerEntry

	timersMu       sync.Mutex
	protocolTimers map[SlabToken]ProtocolTimer
	nextTimerToken SlabToken

	connectingMu sync.Mutex
	connecting   map[NodeID]struct{}

	discovery        Discovery
	discoveryMu       sync.Mutex
	publicIfaceInited bool

	numSessions int32 // atomic

	stopping int32 // atomic bool

	msgCh      chan ioMessage
	sessionCh  chan sessionReadResult
	acceptCh   chan acceptedConn
	dialCh     chan dialResult
	discCh     chan discoveryReadResult
	timerCh    chan timerFired
	quit       chan struct{}
	wg         sync.WaitGroup

	onNetworkStarted func(string)

	log log.Logger
}

// NewHost runs the construction sequence from spec.md section 4.F steps
// 1-6: decide the key, bind the listener, compute the local endpoint,
// load the node table, register boot/reserved nodes, and defer Discovery
// creation until InitPublicInterface.
func NewHost(config NetworkConfiguration) (*Host, error) {
	if config.ListenAddress == "" {
		config.ListenAddress = DefaultListenAddress
	}
	if config.MinPeers == 0 {
		config.MinPeers = DefaultMinPeers
	}
	if config.MaxPeers == 0 {
		config.MaxPeers = DefaultMaxPeers
	}

	key, err := LoadOrGenerateKey(config.ConfigPath, config.UseSecret)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", config.ListenAddress)
	if err != nil {
		return nil, &Error{Kind: ErrIO, Err: err}
	}
	tcpAddr := listener.Addr().(*net.TCPAddr)

	udpPort := config.UDPPort
	if udpPort == 0 {
		udpPort = uint16(tcpAddr.Port)
	}
	localIP := tcpAddr.IP
	if localIP == nil || localIP.IsUnspecified() {
		localIP = net.IPv4zero
	}
	local := NodeEndpoint{Addr: localIP, TCPPort: uint16(tcpAddr.Port), UDPPort: udpPort}

	info := NewHostInfo(key, local)

	nodeTable, err := nodetable.Open(config.NetConfigPath)
	if err != nil {
		listener.Close()
		return nil, &Error{Kind: ErrIO, Err: err}
	}

	h := &Host{
		config:         config,
		info:           info,
		nodeTable:      nodeTable,
		slab:           NewSessionSlab(),
		stats:          NewNetworkStats(),
		nat:            NewNATMapper(config.NATEnabled),
		listener:       listener,
		reserved:       make(map[NodeID]struct{}),
		handlers:       make(map[string]*protocolHandlerEntry),
		protocolTimers: make(map[SlabToken]ProtocolTimer),
		nextTimerToken: UserTimerToken,
		connecting:     make(map[NodeID]struct{}),
		msgCh:          make(chan ioMessage, 16),
		sessionCh:      make(chan sessionReadResult, 64),
		acceptCh:       make(chan acceptedConn, 16),
		dialCh:         make(chan dialResult, 32),
		discCh:         make(chan discoveryReadResult, 16),
		timerCh:        make(chan timerFired, 16),
		quit:           make(chan struct{}),
		log:            log.New("component", "host"),
	}

	for _, url := range config.ReservedNodes {
		entry, err := ParseEnode(url)
		if err != nil {
			h.log.Warn("skipping malformed reserved node", "url", url, "err", err)
			continue
		}
		h.nodeTable.AddNode(entry)
		h.reserved[entry.ID] = struct{}{}
	}
	for _, url := range config.BootNodes {
		entry, err := ParseEnode(url)
		if err != nil {
			h.log.Warn("skipping malformed boot node", "url", url, "err", err)
			continue
		}
		h.nodeTable.AddNode(entry)
	}

	return h, nil
}

// Start launches the accept loop and the run goroutine. Discovery is not
// started here; it is deferred until a msgInitPublicInterface control
// message arrives, per spec.md section 4.F step 6.
func (h *Host) Start() {
	h.wg.Add(2)
	go h.acceptLoop()
	go h.run()
}

// Stop implements spec.md section 5's shutdown sequence: set stopping,
// disconnect every session with ClientQuit, kill each connection with
// remote=true, then unregister from the reactor (here: close the
// listener and discovery socket and stop the run goroutine).
func (h *Host) Stop() {
	atomic.StoreInt32(&h.stopping, 1)
	close(h.quit)
	h.listener.Close()
	h.discoveryMu.Lock()
	if h.discovery != nil {
		h.discovery.Close()
	}
	h.discoveryMu.Unlock()
	h.wg.Wait()
	h.nodeTable.Save()
	h.nodeTable.Close()
}

func (h *Host) isStopping() bool { return atomic.LoadInt32(&h.stopping) != 0 }

func (h *Host) enqueue(msg ioMessage) {
	select {
	case h.msgCh <- msg:
	case <-h.quit:
	}
}

// acceptLoop drains the listener and forwards each accepted socket to
// run(), standing in for the TCP_ACCEPT token dispatch of spec.md
// section 4.F: Go's blocking-accept-per-goroutine model replaces the
// reactor's nonblocking accept loop (see REDESIGN FLAGS).
func (h *Host) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			if h.isStopping() {
				return
			}
			h.log.Debug("accept failed", "err", err)
			return
		}
		select {
		case h.acceptCh <- acceptedConn{conn: conn}:
		case <-h.quit:
			conn.Close()
			return
		}
	}
}

// run is the single goroutine that owns every piece of mutable Host
// state, serializing session events, control messages, accepts, dial
// results, discovery updates, and timers onto one dispatch loop — the Go
// analogue of the teacher's Server.run select loop.
func (h *Host) run() {
	defer h.wg.Done()

	idleTicker := time.NewTicker(maintenanceInterval)
	defer idleTicker.Stop()
	nodeTableTicker := time.NewTicker(nodeTableSaveTick)
	defer nodeTableTicker.Stop()

	var refreshTicker, roundTicker *time.Ticker
	defer func() {
		if refreshTicker != nil {
			refreshTicker.Stop()
		}
		if roundTicker != nil {
			roundTicker.Stop()
		}
	}()

	for {
		var refreshC, roundC <-chan time.Time
		if refreshTicker != nil {
			refreshC = refreshTicker.C
		}
		if roundTicker != nil {
			roundC = roundTicker.C
		}

		select {
		case <-h.quit:
			h.shutdownSessions()
			return

		case msg := <-h.msgCh:
			h.handleMessage(msg, &refreshTicker, &roundTicker)

		case acc := <-h.acceptCh:
			h.createConnection(acc.conn, nil)

		case dr := <-h.dialCh:
			h.connectingMu.Lock()
			delete(h.connecting, dr.target)
			h.connectingMu.Unlock()
			if dr.err != nil {
				h.nodeTable.NoteFailure(dr.target)
				h.log.Debug("dial failed", "peer", dr.target, "err", dr.err)
				continue
			}
			target := dr.target
			h.createConnection(dr.conn, &target)

		case ev := <-h.sessionCh:
			h.handleSessionEvent(ev)

		case dv := <-h.discCh:
			if dv.err != nil {
				h.log.Debug("discovery read failed", "err", dv.err)
				continue
			}
			if dv.updates != nil {
				h.nodeTable.Update(*dv.updates, h.reservedSnapshot())
			}

		case tf := <-h.timerCh:
			h.dispatchUserTimer(tf.token)

		case <-idleTicker.C:
			h.maintainNetwork()

		case <-nodeTableTicker.C:
			h.nodeTable.Save()
			h.nodeTable.ClearUseless()

		case <-refreshC:
			h.discoveryMu.Lock()
			d := h.discovery
			h.discoveryMu.Unlock()
			if d != nil {
				d.Refresh()
			}

		case <-roundC:
			h.discoveryMu.Lock()
			d := h.discovery
			h.discoveryMu.Unlock()
			if d == nil {
				continue
			}
			updates, err := d.Round()
			if err != nil {
				h.log.Debug("discovery round failed", "err", err)
				continue
			}
			if updates != nil {
				h.nodeTable.Update(*updates, h.reservedSnapshot())
			}
		}
	}
}

func (h *Host) reservedSnapshot() map[NodeID]struct{} {
	h.reservedMu.RLock()
	defer h.reservedMu.RUnlock()
	out := make(map[NodeID]struct{}, len(h.reserved))
	for id := range h.reserved {
		out[id] = struct{}{}
	}
	return out
}

func (h *Host) isReserved(id NodeID) bool {
	h.reservedMu.RLock()
	defer h.reservedMu.RUnlock()
	_, ok := h.reserved[id]
	return ok
}

// handleMessage processes one control message, the Go analogue of
// spec.md section 4.F's IoMessage dispatch.
func (h *Host) handleMessage(msg ioMessage, refreshTicker, roundTicker **time.Ticker) {
	switch m := msg.(type) {
	case msgAddHandler:
		h.handlersMu.Lock()
		h.handlers[m.protocol] = &protocolHandlerEntry{handler: m.handler, protocol: m.protocol, versions: m.versions}
		h.handlersMu.Unlock()
		for _, v := range m.versions {
			h.info.AddCapability(CapabilityInfo{Protocol: m.protocol, Version: v, PacketCount: 16})
		}
		m.handler.Initialize(&NetworkContext{host: h, protocol: m.protocol})

	case msgAddTimer:
		h.timersMu.Lock()
		token := h.nextTimerToken
		h.nextTimerToken++
		h.protocolTimers[token] = ProtocolTimer{Protocol: m.protocol, Token: m.token}
		h.timersMu.Unlock()
		h.wg.Add(1)
		go h.runUserTimer(token, m.delay)

	case msgInitPublicInterface:
		h.initPublicInterface(refreshTicker, roundTicker)

	case msgDisconnect:
		if token, ok := h.sessionTokenForPeer(m.peer); ok {
			if sess, ok := h.slab.Get(token); ok {
				sess.Disconnect(DisconnectRequested)
				h.flushSession(token)
			}
			h.killConnection(token, false)
		}

	case msgDisablePeer:
		h.nodeTable.MarkAsUseless(m.peer)
		if token, ok := h.sessionTokenForPeer(m.peer); ok {
			if sess, ok := h.slab.Get(token); ok {
				sess.Disconnect(DisconnectUselessPeer)
				h.flushSession(token)
			}
			h.killConnection(token, false)
		}

	case msgNetworkStarted:
		h.log.Info("network started", "enode", m.enodeURL)
		if h.onNetworkStarted != nil {
			h.onNetworkStarted(m.enodeURL)
		}
	}
}

// initPublicInterface implements spec.md section 4.F's InitPublicInterface:
// resolve the public endpoint (explicit override > NAT mapping > local
// interface scan), create Discovery if enabled, and start its timers.
// Idempotent.
func (h *Host) initPublicInterface(refreshTicker, roundTicker **time.Ticker) {
	h.discoveryMu.Lock()
	if h.publicIfaceInited {
		h.discoveryMu.Unlock()
		return
	}
	h.publicIfaceInited = true
	h.discoveryMu.Unlock()

	local := h.info.LocalEndpoint()
	var publicIP net.IP
	if h.config.PublicAddress != "" {
		publicIP = net.ParseIP(h.config.PublicAddress)
	}
	if publicIP == nil {
		publicIP = h.nat.Map(local.TCPPort)
	}
	public := NodeEndpoint{Addr: publicIP, TCPPort: local.TCPPort, UDPPort: local.UDPPort}
	h.info.SetPublicEndpoint(public)

	h.enqueue(msgNetworkStarted{enodeURL: h.info.ExternalURL()})

	if !h.config.DiscoveryEnabled || h.config.NonReservedMode == NonReservedDeny {
		return
	}

	udpAddr := &net.UDPAddr{IP: net.IPv4zero, Port: int(local.UDPPort)}
	priv := h.info.PrivateKey()
	driver, err := discover.New(priv, udpAddr, public, h.config.NetConfigPath)
	if err != nil {
		h.log.Warn("failed to start discovery, continuing without it", "err", err)
		return
	}
	h.discoveryMu.Lock()
	h.discovery = driver
	h.discoveryMu.Unlock()

	boot := h.nodeTable.Nodes(h.reservedSnapshot())
	driver.InitNodeList(boot)

	*refreshTicker = time.NewTicker(discoveryRefreshTick)
	*roundTicker = time.NewTicker(discoveryRoundTick)

	h.wg.Add(1)
	go h.discoveryReadLoop(driver)
}

func (h *Host) discoveryReadLoop(d Discovery) {
	defer h.wg.Done()
	for {
		updates, err := d.Readable()
		select {
		case h.discCh <- discoveryReadResult{updates: updates, err: err}:
		case <-h.quit:
			return
		}
		if err != nil {
			return
		}
		d.Writable()
	}
}

func (h *Host) runUserTimer(token SlabToken, delay time.Duration) {
	defer h.wg.Done()
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case h.timerCh <- timerFired{token: token}:
			case <-h.quit:
				return
			}
		case <-h.quit:
			return
		}
	}
}

func (h *Host) dispatchUserTimer(token SlabToken) {
	h.timersMu.Lock()
	pt, ok := h.protocolTimers[token]
	h.timersMu.Unlock()
	if !ok {
		return
	}
	h.handlersMu.RLock()
	entry, ok := h.handlers[pt.Protocol]
	h.handlersMu.RUnlock()
	if !ok {
		return
	}
	entry.handler.Timeout(&NetworkContext{host: h, protocol: pt.Protocol}, pt.Token)
}

// createConnection allocates a slab token for conn and spawns its reader
// goroutine. target is nil for inbound connections, matching
// create_connection(socket, Option<NodeId>) from spec.md section 4.F.
func (h *Host) createConnection(conn net.Conn, target *NodeID) {
	nonce := h.info.NextNonce()
	token, err := h.slab.InsertWithOpt(func(token SlabToken) (Session, error) {
		return NewSession(conn, token, target, nonce, h.stats, h.info), nil
	})
	if err != nil {
		h.log.Debug("max sessions reached", "remote", conn.RemoteAddr())
		conn.Close()
		return
	}
	h.wg.Add(1)
	go h.sessionReadLoop(token)
}

// sessionReadLoop repeatedly drives one session's read side, the Go
// analogue of the reactor delivering readable events for that token.
func (h *Host) sessionReadLoop(token SlabToken) {
	defer h.wg.Done()
	for {
		sess, ok := h.slab.Get(token)
		if !ok {
			return
		}
		data, err := sess.Readable(h)
		select {
		case h.sessionCh <- sessionReadResult{token: token, data: data, err: err}:
		case <-h.quit:
			return
		}
		if err != nil || sess.Done() {
			return
		}
	}
}

func (h *Host) flushSession(token SlabToken) {
	sess, ok := h.slab.Get(token)
	if !ok {
		return
	}
	if err := sess.Writable(); err != nil {
		h.log.Debug("write failed, killing connection", "token", token, "err", err)
		h.killConnection(token, true)
	}
}

// handleSessionEvent dispatches one SessionData delivery per spec.md
// section 4.F: Ready triggers admission and Connected callbacks, Packet
// routes to the negotiated handler, errors kill the connection.
func (h *Host) handleSessionEvent(ev sessionReadResult) {
	if ev.err != nil {
		h.killConnection(ev.token, true)
		return
	}
	switch ev.data.Kind {
	case SessionDataReady:
		h.onSessionReady(ev.token)
	case SessionDataPacket:
		h.dispatchPacket(ev.token, ev.data)
	case SessionDataContinue, SessionDataNone:
		// no action required; the read loop will try again.
	}
}

// onSessionReady implements the inbound admission policy and Ready
// dispatch from spec.md section 4.F.
func (h *Host) onSessionReady(token SlabToken) {
	sess, ok := h.slab.Get(token)
	if !ok {
		return
	}
	id, haveID := sess.ID()
	if !haveID {
		return
	}

	inbound := !h.isOutboundSession(sess)
	if inbound {
		sessionCount := int(atomic.LoadInt32(&h.numSessions))
		if (sessionCount >= h.config.MaxPeers || h.config.NonReservedMode == NonReservedDeny) && !h.isReserved(id) {
			sess.Disconnect(DisconnectTooManyPeers)
			h.flushSession(token)
			h.killConnection(token, false)
			return
		}
		h.nodeTable.AddNode(NodeEntry{ID: id, Endpoint: sess.RemoteEndpoint()})
		h.discoveryMu.Lock()
		d := h.discovery
		h.discoveryMu.Unlock()
		if d != nil {
			d.AddNode(NodeEntry{ID: id, Endpoint: sess.RemoteEndpoint()})
		}
	}

	sess.SetAdmitted()
	atomic.AddInt32(&h.numSessions, 1)
	h.nodeTable.NoteSuccess(id)
	h.stats.SessionOpened()

	for _, cap := range sess.Capabilities() {
		h.handlersMu.RLock()
		entry, ok := h.handlers[cap.Protocol]
		h.handlersMu.RUnlock()
		if !ok {
			continue
		}
		entry.handler.Connected(&NetworkContext{host: h, protocol: cap.Protocol, currentToken: token, hasCurrent: true}, token)
	}
}

// isOutboundSession reports whether sess was created via connect_peers
// (has a pinned target identity) rather than accept.
func (h *Host) isOutboundSession(sess Session) bool {
	s, ok := sess.(*session)
	return ok && s.outbound
}

func (h *Host) dispatchPacket(token SlabToken, data SessionData) {
	h.handlersMu.RLock()
	entry, ok := h.handlers[data.Protocol]
	h.handlersMu.RUnlock()
	if !ok {
		h.log.Debug("no handler registered for protocol, dropping packet", "protocol", data.Protocol)
		return
	}
	entry.handler.Read(&NetworkContext{host: h, protocol: data.Protocol, currentToken: token, hasCurrent: true}, token, data.PacketID, data.Data)
}

// killConnection implements spec.md section 4.F's kill_connection: tear
// down bookkeeping for token, notify handlers of disconnection, and
// deregister the session if remote-initiated or fully drained.
func (h *Host) killConnection(token SlabToken, remote bool) {
	sess, ok := h.slab.Get(token)
	if !ok {
		return
	}

	id, haveID := sess.ID()
	if remote && haveID {
		h.nodeTable.NoteFailure(id)
	}

	if sess.MarkTornDown() {
		var caps []CapabilityInfo
		if sess.Admitted() {
			atomic.AddInt32(&h.numSessions, -1)
			h.stats.SessionClosed()
			caps = sess.Capabilities()
		}
		sess.SetExpired()

		for _, cap := range caps {
			h.handlersMu.RLock()
			entry, ok := h.handlers[cap.Protocol]
			h.handlersMu.RUnlock()
			if !ok {
				continue
			}
			entry.handler.Disconnected(&NetworkContext{host: h, protocol: cap.Protocol, currentToken: token, hasCurrent: true}, token)
		}
	}

	if remote || sess.Done() {
		h.slab.Remove(token)
		sess.Close()
	}
}

func (h *Host) shutdownSessions() {
	for _, token := range h.slab.Tokens() {
		if sess, ok := h.slab.Get(token); ok {
			sess.Disconnect(DisconnectClientQuit)
			h.flushSession(token)
		}
		h.killConnection(token, true)
	}
}

// maintainNetwork is the IDLE-tick handler: keep_alive then connect_peers,
// per spec.md section 4.F.
func (h *Host) maintainNetwork() {
	h.slab.Each(func(token SlabToken, sess Session) {
		if !sess.IsReady() {
			return
		}
		if !sess.KeepAlive() {
			sess.Disconnect(DisconnectPingTimeout)
			h.flushSession(token)
			h.killConnection(token, true)
			return
		}
		h.flushSession(token)
	})
	h.connectPeers()
}

// connectPeers implements the admission policy of spec.md section 4.F,
// restoring host.rs's exact handshake-slot arithmetic (section 7's
// supplemented-features note): MAX_HANDSHAKES-16 reserved for inbound,
// at most MAX_HANDSHAKES_PER_ROUND dials per tick.
func (h *Host) connectPeers() {
	h.handlersMu.RLock()
	noHandlers := len(h.handlers) == 0
	h.handlersMu.RUnlock()
	if noHandlers {
		return
	}

	sessionCount := int(atomic.LoadInt32(&h.numSessions))
	handshakeCount := h.slab.Size() - sessionCount
	if handshakeCount >= MaxHandshakes-reservedInboundSlots {
		return
	}

	reserved := h.reservedSnapshot()
	pin := h.config.NonReservedMode == NonReservedDeny
	if !pin {
		allReservedConnected := true
		for id := range reserved {
			if _, ok := h.sessionTokenForPeer(id); !ok {
				allReservedConnected = false
				break
			}
		}
		if sessionCount >= h.config.MinPeers+len(reserved) {
			if allReservedConnected {
				return
			}
			// At capacity but a reserved peer is still missing: dial
			// reserved-only until it reconnects.
			pin = true
		}
	}

	limit := MaxHandshakesPerRound
	if remaining := MaxHandshakes - reservedInboundSlots - handshakeCount; remaining < limit {
		limit = remaining
	}
	if limit <= 0 {
		return
	}

	candidates := h.dialCandidates(reserved, pin, limit)
	for _, entry := range candidates {
		h.dial(entry)
	}
}

func (h *Host) dialCandidates(reserved map[NodeID]struct{}, pin bool, limit int) []NodeEntry {
	var out []NodeEntry
	for id := range reserved {
		if len(out) >= limit {
			return out
		}
		if _, connected := h.sessionTokenForPeer(id); connected {
			continue
		}
		if h.isConnecting(id) {
			continue
		}
		if n, ok := h.nodeTable.Get(id); ok {
			out = append(out, n.Entry)
		}
	}
	if pin {
		return out
	}
	for _, entry := range h.nodeTable.Nodes(reserved) {
		if len(out) >= limit {
			break
		}
		if _, isReserved := reserved[entry.ID]; isReserved {
			continue
		}
		if _, connected := h.sessionTokenForPeer(entry.ID); connected {
			continue
		}
		if h.isConnecting(entry.ID) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (h *Host) isConnecting(id NodeID) bool {
	h.connectingMu.Lock()
	defer h.connectingMu.Unlock()
	_, ok := h.connecting[id]
	return ok
}

func (h *Host) dial(entry NodeEntry) {
	h.connectingMu.Lock()
	h.connecting[entry.ID] = struct{}{}
	h.connectingMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		conn, err := net.DialTimeout("tcp", entry.Endpoint.TCPAddr().String(), dialTimeout)
		select {
		case h.dialCh <- dialResult{conn: conn, target: entry.ID, err: err}:
		case <-h.quit:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

// sessionTokenForPeer performs the linear slab scan the Open Questions
// section of spec.md section 9 explicitly accepts as sufficient.
func (h *Host) sessionTokenForPeer(id NodeID) (SlabToken, bool) {
	var found SlabToken
	ok := false
	h.slab.Each(func(token SlabToken, sess Session) {
		if ok {
			return
		}
		if sid, have := sess.ID(); have && sid == id {
			found, ok = token, true
		}
	})
	return found, ok
}

// ExternalURL returns the host's enode URL, using its public endpoint
// once known.
func (h *Host) ExternalURL() string { return h.info.ExternalURL() }

// AddHandler registers a protocol, per spec.md section 4.F's AddHandler
// control message.
func (h *Host) AddHandler(handler NetworkProtocolHandler, protocol string, versions []uint8) {
	h.enqueue(msgAddHandler{handler: handler, protocol: protocol, versions: versions})
}

// InitPublicInterface triggers public-endpoint discovery and, if enabled,
// starts the Discovery driver. Safe to call multiple times.
func (h *Host) InitPublicInterface() { h.enqueue(msgInitPublicInterface{}) }

// Disconnect requests that peer be disconnected without being marked
// useless.
func (h *Host) Disconnect(peer NodeID) { h.enqueue(msgDisconnect{peer: peer}) }

// DisablePeer disconnects peer and marks it useless so it is not
// redialed.
func (h *Host) DisablePeer(peer NodeID) { h.enqueue(msgDisablePeer{peer: peer}) }

// Stats returns a point-in-time snapshot of the shared session counters.
func (h *Host) Stats() StatsSnapshot { return h.stats.Snapshot() }
