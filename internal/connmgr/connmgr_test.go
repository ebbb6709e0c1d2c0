package connmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/suite"

	"github.com/paw-chain/gossip-overlay/internal/connstate"
	"github.com/paw-chain/gossip-overlay/internal/consensusnotify"
	"github.com/paw-chain/gossip-overlay/internal/gossip"
	"github.com/paw-chain/gossip-overlay/internal/settings"
	"github.com/paw-chain/gossip-overlay/internal/transport"
	"github.com/paw-chain/gossip-overlay/internal/wire"
)

// zeroReader always yields zero, making pickRandom deterministic.
type zeroReader struct{}

func (zeroReader) Read(b []byte) (int, error) {
	for i := range b {
		b[i] = 0
	}
	return len(b), nil
}

// fakeTransport is a configurable transport.Transport double.
type fakeTransport struct {
	mu sync.Mutex

	nextID     int
	endpointOf map[transport.ConnectionID]string
	connByEnd  map[string]transport.ConnectionID
	handshake  map[transport.ConnectionID]bool
	hasConn    map[transport.ConnectionID]bool
	publicKeys map[transport.ConnectionID]string
	sends      []sendCall
	sendErr    map[transport.ConnectionID]error
	replies    map[wire.MessageType][]byte // canned reply per msgType, used for non-oneWay Send
	events     chan transport.Event
	dialErr    error
}

type sendCall struct {
	msgType wire.MessageType
	connID  transport.ConnectionID
	oneWay  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		endpointOf: make(map[transport.ConnectionID]string),
		connByEnd:  make(map[string]transport.ConnectionID),
		handshake:  make(map[transport.ConnectionID]bool),
		hasConn:    make(map[transport.ConnectionID]bool),
		publicKeys: make(map[transport.ConnectionID]string),
		sendErr:    make(map[transport.ConnectionID]error),
		replies:    make(map[wire.MessageType][]byte),
		events:     make(chan transport.Event, 8),
	}
}

func (f *fakeTransport) AddOutboundConnection(_ context.Context, endpoint string) (transport.ConnectionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return "", f.dialErr
	}
	f.nextID++
	id := transport.ConnectionID(fmt.Sprintf("%s#conn%d", endpoint, f.nextID))
	f.endpointOf[id] = endpoint
	f.connByEnd[endpoint] = id
	f.hasConn[id] = true
	return id, nil
}

func (f *fakeTransport) Send(_ context.Context, msgType wire.MessageType, _ []byte, connID transport.ConnectionID, oneWay bool, cb transport.SendCallback) error {
	f.mu.Lock()
	err := f.sendErr[connID]
	reply := f.replies[msgType]
	f.sends = append(f.sends, sendCall{msgType, connID, oneWay})
	f.mu.Unlock()

	if err != nil {
		if cb != nil {
			cb("", nil, err)
		}
		return err
	}
	if !oneWay && cb != nil {
		cb("", reply, nil)
	}
	return nil
}

func (f *fakeTransport) RemoveConnection(connID transport.ConnectionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hasConn, connID)
	return nil
}

func (f *fakeTransport) HasConnection(connID transport.ConnectionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasConn[connID]
}

func (f *fakeTransport) IsConnectionHandshakeComplete(connID transport.ConnectionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handshake[connID]
}

func (f *fakeTransport) GetConnectionIDByEndpoint(endpoint string) (transport.ConnectionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.connByEnd[endpoint]
	if !ok {
		return "", transport.ErrKeyNotFound
	}
	return id, nil
}

func (f *fakeTransport) ConnectionIDToEndpoint(connID transport.ConnectionID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.endpointOf[connID]
	if !ok {
		return "", transport.ErrKeyNotFound
	}
	return ep, nil
}

func (f *fakeTransport) ConnectionIDToPublicKey(connID transport.ConnectionID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, ok := f.publicKeys[connID]
	return pk, ok
}

func (f *fakeTransport) PublicKeyToConnectionID(string) (transport.ConnectionID, bool) { return "", false }

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) setHandshakeComplete(connID transport.ConnectionID, complete bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handshake[connID] = complete
}

type nopNotifier struct{}

func (nopNotifier) NotifyPeerConnected(string)    {}
func (nopNotifier) NotifyPeerDisconnected(string) {}

type countingHealthSink struct {
	mu    sync.Mutex
	count int
}

func (h *countingHealthSink) Unhealthy(int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
}

type ConnMgrTestSuite struct {
	suite.Suite
	tp *fakeTransport
	g  *gossip.Gossip
}

func (s *ConnMgrTestSuite) SetupTest() {
	s.tp = newFakeTransport()
	s.g = gossip.New(log.NewNopLogger(), s.tp, consensusnotify.NewLoggingNotifier(log.NewNopLogger()),
		settings.NewStaticCache(nil), nil, gossip.Config{SelfEndpoint: "tcp://self:1", MaxPeers: 10})
}

func (s *ConnMgrTestSuite) newManager(cfg Config) *Manager {
	m := New(log.NewNopLogger(), s.tp, s.g, cfg, nil, nil)
	m.randReader = zeroReader{}
	return m
}

func (s *ConnMgrTestSuite) TestStaticDialCreatesTempRecord() {
	cfg := DefaultConfig()
	cfg.PeeringMode = PeeringStatic
	cfg.InitialPeerEndpoints = []string{"tcp://A:1"}
	m := s.newManager(cfg)

	m.retryStaticPeering(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	s.Require().Len(m.temps, 1)
	for _, info := range m.temps {
		s.Require().Equal(IntentPeering, info.Intent)
		s.Require().Equal(InitialRetryFrequency, info.RetryThreshold)
	}
	s.Require().Equal(1, len(s.tp.connByEnd))
}

func (s *ConnMgrTestSuite) TestStaticBackoffDoublesAndCaps() {
	cfg := DefaultConfig()
	cfg.PeeringMode = PeeringStatic
	cfg.InitialPeerEndpoints = []string{"tcp://B:1"}
	m := s.newManager(cfg)

	// Drive the static retry cycle repeatedly, never completing the
	// handshake, and confirm the threshold caps at
	// MaximumStaticRetryFrequency and the endpoint is eventually removed
	// after MaximumStaticRetries attempts at the cap.
	var thresholds []time.Duration
	for i := 0; i < 50; i++ {
		m.mu.Lock()
		if info, ok := m.staticPeers["tcp://B:1"]; ok {
			// Force the "due" condition without sleeping in real time.
			info.LastAttempt = time.Time{}
		}
		m.mu.Unlock()
		m.retryStaticPeering(context.Background())

		m.mu.Lock()
		if info, ok := m.staticPeers["tcp://B:1"]; ok {
			thresholds = append(thresholds, info.RetryThreshold)
		}
		m.mu.Unlock()
	}

	s.Require().Equal([]time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}, thresholds[:3])
	s.Require().Equal(MaximumStaticRetryFrequency, thresholds[len(thresholds)-1])

	m.mu.Lock()
	_, stillPresent := m.staticPeers["tcp://B:1"]
	m.mu.Unlock()
	s.Require().False(stillPresent, "endpoint should be permanently removed after exhausting retries")
}

func (s *ConnMgrTestSuite) TestCheckTempConnectionsRedialsPastThreshold() {
	m := s.newManager(DefaultConfig())

	connID, err := m.dial(context.Background(), "tcp://C:1", IntentPeering, 10*time.Millisecond)
	s.Require().NoError(err)
	s.tp.setHandshakeComplete(connID, false)

	// Age the record past its threshold.
	m.mu.Lock()
	m.temps[connID].DialedAt = time.Now().Add(-time.Second)
	m.mu.Unlock()

	m.checkTempConnections(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	s.Require().NotContains(m.temps, connID)
	s.Require().Len(m.temps, 1, "a fresh redial record should replace the old one")
}

func (s *ConnMgrTestSuite) TestConnectSuccessPeeringSendsRegisterAndPromotes() {
	m := s.newManager(DefaultConfig())
	connID, err := m.dial(context.Background(), "tcp://D:1", IntentPeering, InitialRetryFrequency/2)
	s.Require().NoError(err)

	ackPayload, _ := json.Marshal(wire.NetworkAcknowledgement{Status: wire.AckOK})
	s.tp.replies[wire.GossipRegister] = ackPayload

	m.connectSuccess(context.Background(), connID)

	peers := s.g.GetPeers()
	s.Require().Equal("tcp://D:1", peers[connID])
}

func (s *ConnMgrTestSuite) TestPeerCallbackUnknownAckClosesAsTemp() {
	m := s.newManager(DefaultConfig())
	connID, err := m.dial(context.Background(), "tcp://E:1", IntentPeering, InitialRetryFrequency/2)
	s.Require().NoError(err)
	m.mu.Lock()
	m.statuses[connID] = connstate.Temp
	m.mu.Unlock()

	m.peerCallback(context.Background(), connID, "tcp://E:1", []byte(`{"status":""}`), nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	s.Require().NotContains(m.statuses, connID)
}

func (s *ConnMgrTestSuite) TestCloseTempConnectionRefusesPeerStatus() {
	m := s.newManager(DefaultConfig())
	s.tp.publicKeys["p1"] = "pk-1"
	s.Require().NoError(s.g.RegisterPeer("p1", "tcp://F:1"))

	m.mu.Lock()
	m.statuses["p1"] = connstate.Peer
	m.mu.Unlock()

	m.closeTempConnection(context.Background(), "p1")

	m.mu.Lock()
	defer m.mu.Unlock()
	s.Require().Equal(connstate.Peer, m.statuses["p1"])
}

func (s *ConnMgrTestSuite) TestPickAndDialCandidateDeterministicWithZeroReader() {
	m := s.newManager(DefaultConfig())
	m.AddCandidatePeerEndpoints([]string{"tcp://X:1", "tcp://Y:1", "tcp://Z:1"})

	m.pickAndDialCandidate(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	s.Require().Len(m.temps, 1)
	for _, info := range m.temps {
		s.Require().Equal(IntentPeering, info.Intent)
		s.Require().Equal("tcp://X:1", info.Endpoint, "zeroReader must deterministically pick the first candidate")
	}
}

func (s *ConnMgrTestSuite) TestHealthCountdownEscalatesWhenBelowMinPeers() {
	cfg := DefaultConfig()
	cfg.MinPeers = 5
	sink := &countingHealthSink{}
	m := New(log.NewNopLogger(), s.tp, s.g, cfg, sink, nil)
	m.mu.Lock()
	m.healthCountdown = 1
	m.mu.Unlock()

	m.stepHealthCountdown()

	sink.mu.Lock()
	s.Require().Equal(1, sink.count)
	sink.mu.Unlock()

	// Once the grace period is exhausted it never resets; every further
	// tick below minimum escalates again.
	m.stepHealthCountdown()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	s.Require().Equal(2, sink.count)
}

func (s *ConnMgrTestSuite) TestStaticPeeringRedialsDroppedPeer() {
	cfg := DefaultConfig()
	cfg.PeeringMode = PeeringStatic
	cfg.InitialPeerEndpoints = []string{"tcp://A:1"}
	m := s.newManager(cfg)

	connID, err := s.tp.AddOutboundConnection(context.Background(), "tcp://A:1")
	s.Require().NoError(err)
	s.tp.setHandshakeComplete(connID, true)
	s.Require().NoError(s.g.RegisterPeer(connID, "tcp://A:1"))

	// The connection dies: the handshake is no longer complete. The next
	// static cycle must unregister the stale peer and dial again instead
	// of treating the endpoint as still peered.
	s.tp.setHandshakeComplete(connID, false)

	m.retryStaticPeering(context.Background())

	s.Require().Empty(s.g.GetPeers())
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Require().Len(m.temps, 1)
	for _, info := range m.temps {
		s.Require().Equal("tcp://A:1", info.Endpoint)
		s.Require().Equal(IntentPeering, info.Intent)
	}
}

func TestConnMgrSuite(t *testing.T) {
	suite.Run(t, new(ConnMgrTestSuite))
}
