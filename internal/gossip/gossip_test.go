package gossip

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/suite"

	"github.com/paw-chain/gossip-overlay/internal/settings"
	"github.com/paw-chain/gossip-overlay/internal/transport"
	"github.com/paw-chain/gossip-overlay/internal/wire"
)

// fakeTransport is a minimal in-memory transport.Transport double
// recording every Send call.
type fakeTransport struct {
	mu          sync.Mutex
	sends       []sendCall
	publicKeys  map[transport.ConnectionID]string
	invalidConn map[transport.ConnectionID]bool
}

type sendCall struct {
	msgType wire.MessageType
	payload []byte
	connID  transport.ConnectionID
	oneWay  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		publicKeys:  make(map[transport.ConnectionID]string),
		invalidConn: make(map[transport.ConnectionID]bool),
	}
}

func (f *fakeTransport) Send(_ context.Context, msgType wire.MessageType, payload []byte, connID transport.ConnectionID, oneWay bool, cb transport.SendCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invalidConn[connID] {
		return transport.ErrInvalidConnection
	}
	f.sends = append(f.sends, sendCall{msgType, payload, connID, oneWay})
	if cb != nil {
		cb("", nil, nil)
	}
	return nil
}

func (f *fakeTransport) AddOutboundConnection(_ context.Context, _ string) (transport.ConnectionID, error) {
	return "", nil
}
func (f *fakeTransport) RemoveConnection(transport.ConnectionID) error { return nil }
func (f *fakeTransport) HasConnection(transport.ConnectionID) bool     { return true }
func (f *fakeTransport) IsConnectionHandshakeComplete(transport.ConnectionID) bool {
	return true
}
func (f *fakeTransport) GetConnectionIDByEndpoint(string) (transport.ConnectionID, error) {
	return "", transport.ErrKeyNotFound
}
func (f *fakeTransport) ConnectionIDToEndpoint(transport.ConnectionID) (string, error) {
	return "", nil
}
func (f *fakeTransport) ConnectionIDToPublicKey(connID transport.ConnectionID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, ok := f.publicKeys[connID]
	return pk, ok
}
func (f *fakeTransport) PublicKeyToConnectionID(string) (transport.ConnectionID, bool) {
	return "", false
}
func (f *fakeTransport) Events() <-chan transport.Event { return nil }

// fakeNotifier records consensus notifications.
type fakeNotifier struct {
	mu        sync.Mutex
	connected []string
	disconn   []string
}

func (n *fakeNotifier) NotifyPeerConnected(publicKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, publicKey)
}

func (n *fakeNotifier) NotifyPeerDisconnected(publicKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconn = append(n.disconn, publicKey)
}

type GossipTestSuite struct {
	suite.Suite
	tp       *fakeTransport
	notifier *fakeNotifier
	g        *Gossip
}

func (s *GossipTestSuite) SetupTest() {
	s.tp = newFakeTransport()
	s.notifier = &fakeNotifier{}
	s.g = New(log.NewNopLogger(), s.tp, s.notifier, settings.NewStaticCache(nil), nil, Config{SelfEndpoint: "tcp://self:1", MaxPeers: 3})
}

func (s *GossipTestSuite) TestRegisterPeerSuccessNotifies() {
	s.tp.publicKeys["c1"] = "pk-A"

	err := s.g.RegisterPeer("c1", "tcp://A:1")
	s.Require().NoError(err)

	peers := s.g.GetPeers()
	s.Require().Equal(map[transport.ConnectionID]string{"c1": "tcp://A:1"}, peers)
	s.Require().Equal([]string{"pk-A"}, s.notifier.connected)
}

func (s *GossipTestSuite) TestRegisterPeerMaxReached() {
	s.Require().NoError(s.g.RegisterPeer("c1", "tcp://A:1"))
	s.Require().NoError(s.g.RegisterPeer("c2", "tcp://B:1"))
	s.Require().NoError(s.g.RegisterPeer("c3", "tcp://C:1"))

	err := s.g.RegisterPeer("c4", "tcp://D:1")
	reason, ok := IsPeerRejected(err)
	s.Require().True(ok)
	s.Require().Equal(ReasonMaxReached, reason)
	s.Require().Len(s.g.GetPeers(), 3)
	s.Require().NotContains(s.g.GetPeers(), transport.ConnectionID("c4"))
}

func (s *GossipTestSuite) TestRegisterPeerAbandonedSweep() {
	s.tp.publicKeys["c1"] = "pk-P"
	s.Require().NoError(s.g.RegisterPeer("c1", "tcp://P:1"))

	err := s.g.RegisterPeer("c2", "tcp://P:1")
	reason, ok := IsPeerRejected(err)
	s.Require().True(ok)
	s.Require().Equal(ReasonAlreadyConnected, reason)

	// c1 was swept out, c2 was never admitted.
	s.Require().Empty(s.g.GetPeers())
	s.Require().Equal([]string{"pk-P"}, s.notifier.disconn)
}

func (s *GossipTestSuite) TestUnregisterPeerNotifiesAndNoOpsWhenAbsent() {
	s.tp.publicKeys["c1"] = "pk-A"
	s.Require().NoError(s.g.RegisterPeer("c1", "tcp://A:1"))

	s.g.UnregisterPeer("c1")
	s.Require().Empty(s.g.GetPeers())
	s.Require().Equal([]string{"pk-A"}, s.notifier.disconn)

	// Unregistering again is a silent no-op: no extra notification.
	s.g.UnregisterPeer("c1")
	s.Require().Equal([]string{"pk-A"}, s.notifier.disconn)
}

func (s *GossipTestSuite) TestSendDropsPeerOnInvalidConnection() {
	s.Require().NoError(s.g.RegisterPeer("c1", "tcp://A:1"))
	s.tp.invalidConn["c1"] = true

	err := s.g.Send(context.Background(), wire.GossipMessage, []byte("x"), "c1", true, nil)
	s.Require().ErrorIs(err, transport.ErrInvalidConnection)
	s.Require().Empty(s.g.GetPeers())
}

func (s *GossipTestSuite) TestBroadcastExcludes() {
	s.Require().NoError(s.g.RegisterPeer("c1", "tcp://A:1"))
	s.Require().NoError(s.g.RegisterPeer("c2", "tcp://B:1"))
	s.Require().NoError(s.g.RegisterPeer("c3", "tcp://C:1"))

	exclude := map[transport.ConnectionID]struct{}{"c2": {}}
	s.Require().NoError(s.g.BroadcastBlock(context.Background(), []byte("block-bytes"), exclude))

	s.tp.mu.Lock()
	defer s.tp.mu.Unlock()
	s.Require().Len(s.tp.sends, 2)
	for _, call := range s.tp.sends {
		s.Require().NotEqual(transport.ConnectionID("c2"), call.connID)
		s.Require().True(call.oneWay)
		s.Require().Equal(wire.GossipMessage, call.msgType)
	}
}

func (s *GossipTestSuite) TestSendPeersIncludesSelfEndpoint() {
	s.Require().NoError(s.g.RegisterPeer("c1", "tcp://A:1"))

	err := s.g.SendPeers(context.Background(), "c9")
	s.Require().NoError(err)

	s.tp.mu.Lock()
	defer s.tp.mu.Unlock()
	s.Require().Len(s.tp.sends, 1)
	s.Require().Equal(wire.GossipGetPeersResponse, s.tp.sends[0].msgType)

	var resp wire.GetPeersResponse
	s.Require().NoError(json.Unmarshal(s.tp.sends[0].payload, &resp))
	s.Require().ElementsMatch([]string{"tcp://A:1", "tcp://self:1"}, resp.PeerEndpoints)
}

func TestGossipSuite(t *testing.T) {
	suite.Run(t, new(GossipTestSuite))
}
