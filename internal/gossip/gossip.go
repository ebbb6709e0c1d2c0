// Package gossip implements the peer registry and message fan-out for the
// validator overlay: the peer map, the register/unregister lifecycle, and a
// thin broadcast/unicast wrapper over Transport. The connection manager
// (package connmgr) owns the reconciliation loop that drives dialing and
// candidate discovery; Gossip never imports it. The manager lock and the
// manager itself are bound into Gossip post-construction, behind sync.Locker
// and a narrow ConnectionManager interface, so register/unregister can take
// the manager lock before the gossip lock without a package cycle.
package gossip

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"cosmossdk.io/log"

	"github.com/paw-chain/gossip-overlay/internal/connstate"
	"github.com/paw-chain/gossip-overlay/internal/consensusnotify"
	"github.com/paw-chain/gossip-overlay/internal/metrics"
	"github.com/paw-chain/gossip-overlay/internal/settings"
	"github.com/paw-chain/gossip-overlay/internal/transport"
	"github.com/paw-chain/gossip-overlay/internal/wire"
)

// ConnectionManager is the narrow surface Gossip needs from the
// reconciliation worker (package connmgr) without importing it.
type ConnectionManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// noopLocker satisfies sync.Locker until a real manager lock is bound, so
// RegisterPeer never blocks forever before wiring is complete.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// Gossip is the peer registry and fan-out layer.
//
// mu guards the peer map. cmLock is the connection manager's lock, bound in
// by BindConnectionManagerLock; RegisterPeer and UnregisterPeer must acquire
// cmLock before mu, never the reverse.
type Gossip struct {
	logger    log.Logger
	transport transport.Transport
	notifier  consensusnotify.Notifier
	settings  settings.Cache
	stateRoot settings.StateRootFunc
	metrics   *metrics.Collectors

	selfEndpoint string
	maxPeers     int

	cmLock sync.Locker

	mu           sync.Mutex // guards peers, statusSetter, cm
	peers        map[transport.ConnectionID]string
	statusSetter connstate.Setter
	cm           ConnectionManager
}

// Config carries the construction-time parameters for Gossip.
type Config struct {
	SelfEndpoint string
	MaxPeers     int
}

// New builds a Gossip. The returned value is not fully wired until
// BindConnectionManagerLock and BindStatusSetter are called by the
// component that owns the manager lock (connmgr.New does both).
func New(logger log.Logger, tp transport.Transport, notifier consensusnotify.Notifier, cache settings.Cache, stateRoot settings.StateRootFunc, cfg Config) *Gossip {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 10
	}
	return &Gossip{
		logger:       logger,
		transport:    tp,
		notifier:     notifier,
		settings:     cache,
		stateRoot:    stateRoot,
		metrics:      metrics.New(),
		selfEndpoint: cfg.SelfEndpoint,
		maxPeers:     cfg.MaxPeers,
		cmLock:       noopLocker{},
		peers:        make(map[transport.ConnectionID]string),
	}
}

// BindConnectionManagerLock installs the manager lock that RegisterPeer
// acquires before the gossip lock. Must be called once during wiring,
// before Start.
func (g *Gossip) BindConnectionManagerLock(l sync.Locker) {
	g.cmLock = l
}

// BindStatusSetter installs the connection-status mutator owned by the
// connection manager, so register/unregister can flip status as a side
// effect.
func (g *Gossip) BindStatusSetter(s connstate.Setter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusSetter = s
}

// BindConnectionManager installs the worker that Start/Stop delegate to.
func (g *Gossip) BindConnectionManager(cm ConnectionManager) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cm = cm
}

func (g *Gossip) setStatus(connID transport.ConnectionID, status connstate.Status) {
	if g.statusSetter != nil {
		g.statusSetter.SetStatus(connID, status)
	}
}

// RegisterPeer promotes an authorized connection to peer. It acquires the
// manager lock, then the gossip lock.
//
// If the peer map already holds a connection to the same endpoint, every
// such entry is unregistered (the abandoned-peer sweep) and the request is
// rejected with already_connected even though the sweep itself succeeds;
// the caller is expected to close connID as a temporary.
func (g *Gossip) RegisterPeer(connID transport.ConnectionID, endpoint string) error {
	g.cmLock.Lock()
	defer g.cmLock.Unlock()

	g.mu.Lock()

	var abandoned []transport.ConnectionID
	for cid, ep := range g.peers {
		if ep == endpoint {
			abandoned = append(abandoned, cid)
		}
	}

	if len(abandoned) > 0 {
		var abandonedPKs []string
		for _, cid := range abandoned {
			if pk, ok := g.transport.ConnectionIDToPublicKey(cid); ok {
				abandonedPKs = append(abandonedPKs, pk)
			}
			delete(g.peers, cid)
			g.setStatus(cid, connstate.Temp)
		}
		g.mu.Unlock()

		for _, pk := range abandonedPKs {
			g.notifier.NotifyPeerDisconnected(pk)
		}
		g.metrics.PeerRejectionsTotal.WithLabelValues(string(ReasonAlreadyConnected)).Inc()
		g.logger.Warn("register_peer rejected: already connected, abandoned peer swept",
			"connection_id", string(connID), "endpoint", endpoint, "swept", len(abandoned))
		return &PeerRejectedError{Reason: ReasonAlreadyConnected}
	}

	if len(g.peers) >= g.maxPeers {
		g.mu.Unlock()
		g.metrics.PeerRejectionsTotal.WithLabelValues(string(ReasonMaxReached)).Inc()
		g.logger.Warn("register_peer rejected: max peers reached",
			"connection_id", string(connID), "endpoint", endpoint, "max_peers", g.maxPeers)
		return &PeerRejectedError{Reason: ReasonMaxReached}
	}

	g.peers[connID] = endpoint
	g.setStatus(connID, connstate.Peer)
	peerCount := len(g.peers)
	pk, pkKnown := g.transport.ConnectionIDToPublicKey(connID)
	g.mu.Unlock()

	g.metrics.PeerCount.Set(float64(peerCount))
	if pkKnown {
		g.notifier.NotifyPeerConnected(pk)
	}
	g.logger.Info("peer registered", "connection_id", string(connID), "endpoint", endpoint)
	return nil
}

// UnregisterPeer removes an existing peer, notifying consensus of the
// disconnect after the gossip lock is released. A no-op (logged) if connID
// is not a peer.
func (g *Gossip) UnregisterPeer(connID transport.ConnectionID) {
	g.cmLock.Lock()
	defer g.cmLock.Unlock()

	g.mu.Lock()
	endpoint, ok := g.peers[connID]
	if !ok {
		g.mu.Unlock()
		g.logger.Info("unregister_peer: no-op, not a peer", "connection_id", string(connID))
		return
	}
	pk, pkKnown := g.transport.ConnectionIDToPublicKey(connID)
	delete(g.peers, connID)
	g.setStatus(connID, connstate.Temp)
	peerCount := len(g.peers)
	g.mu.Unlock()

	g.metrics.PeerCount.Set(float64(peerCount))
	if pkKnown {
		g.notifier.NotifyPeerDisconnected(pk)
	}
	g.logger.Info("peer unregistered", "connection_id", string(connID), "endpoint", endpoint)
}

// Send forwards payload to connID via Transport. A reported
// invalid-connection error drops connID from the peer map without a
// consensus notification; Transport has already reported the loss through
// its own channels.
func (g *Gossip) Send(ctx context.Context, msgType wire.MessageType, payload []byte, connID transport.ConnectionID, oneWay bool, cb transport.SendCallback) error {
	err := g.transport.Send(ctx, msgType, payload, connID, oneWay, cb)
	if errors.Is(err, transport.ErrInvalidConnection) {
		g.mu.Lock()
		delete(g.peers, connID)
		g.mu.Unlock()
	}
	return err
}

// GetPeers returns an immutable snapshot of the peer map.
func (g *Gossip) GetPeers() map[transport.ConnectionID]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	snapshot := make(map[transport.ConnectionID]string, len(g.peers))
	for cid, ep := range g.peers {
		snapshot[cid] = ep
	}
	return snapshot
}

// PeerCount returns the current peer map size.
func (g *Gossip) PeerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.peers)
}

// Start launches the bound connection manager, if one has been wired in
// via BindConnectionManager.
func (g *Gossip) Start(ctx context.Context) error {
	g.mu.Lock()
	cm := g.cm
	g.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Start(ctx)
}

// Stop sends a best-effort PeerUnregister to every peer, then stops the
// bound ConnectionManager.
func (g *Gossip) Stop(ctx context.Context) error {
	payload, err := json.Marshal(wire.PeerUnregisterRequest{})
	if err != nil {
		g.logger.Error("stop: failed to marshal PeerUnregister", "error", err)
	} else {
		for cid := range g.GetPeers() {
			_ = g.Send(ctx, wire.GossipUnregister, payload, cid, true, nil)
		}
	}

	g.mu.Lock()
	cm := g.cm
	g.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Stop()
}
