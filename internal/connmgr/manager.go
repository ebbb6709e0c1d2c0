package connmgr

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"sync"
	"time"

	"cosmossdk.io/log"
	"golang.org/x/sync/singleflight"

	"github.com/paw-chain/gossip-overlay/internal/connstate"
	"github.com/paw-chain/gossip-overlay/internal/gossip"
	"github.com/paw-chain/gossip-overlay/internal/metrics"
	"github.com/paw-chain/gossip-overlay/internal/transport"
	"github.com/paw-chain/gossip-overlay/internal/wire"
)

// Manager runs the connection reconciliation loop and owns the temp
// connection, connection status, candidate, and static-peer state.
//
// mu guards that state. It is handed to Gossip via
// BindConnectionManagerLock so RegisterPeer/UnregisterPeer acquire it
// before the gossip lock; when both locks are needed, mu always comes
// first.
type Manager struct {
	logger     log.Logger
	cfg        Config
	transport  transport.Transport
	gossip     *gossip.Gossip
	metrics    *metrics.Collectors
	healthSink HealthSink
	chainHead  ChainHeadFunc
	randReader io.Reader

	mu       sync.Mutex // outer lock; always taken before the gossip lock
	temps    map[transport.ConnectionID]*EndpointInfo
	statuses map[transport.ConnectionID]connstate.Status

	candidates   []string
	candidateSet map[string]struct{}

	staticPeers map[string]*StaticPeerInfo // nil unless PeeringStatic

	dialGroup singleflight.Group

	healthCountdown int
	headReceived    bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Manager and wires it into g as g's connection manager,
// manager lock, and connection-status setter. Call Start to launch the
// reconciliation goroutine and the Transport event consumer.
func New(logger log.Logger, tp transport.Transport, g *gossip.Gossip, cfg Config, healthSink HealthSink, chainHead ChainHeadFunc) *Manager {
	if cfg.MinPeers <= 0 {
		cfg.MinPeers = 3
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 10
	}
	if cfg.CheckFrequency <= 0 {
		cfg.CheckFrequency = 1 * time.Second
	}
	if healthSink == nil {
		healthSink = NewLoggingHealthSink(logger)
	}

	m := &Manager{
		logger:          logger,
		cfg:             cfg,
		transport:       tp,
		gossip:          g,
		metrics:         metrics.New(),
		healthSink:      healthSink,
		chainHead:       chainHead,
		randReader:      rand.Reader,
		temps:           make(map[transport.ConnectionID]*EndpointInfo),
		statuses:        make(map[transport.ConnectionID]connstate.Status),
		candidateSet:    make(map[string]struct{}),
		healthCountdown: TicksBeforeReboot,
		stopCh:          make(chan struct{}),
	}
	if cfg.PeeringMode == PeeringStatic {
		m.staticPeers = make(map[string]*StaticPeerInfo, len(cfg.InitialPeerEndpoints))
		for _, ep := range cfg.InitialPeerEndpoints {
			m.staticPeers[ep] = &StaticPeerInfo{RetryThreshold: InitialRetryFrequency / 2}
		}
	}

	g.BindConnectionManagerLock(&m.mu)
	g.BindStatusSetter(m)
	g.BindConnectionManager(m)
	return m
}

// SetStatus implements connstate.Setter. It is only ever invoked by Gossip
// from within RegisterPeer/UnregisterPeer, both of which already hold m.mu
// at the point of the call, so it must not lock again.
func (m *Manager) SetStatus(connID transport.ConnectionID, status connstate.Status) {
	m.statuses[connID] = status
}

// Start launches the reconciliation loop and the Transport event consumer.
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(2)
	go m.eventLoop(ctx)
	go m.reconcileLoop(ctx)
	m.logger.Info("connection manager started", "peering_mode", string(m.cfg.PeeringMode),
		"min_peers", m.cfg.MinPeers, "max_peers", m.cfg.MaxPeers)
	return nil
}

// Stop marks the manager stopped and best-effort disconnects every
// connection not already closed. Idempotent.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	for connID, status := range m.statuses {
		if status == connstate.Closed {
			continue
		}
		_ = m.transport.Send(context.Background(), wire.NetworkDisconnect, disconnectPayload(), connID, true, nil)
		_ = m.transport.RemoveConnection(connID)
		m.statuses[connID] = connstate.Closed
	}
	m.logger.Info("connection manager stopped")
	return nil
}

func disconnectPayload() []byte {
	payload, _ := json.Marshal(wire.DisconnectRequest{})
	return payload
}

func (m *Manager) eventLoop(ctx context.Context) {
	defer m.wg.Done()
	events := m.transport.Events()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.connectSuccess(ctx, ev.ConnectionID)
		}
	}
}

func (m *Manager) reconcileLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		m.tick(ctx)

		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.CheckFrequency):
		}
	}
}

// tick runs one reconciliation loop body. Any panic recovered here is
// logged and the loop continues; only Stop or cancellation of the loop's
// context terminates the reconciliation goroutine.
func (m *Manager) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("reconciliation loop body panicked; continuing", "recovered", r)
		}
	}()

	m.stepHealthCountdown()

	switch m.cfg.PeeringMode {
	case PeeringStatic:
		m.retryStaticPeering(ctx)
	default:
		m.retryDynamicPeering(ctx)
	}

	m.queryChainHeadIfNeeded(ctx)
}

// stepHealthCountdown burns down the startup grace period, one tick per
// reconciliation cycle. The countdown never resets: once it is exhausted,
// a peer count below minimum escalates on every subsequent tick.
func (m *Manager) stepHealthCountdown() {
	m.mu.Lock()
	if m.healthCountdown > 0 {
		m.healthCountdown--
	}
	countdown := m.healthCountdown
	m.mu.Unlock()

	m.metrics.HealthCountdown.Set(float64(countdown))

	if countdown > 0 {
		return
	}

	peerCount := m.gossip.PeerCount()
	if peerCount < m.cfg.MinPeers {
		m.healthSink.Unhealthy(peerCount, m.cfg.MinPeers)
	}
}

// queryChainHeadIfNeeded asks every current peer for the head block until
// the node has observed at least one chain head. The latch flips the first
// time the chain-head func reports a head and never resets.
func (m *Manager) queryChainHeadIfNeeded(ctx context.Context) {
	m.mu.Lock()
	received := m.headReceived
	m.mu.Unlock()
	if received {
		return
	}

	if m.chainHead != nil {
		if _, ok := m.chainHead(); ok {
			m.mu.Lock()
			m.headReceived = true
			m.mu.Unlock()
			return
		}
	}

	payload, err := json.Marshal(wire.BlockRequest{BlockID: wire.HeadBlockID, Nonce: wire.NewNonce()})
	if err != nil {
		return
	}
	for connID := range m.gossip.GetPeers() {
		_ = m.gossip.Send(ctx, wire.GossipBlockRequest, payload, connID, false, nil)
	}
}
