package connmgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/paw-chain/gossip-overlay/internal/connstate"
	"github.com/paw-chain/gossip-overlay/internal/transport"
	"github.com/paw-chain/gossip-overlay/internal/wire"
)

// retryDynamicPeering runs one dynamic-peering cycle: prune stale peers,
// and if the count is below minimum, redial overdue temp connections, ask
// peers and seeds for candidates, then dial one candidate at random.
func (m *Manager) retryDynamicPeering(ctx context.Context) {
	m.refreshPeerList(ctx)

	if m.gossip.PeerCount() >= m.cfg.MinPeers {
		return
	}

	m.clearCandidates()
	m.refreshConnectionStates()
	m.checkTempConnections(ctx)
	m.getPeersOfPeers(ctx)
	m.getPeersOfEndpoints(ctx)

	select {
	case <-time.After(ResponseWait):
	case <-m.stopCh:
		return
	}

	m.pickAndDialCandidate(ctx)
}

// refreshPeerList unregisters any peer whose Transport handshake is no
// longer complete.
func (m *Manager) refreshPeerList(_ context.Context) {
	for connID := range m.gossip.GetPeers() {
		if m.transport.IsConnectionHandshakeComplete(connID) {
			continue
		}
		m.gossip.UnregisterPeer(connID)
		m.mu.Lock()
		delete(m.statuses, connID)
		m.mu.Unlock()
	}
}

// refreshConnectionStates drops every connection-status entry whose
// underlying connection Transport no longer has.
func (m *Manager) refreshConnectionStates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for connID := range m.statuses {
		if !m.transport.HasConnection(connID) {
			delete(m.statuses, connID)
			delete(m.temps, connID)
		}
	}
}

type pendingRedial struct {
	oldConnID    transport.ConnectionID
	endpoint     string
	intent       Intent
	newThreshold time.Duration
}

// checkTempConnections redials any temp connection whose handshake is
// still incomplete past its retry threshold, doubling the threshold. A
// threshold already at MaximumRetryFrequency wraps back to
// InitialRetryFrequency/2 before doubling.
func (m *Manager) checkTempConnections(ctx context.Context) {
	m.mu.Lock()
	now := time.Now()
	var redials []pendingRedial
	for connID, info := range m.temps {
		if m.transport.IsConnectionHandshakeComplete(connID) {
			continue
		}
		if now.Sub(info.DialedAt) <= info.RetryThreshold {
			continue
		}
		threshold := info.RetryThreshold
		if threshold == MaximumRetryFrequency {
			threshold = InitialRetryFrequency / 2
		}
		threshold *= 2
		if threshold > MaximumRetryFrequency {
			threshold = MaximumRetryFrequency
		}
		redials = append(redials, pendingRedial{connID, info.Endpoint, info.Intent, threshold})
		delete(m.temps, connID)
		delete(m.statuses, connID)
	}
	m.mu.Unlock()

	for _, r := range redials {
		_ = m.transport.RemoveConnection(r.oldConnID)
		if _, err := m.dial(ctx, r.endpoint, r.intent, r.newThreshold); err != nil {
			m.logger.Warn("redial failed", "endpoint", r.endpoint, "error", err)
		}
	}
}

// getPeersOfPeers asks every current peer for its known peers, best-effort.
func (m *Manager) getPeersOfPeers(ctx context.Context) {
	payload, err := json.Marshal(wire.GetPeersRequest{})
	if err != nil {
		return
	}
	for connID := range m.gossip.GetPeers() {
		if err := m.gossip.Send(ctx, wire.GossipGetPeersRequest, payload, connID, true, nil); err != nil {
			m.logger.Debug("get_peers request failed", "connection_id", string(connID), "error", err)
		}
	}
}

// getPeersOfEndpoints dials every configured seed endpoint that is neither
// self nor already connected, with topology intent.
func (m *Manager) getPeersOfEndpoints(ctx context.Context) {
	peered := m.peeredEndpointSet()
	for _, ep := range m.cfg.InitialSeedEndpoints {
		if ep == "" || ep == m.cfg.SelfEndpoint {
			continue
		}
		if _, ok := peered[ep]; ok {
			continue
		}
		if _, err := m.transport.GetConnectionIDByEndpoint(ep); err == nil {
			continue // a connection (peered or pending) already exists
		}
		if _, err := m.dial(ctx, ep, IntentTopology, InitialRetryFrequency/2); err != nil {
			m.logger.Warn("seed dial failed", "endpoint", ep, "error", err)
		}
	}
}

// AddCandidatePeerEndpoints merges endpoints into the dynamic-mode
// candidate list, suppressing duplicates. It is the landing point for
// GetPeersResponse messages, delivered by whatever inbound dispatcher
// demultiplexes unsolicited Transport traffic.
func (m *Manager) AddCandidatePeerEndpoints(endpoints []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ep := range endpoints {
		if ep == "" || ep == m.cfg.SelfEndpoint {
			continue
		}
		if _, ok := m.candidateSet[ep]; ok {
			continue
		}
		m.candidateSet[ep] = struct{}{}
		m.candidates = append(m.candidates, ep)
	}
}

func (m *Manager) clearCandidates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = nil
	m.candidateSet = make(map[string]struct{})
}

func (m *Manager) peeredEndpointSet() map[string]struct{} {
	peers := m.gossip.GetPeers()
	set := make(map[string]struct{}, len(peers))
	for _, ep := range peers {
		set[ep] = struct{}{}
	}
	return set
}

// pickAndDialCandidate filters peered endpoints and self out of the
// candidate list and, if anything remains, dials one uniformly at random
// with peering intent.
func (m *Manager) pickAndDialCandidate(ctx context.Context) {
	peered := m.peeredEndpointSet()

	m.mu.Lock()
	var unpeered []string
	for _, ep := range m.candidates {
		if ep == m.cfg.SelfEndpoint {
			continue
		}
		if _, ok := peered[ep]; ok {
			continue
		}
		unpeered = append(unpeered, ep)
	}
	m.mu.Unlock()

	if len(unpeered) == 0 {
		return
	}

	chosen, err := pickRandom(m.randReader, unpeered)
	if err != nil {
		m.logger.Warn("candidate selection failed", "error", err)
		return
	}
	if _, err := m.dial(ctx, chosen, IntentPeering, InitialRetryFrequency/2); err != nil {
		m.logger.Warn("candidate dial failed", "endpoint", chosen, "error", err)
	}
}

// dial performs the at-most-one-concurrent-dial-per-endpoint Transport call
// via singleflight, then records a fresh temp-connection entry.
func (m *Manager) dial(ctx context.Context, endpoint string, intent Intent, retryThreshold time.Duration) (transport.ConnectionID, error) {
	v, err, _ := m.dialGroup.Do(endpoint, func() (interface{}, error) {
		return m.transport.AddOutboundConnection(ctx, endpoint)
	})
	if err != nil {
		m.metrics.DialsTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	connID := v.(transport.ConnectionID)
	m.metrics.DialsTotal.WithLabelValues("success").Inc()

	m.mu.Lock()
	m.temps[connID] = &EndpointInfo{Endpoint: endpoint, Intent: intent, DialedAt: time.Now(), RetryThreshold: retryThreshold}
	m.statuses[connID] = connstate.Temp
	m.metrics.TempConnections.Set(float64(len(m.temps)))
	m.mu.Unlock()

	return connID, nil
}
