package connmgr

import (
	"context"
	"encoding/json"

	"github.com/paw-chain/gossip-overlay/internal/connstate"
	"github.com/paw-chain/gossip-overlay/internal/gossip"
	"github.com/paw-chain/gossip-overlay/internal/transport"
	"github.com/paw-chain/gossip-overlay/internal/wire"
)

// connectSuccess handles Transport's connection-authorized event. The
// temp record is consumed regardless of branch: a peering-intent
// connection proceeds to the peer-register exchange, a topology-intent one
// to a peer-list query.
func (m *Manager) connectSuccess(ctx context.Context, connID transport.ConnectionID) {
	m.mu.Lock()
	info, ok := m.temps[connID]
	if ok {
		delete(m.temps, connID)
		m.metrics.TempConnections.Set(float64(len(m.temps)))
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("connect_success for unknown connection; no action taken", "connection_id", string(connID))
		return
	}

	m.mu.Lock()
	m.statuses[connID] = connstate.Temp
	m.mu.Unlock()

	switch info.Intent {
	case IntentPeering:
		payload, err := json.Marshal(wire.PeerRegisterRequest{
			Endpoint:        m.cfg.SelfEndpoint,
			ProtocolVersion: wire.NetworkProtocolVersion,
		})
		if err != nil {
			m.logger.Error("failed to marshal PeerRegister", "error", err)
			return
		}
		endpoint := info.Endpoint
		cb := func(_ wire.MessageType, reply []byte, sendErr error) {
			m.peerCallback(ctx, connID, endpoint, reply, sendErr)
		}
		if err := m.gossip.Send(ctx, wire.GossipRegister, payload, connID, false, cb); err != nil {
			m.logger.Warn("failed to send PeerRegister", "connection_id", string(connID), "error", err)
		}

	case IntentTopology:
		payload, err := json.Marshal(wire.GetPeersRequest{})
		if err != nil {
			m.logger.Error("failed to marshal GetPeersRequest", "error", err)
			return
		}
		// Reply callback is a no-op. The response arrives as an unsolicited
		// GetPeersResponse routed to AddCandidatePeerEndpoints, never via
		// this callback; closing here would race the response's arrival.
		if err := m.gossip.Send(ctx, wire.GossipGetPeersRequest, payload, connID, false, func(wire.MessageType, []byte, error) {}); err != nil {
			m.logger.Warn("failed to send GetPeersRequest", "connection_id", string(connID), "error", err)
		}
	}
}

// peerCallback handles the acknowledgement to a PeerRegisterRequest.
func (m *Manager) peerCallback(ctx context.Context, connID transport.ConnectionID, endpoint string, reply []byte, sendErr error) {
	if sendErr != nil {
		m.closeTempConnection(ctx, connID)
		return
	}

	var ack wire.NetworkAcknowledgement
	if err := json.Unmarshal(reply, &ack); err != nil {
		m.closeTempConnection(ctx, connID)
		return
	}

	switch ack.Status {
	case wire.AckOK:
		err := m.gossip.RegisterPeer(connID, endpoint)
		if err == nil {
			payload, merr := json.Marshal(wire.BlockRequest{BlockID: wire.HeadBlockID, Nonce: wire.NewNonce()})
			if merr == nil {
				_ = m.gossip.Send(ctx, wire.GossipBlockRequest, payload, connID, false, nil)
			}
			return
		}
		if _, rejected := gossip.IsPeerRejected(err); rejected {
			m.closeTempConnection(ctx, connID)
			return
		}
		m.logger.Error("register_peer failed unexpectedly", "connection_id", string(connID), "error", err)
		m.closeTempConnection(ctx, connID)

	default:
		// Unrecognized ack status is treated like ERROR rather than
		// leaving the temp connection dangling.
		m.closeTempConnection(ctx, connID)
	}
}

// closeTempConnection sends a disconnect and removes the connection, but
// only if its status is still TEMP. A registered peer is never closed this
// way; peer teardown goes through UnregisterPeer.
func (m *Manager) closeTempConnection(ctx context.Context, connID transport.ConnectionID) {
	m.mu.Lock()
	status, ok := m.statuses[connID]
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("close_temp_connection: no status entry", "connection_id", string(connID))
		return
	}

	switch status {
	case connstate.Peer:
		m.logger.Warn("refusing to close a PEER connection as temporary; use unregister_peer",
			"connection_id", string(connID))
		return

	case connstate.Closed:
		m.logger.Debug("close_temp_connection: already closed", "connection_id", string(connID))
		return

	case connstate.Temp:
		_ = m.transport.Send(ctx, wire.NetworkDisconnect, disconnectPayload(), connID, true, nil)
		_ = m.transport.RemoveConnection(connID)

		m.mu.Lock()
		delete(m.statuses, connID)
		delete(m.temps, connID)
		m.metrics.TempConnections.Set(float64(len(m.temps)))
		m.mu.Unlock()
	}
}
