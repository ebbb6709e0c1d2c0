package gossip

import (
	"context"
	"encoding/json"

	"github.com/paw-chain/gossip-overlay/internal/settings"
	"github.com/paw-chain/gossip-overlay/internal/transport"
	"github.com/paw-chain/gossip-overlay/internal/wire"
)

// NoExclusions is the explicit "no excludes" sentinel for Broadcast.
var NoExclusions = map[transport.ConnectionID]struct{}{}

func (g *Gossip) resolveTTL() uint32 {
	return settings.TimeToLive(g.settings, g.stateRoot)
}

// Broadcast fans payload out one-way to every current peer not present in
// exclude. Per-peer send errors are logged and swallowed; they never abort
// the broadcast. Peers registered after the snapshot is taken do not
// receive the frame.
func (g *Gossip) Broadcast(ctx context.Context, payload []byte, msgType wire.MessageType, exclude map[transport.ConnectionID]struct{}) {
	targets := g.GetPeers()
	for cid := range exclude {
		delete(targets, cid)
	}
	for cid := range targets {
		if err := g.Send(ctx, msgType, payload, cid, true, nil); err != nil {
			g.logger.Warn("broadcast send failed", "connection_id", string(cid), "msg_type", string(msgType), "error", err)
		}
	}
}

func (g *Gossip) broadcastEnvelope(ctx context.Context, contentType wire.ContentType, content []byte, exclude map[transport.ConnectionID]struct{}) error {
	envelope := wire.GossipMessageEnvelope{
		ContentType: contentType,
		Content:     content,
		TimeToLive:  g.resolveTTL(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	g.Broadcast(ctx, payload, wire.GossipMessage, exclude)
	g.metrics.BroadcastsTotal.WithLabelValues(string(contentType)).Inc()
	return nil
}

// BroadcastBlock fans out an encoded block to every peer not in exclude.
func (g *Gossip) BroadcastBlock(ctx context.Context, blockBytes []byte, exclude map[transport.ConnectionID]struct{}) error {
	return g.broadcastEnvelope(ctx, wire.ContentBlock, blockBytes, exclude)
}

// BroadcastBatch fans out an encoded batch to every peer not in exclude.
func (g *Gossip) BroadcastBatch(ctx context.Context, batchBytes []byte, exclude map[transport.ConnectionID]struct{}) error {
	return g.broadcastEnvelope(ctx, wire.ContentBatch, batchBytes, exclude)
}

// BroadcastConsensusMessage fans out an opaque consensus frame to every peer
// not in exclude.
func (g *Gossip) BroadcastConsensusMessage(ctx context.Context, frame []byte, exclude map[transport.ConnectionID]struct{}) error {
	return g.broadcastEnvelope(ctx, wire.ContentConsensus, frame, exclude)
}

// BroadcastBlockRequest asks every peer not in exclude for blockID (use
// wire.HeadBlockID to query chain heads).
func (g *Gossip) BroadcastBlockRequest(ctx context.Context, blockID string, exclude map[transport.ConnectionID]struct{}) error {
	req := wire.BlockRequest{BlockID: blockID, Nonce: wire.NewNonce(), TimeToLive: g.resolveTTL()}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	g.Broadcast(ctx, payload, wire.GossipBlockRequest, exclude)
	return nil
}

// BroadcastBatchByBatchIDRequest asks every peer not in exclude for a batch
// by its id.
func (g *Gossip) BroadcastBatchByBatchIDRequest(ctx context.Context, batchID string, exclude map[transport.ConnectionID]struct{}) error {
	req := wire.BatchByBatchIDRequest{ID: batchID, Nonce: wire.NewNonce(), TimeToLive: g.resolveTTL()}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	g.Broadcast(ctx, payload, wire.GossipBatchByBatchIDRequest, exclude)
	return nil
}

// BroadcastBatchByTransactionIDRequest asks every peer not in exclude for
// batches containing any of ids.
func (g *Gossip) BroadcastBatchByTransactionIDRequest(ctx context.Context, ids []string, exclude map[transport.ConnectionID]struct{}) error {
	req := wire.BatchByTransactionIDRequest{IDs: ids, Nonce: wire.NewNonce(), TimeToLive: g.resolveTTL()}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	g.Broadcast(ctx, payload, wire.GossipBatchByTransactionIDRequest, exclude)
	return nil
}

// SendPeers unicasts a peers-response containing every current peer
// endpoint plus this validator's own endpoint (if configured). Sent one-way
// because the destination may be a temp connection about to close.
func (g *Gossip) SendPeers(ctx context.Context, connID transport.ConnectionID) error {
	peers := g.GetPeers()
	endpoints := make([]string, 0, len(peers)+1)
	for _, ep := range peers {
		endpoints = append(endpoints, ep)
	}
	if g.selfEndpoint != "" {
		endpoints = append(endpoints, g.selfEndpoint)
	}
	payload, err := json.Marshal(wire.GetPeersResponse{PeerEndpoints: endpoints})
	if err != nil {
		return err
	}
	return g.Send(ctx, wire.GossipGetPeersResponse, payload, connID, true, nil)
}
