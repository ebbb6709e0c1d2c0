// Package wire defines the message envelopes exchanged between gossip
// peers. Payload bodies (encoded blocks, batches, consensus frames) are
// opaque byte strings with a type tag; this package only knows the
// envelope shapes.
package wire

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// MessageType tags a message on the wire at the validator layer.
type MessageType string

const (
	GossipMessage                     MessageType = "gossip/message"
	GossipBlockRequest                MessageType = "gossip/block_request"
	GossipBatchByBatchIDRequest       MessageType = "gossip/batch_by_batch_id_request"
	GossipBatchByTransactionIDRequest MessageType = "gossip/batch_by_transaction_id_request"
	GossipRegister                    MessageType = "gossip/register"
	GossipUnregister                  MessageType = "gossip/unregister"
	GossipGetPeersRequest             MessageType = "gossip/get_peers_request"
	GossipGetPeersResponse            MessageType = "gossip/get_peers_response"
	NetworkDisconnect                 MessageType = "network/disconnect"
	NetworkAcknowledgementType        MessageType = "network/acknowledgement"
)

// ContentType distinguishes the payload carried by a GossipMessage envelope.
type ContentType string

const (
	ContentBlock     ContentType = "BLOCK"
	ContentBatch     ContentType = "BATCH"
	ContentConsensus ContentType = "CONSENSUS"
)

// HeadBlockID is the sentinel block_id used to query a peer's chain head.
const HeadBlockID = "HEAD"

// NetworkProtocolVersion is the only protocol version ever sent in a
// PeerRegisterRequest.
const NetworkProtocolVersion = 1

// GossipMessageEnvelope wraps an application payload for broadcast/unicast.
type GossipMessageEnvelope struct {
	ContentType ContentType `json:"content_type"`
	Content     []byte      `json:"content"`
	TimeToLive  uint32      `json:"time_to_live"`
}

// BlockRequest asks a peer for a block, or its chain head when BlockID is
// HeadBlockID.
type BlockRequest struct {
	BlockID    string `json:"block_id"`
	Nonce      string `json:"nonce"`
	TimeToLive uint32 `json:"time_to_live"`
}

// BatchByBatchIDRequest asks a peer for a batch by its id.
type BatchByBatchIDRequest struct {
	ID         string `json:"id"`
	Nonce      string `json:"nonce"`
	TimeToLive uint32 `json:"time_to_live"`
}

// BatchByTransactionIDRequest asks a peer for batches containing any of the
// given transaction ids.
type BatchByTransactionIDRequest struct {
	IDs        []string `json:"ids"`
	Nonce      string   `json:"nonce"`
	TimeToLive uint32   `json:"time_to_live"`
}

// PeerRegisterRequest is sent on a fresh PEERING-intent connection.
type PeerRegisterRequest struct {
	Endpoint        string `json:"endpoint"`
	ProtocolVersion int    `json:"protocol_version"`
}

// PeerUnregisterRequest announces voluntary departure from the peer set.
type PeerUnregisterRequest struct{}

// GetPeersRequest asks a peer to share its known peer endpoints.
type GetPeersRequest struct{}

// DisconnectRequest announces that the sender is about to drop the
// connection.
type DisconnectRequest struct{}

// GetPeersResponse carries a peer's known endpoints.
type GetPeersResponse struct {
	PeerEndpoints []string `json:"peer_endpoints"`
}

// AckStatus is the result carried by a NetworkAcknowledgement.
type AckStatus string

const (
	AckOK    AckStatus = "OK"
	AckError AckStatus = "ERROR"
)

// NetworkAcknowledgement replies to a PeerRegisterRequest.
type NetworkAcknowledgement struct {
	Status AckStatus `json:"status"`
}

// NewNonce returns a 16-byte random nonce rendered as hex, used to
// differentiate otherwise identical request messages.
func NewNonce() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
