// Package connmgr implements the connection reconciliation worker: a
// dedicated goroutine that keeps the peer count within
// [min_peers, max_peers] under either a static or dynamic peering policy,
// dials new endpoints with capped exponential backoff, and tracks
// connections that are authorized but not yet promoted to peer.
package connmgr

import (
	"time"

	"cosmossdk.io/log"
)

const (
	// InitialRetryFrequency is the base redial interval. Must be even:
	// fresh retry thresholds start at half of it before doubling.
	InitialRetryFrequency = 10 * time.Second
	// MaximumRetryFrequency caps dynamic-mode temp-connection backoff.
	MaximumRetryFrequency = 300 * time.Second
	// MaximumStaticRetryFrequency caps static-mode backoff.
	MaximumStaticRetryFrequency = 3600 * time.Second
	// MaximumStaticRetries is how many attempts at the backoff ceiling a
	// static endpoint gets before it is declared permanently unreachable.
	MaximumStaticRetries = 24
	// TicksBeforeReboot is the startup grace period, in reconciliation
	// ticks, before a peer count below minimum begins signaling the
	// health sink.
	TicksBeforeReboot = 300
	// ResponseWait is how long a dynamic cycle waits for peers-of-peers
	// responses to land before picking a dial candidate.
	ResponseWait = 5 * time.Second
)

// PeeringMode selects how ConnectionManager acquires peers.
type PeeringMode string

const (
	PeeringStatic  PeeringMode = "static"
	PeeringDynamic PeeringMode = "dynamic"
)

// Intent records why a temp connection was dialed: to become a peer, or
// only to learn the remote side's peer list.
type Intent string

const (
	IntentPeering  Intent = "PEERING"
	IntentTopology Intent = "TOPOLOGY"
)

// EndpointInfo is a temp-connection record, per connection_id.
type EndpointInfo struct {
	Endpoint       string
	Intent         Intent
	DialedAt       time.Time
	RetryThreshold time.Duration
}

// StaticPeerInfo tracks one statically-configured endpoint for the
// lifetime of the validator, or until it is declared permanently
// unreachable.
type StaticPeerInfo struct {
	ConnectionID   string // empty when no dial is outstanding
	LastAttempt    time.Time
	RetryThreshold time.Duration
	AttemptCount   int
}

// Config carries the manager's construction-time parameters.
type Config struct {
	PeeringMode          PeeringMode
	SelfEndpoint         string
	InitialPeerEndpoints []string // static mode
	InitialSeedEndpoints []string // dynamic mode
	MinPeers             int
	MaxPeers             int
	CheckFrequency       time.Duration
}

// DefaultConfig returns the standard peering defaults.
func DefaultConfig() Config {
	return Config{
		PeeringMode:    PeeringDynamic,
		MinPeers:       3,
		MaxPeers:       10,
		CheckFrequency: 1 * time.Second,
	}
}

// HealthSink receives the unhealthy-peer-count escalation signal. The
// reconciliation loop only reports that a restart is warranted; the sink
// decides how one is carried out.
type HealthSink interface {
	Unhealthy(peerCount, minPeers int)
}

// LoggingHealthSink is a reference HealthSink that logs the escalation,
// suitable until a real supervisor hook is wired in.
type LoggingHealthSink struct {
	logger log.Logger
}

// NewLoggingHealthSink builds a LoggingHealthSink.
func NewLoggingHealthSink(logger log.Logger) *LoggingHealthSink {
	return &LoggingHealthSink{logger: logger}
}

func (h *LoggingHealthSink) Unhealthy(peerCount, minPeers int) {
	h.logger.Error("health countdown exhausted with peer count below minimum; escalating for external restart",
		"peer_count", peerCount, "min_peers", minPeers)
}

// ChainHeadFunc resolves the validator's current chain head, or ("", false)
// if none has been observed yet.
type ChainHeadFunc func() (blockID string, ok bool)
