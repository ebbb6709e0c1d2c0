package connmgr

import (
	"context"
	"time"

	"github.com/paw-chain/gossip-overlay/internal/transport"
)

type staticDialPlan struct {
	endpoint            string
	priorConnID         transport.ConnectionID
	handshakeIncomplete bool
}

// retryStaticPeering runs one static-peering cycle: prune dead
// connections and stale peers, reset records for endpoints that are still
// peered, redial overdue ones with doubled thresholds, and give up
// permanently on endpoints that have exhausted their retries at the
// backoff ceiling.
func (m *Manager) retryStaticPeering(ctx context.Context) {
	m.refreshConnectionStates()
	m.refreshPeerList(ctx)

	peered := m.peeredEndpointSet()

	m.mu.Lock()
	now := time.Now()
	var toRemove []string
	var toDial []staticDialPlan

	for ep, info := range m.staticPeers {
		if _, ok := peered[ep]; ok {
			info.LastAttempt = time.Time{}
			info.RetryThreshold = InitialRetryFrequency / 2
			info.AttemptCount = 0
			continue
		}

		if !info.LastAttempt.IsZero() && now.Sub(info.LastAttempt) <= info.RetryThreshold {
			continue
		}

		if info.RetryThreshold == MaximumStaticRetryFrequency && info.AttemptCount >= MaximumStaticRetries {
			toRemove = append(toRemove, ep)
			continue
		}

		atCeiling := info.RetryThreshold == MaximumStaticRetryFrequency
		info.LastAttempt = now
		info.RetryThreshold *= 2
		if info.RetryThreshold > MaximumStaticRetryFrequency {
			info.RetryThreshold = MaximumStaticRetryFrequency
		}
		if atCeiling {
			info.AttemptCount++
		}

		priorConnID := transport.ConnectionID(info.ConnectionID)
		var handshakeIncomplete, handshakeComplete bool
		if priorConnID != "" {
			if m.transport.IsConnectionHandshakeComplete(priorConnID) {
				handshakeComplete = true
			} else {
				handshakeIncomplete = true
			}
		}
		if handshakeIncomplete {
			delete(m.temps, priorConnID)
			delete(m.statuses, priorConnID)
			info.ConnectionID = ""
		}
		if !handshakeComplete {
			toDial = append(toDial, staticDialPlan{endpoint: ep, priorConnID: priorConnID, handshakeIncomplete: handshakeIncomplete})
		}
	}
	m.mu.Unlock()

	for _, ep := range toRemove {
		m.mu.Lock()
		delete(m.staticPeers, ep)
		m.mu.Unlock()
		m.logger.Info("static endpoint permanently unreachable, removed", "endpoint", ep)
	}

	for _, plan := range toDial {
		if plan.handshakeIncomplete {
			_ = m.transport.RemoveConnection(plan.priorConnID)
		}
		connID, err := m.dial(ctx, plan.endpoint, IntentPeering, InitialRetryFrequency)
		if err != nil {
			m.logger.Warn("static dial failed", "endpoint", plan.endpoint, "error", err)
			continue
		}
		m.mu.Lock()
		if sp, ok := m.staticPeers[plan.endpoint]; ok {
			sp.ConnectionID = string(connID)
		}
		m.mu.Unlock()
	}
}
