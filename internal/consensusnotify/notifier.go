// Package consensusnotify defines the consensus subscriber that Gossip
// notifies of peer up/down events. Notifiers run arbitrary callback code,
// so Gossip invokes them strictly outside its own lock.
package consensusnotify

import "cosmossdk.io/log"

// Notifier receives peer connectivity events.
type Notifier interface {
	NotifyPeerConnected(publicKey string)
	NotifyPeerDisconnected(publicKey string)
}

// LoggingNotifier is a reference Notifier that logs events, suitable for the
// CLI entrypoint and for components with no real consensus engine attached.
type LoggingNotifier struct {
	logger log.Logger
}

// NewLoggingNotifier builds a LoggingNotifier.
func NewLoggingNotifier(logger log.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

func (n *LoggingNotifier) NotifyPeerConnected(publicKey string) {
	n.logger.Info("consensus notified: peer connected", "public_key", publicKey)
}

func (n *LoggingNotifier) NotifyPeerDisconnected(publicKey string) {
	n.logger.Info("consensus notified: peer disconnected", "public_key", publicKey)
}
