package notify

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/poanetwork/tokenbridge-relayer/logging"
)

type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindFailed    Kind = "failed"
	KindPaused    Kind = "paused"
	KindResumed   Kind = "resumed"
)

// Notification reports an outcome that operators or downstream systems may act on.
type Notification struct {
	Kind     Kind         `json:"kind"`
	BridgeID string       `json:"bridge_id"`
	EventID  string       `json:"event_id,omitempty"`
	TxHash   *common.Hash `json:"tx_hash,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Time     time.Time    `json:"time"`
}

// Key groups notifications of the same event, or of the same bridge for pipeline level ones.
func (n *Notification) Key() string {
	if n.EventID != "" {
		return n.EventID
	}
	return n.BridgeID
}

type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
	Close() error
}

type logNotifier struct {
	logger logging.Logger
}

// NewLogNotifier writes notifications to the log only.
func NewLogNotifier(logger logging.Logger) Notifier {
	return &logNotifier{logger: logger.WithField("component", "notifier")}
}

func (l *logNotifier) Notify(_ context.Context, n *Notification) error {
	entry := l.logger.WithFields(logrus.Fields{
		"kind":      n.Kind,
		"bridge_id": n.BridgeID,
	})
	if n.EventID != "" {
		entry = entry.WithField("event_id", n.EventID)
	}
	if n.TxHash != nil {
		entry = entry.WithField("tx_hash", n.TxHash.String())
	}
	if n.Reason != "" {
		entry = entry.WithField("reason", n.Reason)
	}
	switch n.Kind {
	case KindFailed, KindPaused:
		entry.Error("relayer notification")
	default:
		entry.Info("relayer notification")
	}
	return nil
}

func (l *logNotifier) Close() error {
	return nil
}

type multiNotifier []Notifier

// Multi fans notifications out to all the given notifiers.
func Multi(notifiers ...Notifier) Notifier {
	return multiNotifier(notifiers)
}

func (m multiNotifier) Notify(ctx context.Context, n *Notification) error {
	var firstErr error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiNotifier) Close() error {
	var firstErr error
	for _, notifier := range m {
		if err := notifier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
