package notification

import (
	"context"
	"log/slog"
)

const (
	// KindOrderCreated tells a seller that funds for their listing are held in escrow.
	KindOrderCreated = "order_created"
	// KindOrderCompleted tells a seller that escrow was released to them.
	KindOrderCompleted = "order_completed"
	// KindOrderCancelled tells a seller that the buyer was refunded.
	KindOrderCancelled = "order_cancelled"
	// KindOrderDisputed tells a seller that the buyer opened a dispute.
	KindOrderDisputed = "order_disputed"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	OrderID     string
	Body        string
}

// Notifier delivers notifications to downstream systems. It is only called
// after the state change it reports has been committed.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("order_id", message.OrderID),
		slog.String("body", message.Body))
	return nil
}
