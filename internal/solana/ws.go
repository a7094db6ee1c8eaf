package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to transaction logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Unsubscribe cancels the subscription that produced ch. The channel is not
	// closed; consumers stop reading on their own.
	Unsubscribe(ctx context.Context, ch <-chan LogNotification) error

	// Close closes the WebSocket connection and all subscription channels.
	Close() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs of transactions that mention any of these accounts.
	Mentions []string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
