package ports

import "context"

// ChangeNotifier reports modifications to a single watched file. Signals
// are coalesced: a pending notification absorbs later ones until drained.
type ChangeNotifier interface {
	// Start begins watching. The notifier stops when ctx is cancelled.
	Start(ctx context.Context) error

	// Changes returns the channel that receives a signal after each
	// debounced batch of modifications.
	Changes() <-chan struct{}

	// Stop terminates watching and releases resources.
	Stop() error

	// IsRunning returns true if the notifier is active.
	IsRunning() bool
}
