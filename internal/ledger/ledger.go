package ledger

import (
	"context"
	"time"
)

// PendingExitCode marks a claimed message whose handler has not finished yet.
const PendingExitCode = -1

// Entry is what the ledger remembers about one delivered message id.
type Entry struct {
	DeliveredAt time.Time `json:"delivered_at"`
	ExitCode    int       `json:"exit_code"`
}

// Ledger records which message ids were already handed to a handler. Entries are
// written whatever the handler's exit code was: a failed delivery is not repeated.
type Ledger interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	// Claim stores entry only if messageID is unknown and reports whether it did.
	Claim(ctx context.Context, messageID string, entry Entry) (bool, error)
	// Record stores entry, replacing a previous one.
	Record(ctx context.Context, messageID string, entry Entry) error
	// Release forgets a claim that is still pending, so the id can be claimed
	// again. Recorded deliveries are kept.
	Release(ctx context.Context, messageID string) error
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}
