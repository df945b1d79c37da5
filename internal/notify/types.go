package notify

import (
	"context"
	"time"

	"pullover/internal/api"
)

// Sink renders one message somewhere visible. Implementations must be safe
// for sequential calls from the delivery pipeline and should return quickly;
// slow transports do their own queueing or rate limiting.
type Sink interface {
	Name() string
	Send(ctx context.Context, m api.Message) error
}

type Config struct {
	// DedupWindow suppresses re-display of a message id seen within the
	// window. Zero disables suppression (every redelivery is shown again).
	// Requires storage to survive restarts; without a store the window is
	// process-lifetime in-memory only.
	DedupWindow time.Duration
}
