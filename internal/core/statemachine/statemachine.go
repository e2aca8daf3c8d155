// Package statemachine moves persisted items through an ordered list of
// states.
//
// Each item lives in exactly one state. A poller per non-terminal state asks
// the machine whether an item may advance and, if so, asks the repository for
// the item's next-state form. Absent data means "not yet". Present data is
// merged and written with an atomic move.
package statemachine

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/relayer/internal/core/domain"
)

// ErrInvalidState is returned for a state a machine does not define.
var ErrInvalidState = errors.New("Invalid state")

// DefaultPollInterval is used for states without a configured interval.
const DefaultPollInterval = 30 * time.Second

// Repository produces items from the data source.
type Repository[T any] interface {
	// GetItem returns the form of partial in state. ok is false while the
	// data needed for that state does not exist yet.
	GetItem(ctx context.Context, state string, partial T) (item T, ok bool, err error)

	// Pending returns every initial-state item the data source knows about.
	// Init replays them so items missed while the process was down are created.
	Pending(ctx context.Context) ([]T, error)
}

// Definition is the item-specific behaviour of a machine.
type Definition[T any] interface {
	// ItemID is the natural key of an item.
	ItemID(item T) string

	// ShouldAttemptTransition gates polling an item out of state.
	ShouldAttemptTransition(ctx context.Context, state string, item T, now time.Time) bool

	// FromLog turns an indexer notification into an initial-state item.
	// ok is false for logs the machine does not track.
	FromLog(ctx context.Context, log domain.IndexedLog) (item T, ok bool, err error)

	// Merge combines the stored item with the repository's next-state form.
	Merge(current, next T) T
}

// Poller is extra periodic work run next to the state pollers.
type Poller struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}
