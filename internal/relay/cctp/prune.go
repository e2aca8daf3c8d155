package cctp

import (
	"context"
	"fmt"
	"time"
)

// PruneBefore deletes relayed messages whose relay happened before cutoff,
// together with their indexed logs and relay attempt records.
func (m *MessageStateMachine) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	msgs, err := m.Items(ctx, StateRelayed)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, msg := range msgs {
		if msg.RelayTimestampMs == 0 || !time.UnixMilli(msg.RelayTimestampMs).Before(cutoff) {
			continue
		}
		if err := m.repo.Forget(ctx, msg); err != nil {
			return pruned, fmt.Errorf("forget logs of %s: %w", msg.ID(), err)
		}
		if err := m.deps.Attempts.Remove(ctx, msg.MessageHash); err != nil {
			return pruned, fmt.Errorf("remove relay attempt %s: %w", msg.ID(), err)
		}
		if err := m.Delete(ctx, StateRelayed, msg.ID()); err != nil {
			return pruned, fmt.Errorf("delete %s: %w", msg.ID(), err)
		}
		pruned++
	}
	return pruned, nil
}
