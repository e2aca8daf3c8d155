package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/relayer/internal/core/domain"
)

const markersBucket = "sync_markers"

// SyncMarkers persists the indexing position of each log filter.
type SyncMarkers struct {
	kv KV
}

func NewSyncMarkers(kv KV) *SyncMarkers {
	return &SyncMarkers{kv: kv}
}

// Get reports false when the filter has never been synced.
func (m *SyncMarkers) Get(ctx context.Context, filterID string) (domain.SyncMarker, bool, error) {
	var marker domain.SyncMarker
	raw, err := m.kv.Get(ctx, markersBucket, filterID)
	if errors.Is(err, ErrNotFound) {
		return marker, false, nil
	}
	if err != nil {
		return marker, false, err
	}
	if err := json.Unmarshal(raw, &marker); err != nil {
		return marker, false, fmt.Errorf("decode sync marker %s: %w", filterID, err)
	}
	return marker, true, nil
}

// Op encodes marker for a batch written together with the logs it covers.
func (m *SyncMarkers) Op(marker domain.SyncMarker) (Op, error) {
	raw, err := json.Marshal(marker)
	if err != nil {
		return Op{}, fmt.Errorf("encode sync marker %s: %w", marker.FilterID, err)
	}
	return Put(markersBucket, marker.FilterID, raw), nil
}

// Set overwrites a marker. Used to initialise and to reset filters.
func (m *SyncMarkers) Set(ctx context.Context, marker domain.SyncMarker) error {
	op, err := m.Op(marker)
	if err != nil {
		return err
	}
	return m.kv.Batch(ctx, []Op{op})
}

func (m *SyncMarkers) List(ctx context.Context) ([]domain.SyncMarker, error) {
	var out []domain.SyncMarker
	err := m.kv.Scan(ctx, markersBucket, "", func(key string, raw []byte) error {
		var marker domain.SyncMarker
		if err := json.Unmarshal(raw, &marker); err != nil {
			return fmt.Errorf("decode sync marker %s: %w", key, err)
		}
		out = append(out, marker)
		return nil
	})
	return out, err
}
