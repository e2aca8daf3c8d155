// Package emitter delivers notifications about newly indexed logs.
package emitter

import (
	"context"

	"github.com/vietddude/relayer/internal/core/domain"
)

// Emitter defines the interface for publishing indexed logs
type Emitter interface {
	// Emit sends a single log
	Emit(ctx context.Context, log domain.IndexedLog) error

	// EmitBatch sends logs in order
	EmitBatch(ctx context.Context, logs []domain.IndexedLog) error

	// Close stops delivery
	Close() error
}

// Nop drops every log.
type Nop struct{}

func (Nop) Emit(context.Context, domain.IndexedLog) error        { return nil }
func (Nop) EmitBatch(context.Context, []domain.IndexedLog) error { return nil }
func (Nop) Close() error                                         { return nil }
