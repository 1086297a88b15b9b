package recorder

import (
	"context"

	"github.com/google/uuid"

	"github.com/dvloznov/order-ledger/internal/domain"
)

// NoopRecorder is used when no history database is configured. It still
// hands out run ids so log lines can be correlated.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) StartRun(_ context.Context, _ string, _ domain.YearRange) (string, error) {
	return uuid.NewString(), nil
}
func (n *NoopRecorder) FinishRun(_ context.Context, _ string, _ Summary, _ error) error { return nil }
func (n *NoopRecorder) ListRuns(_ context.Context, _ int) ([]*Run, error)               { return []*Run{}, nil }
func (n *NoopRecorder) Close() error                                                    { return nil }
