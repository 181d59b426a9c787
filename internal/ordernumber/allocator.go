// Package ordernumber produces customer-facing order identifiers.
package ordernumber

import (
	"context"
	"fmt"
	"strings"
	"time"

	"venfurneer-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SequenceSource hands out monotonically increasing counters per day.
// The Redis client satisfies this.
type SequenceSource interface {
	NextOrderSequence(ctx context.Context, day string) (int64, error)
}

// Allocator generates order numbers of the form VF-YYYYMMDD-NNNN. It is
// best-effort: uniqueness is ultimately enforced by the order store's
// unique index, and when the counter is unreachable the allocator falls
// back to a random suffix instead of failing the checkout.
type Allocator struct {
	seq    SequenceSource
	now    func() time.Time
	logger *zap.Logger
}

// NewAllocator creates an allocator backed by the given counter source.
func NewAllocator(seq SequenceSource) *Allocator {
	return &Allocator{
		seq:    seq,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Allocate returns a presumptively-unique order number. It never fails;
// counter outages degrade to the random form VF-YYYYMMDD-RXXXXXXXX.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	day := a.now().UTC().Format("20060102")

	n, err := a.seq.NextOrderSequence(ctx, day)
	if err != nil {
		a.logger.Warn("Order sequence unavailable, using random suffix", zap.Error(err))
		util.OrderNumberFallbackTotal.Inc()
		return fmt.Sprintf("VF-%s-R%s", day, randomSuffix()), nil
	}

	return fmt.Sprintf("VF-%s-%04d", day, n), nil
}

func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}
