package breaker

import (
	"context"
	"testing"
	"time"

	"orderrelay/internal/common"
	"orderrelay/internal/domain/delivery"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBackend struct {
	err         error
	calls       int
	activations int
}

func (b *countingBackend) Method() delivery.Method { return delivery.MethodTeam }

func (b *countingBackend) Send(ctx context.Context, msg *delivery.Message) error {
	b.calls++
	return b.err
}

func (b *countingBackend) Activate(ctx context.Context) error {
	b.activations++
	return nil
}

func (b *countingBackend) Deactivate() {}

func testConfig() Config {
	return Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      3,
	}
}

var msg = &delivery.Message{Destination: "orders", Text: "x"}

func TestBackend_OpensAfterTransportFailures(t *testing.T) {
	inner := &countingBackend{err: common.NewDeliveryError(common.KindTransportFailure, "team", "502 bad gateway")}
	b := Wrap(inner, testConfig())

	for i := 0; i < 3; i++ {
		err := b.Send(context.Background(), msg)
		assert.Equal(t, common.KindTransportFailure, common.KindOf(err))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Send(context.Background(), msg)

	assert.Equal(t, common.KindTransportFailure, common.KindOf(err))
	assert.Contains(t, common.Reason(err), "unavailable")
	assert.Equal(t, 3, inner.calls, "open circuit does not reach the provider")
}

func TestBackend_NonTransportFailuresDoNotTrip(t *testing.T) {
	inner := &countingBackend{err: common.NewDeliveryError(common.KindNotFound, "team", "no conversation")}
	b := Wrap(inner, testConfig())

	for i := 0; i < 10; i++ {
		err := b.Send(context.Background(), msg)
		assert.Equal(t, common.KindNotFound, common.KindOf(err))
	}

	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, 10, inner.calls)
}

func TestBackend_ForwardsIdentityAndLifecycle(t *testing.T) {
	inner := &countingBackend{}
	b := Wrap(inner, DefaultConfig())

	assert.Equal(t, delivery.MethodTeam, b.Method())
	require.NoError(t, b.Activate(context.Background()))
	assert.Equal(t, 1, inner.activations)
	require.NoError(t, b.Send(context.Background(), msg))
}
