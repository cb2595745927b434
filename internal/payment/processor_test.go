package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/dedup"
	"github.com/xenking/kart-orders/internal/domain/order"
)

type mockLifecycle struct {
	confirmed []string
	failed    []string
	err       error
}

func (m *mockLifecycle) OnPaymentConfirmed(_ context.Context, orderID string) (*order.Order, error) {
	m.confirmed = append(m.confirmed, orderID)
	return &order.Order{ID: orderID}, m.err
}

func (m *mockLifecycle) OnPaymentFailed(_ context.Context, orderID string) (*order.Order, error) {
	m.failed = append(m.failed, orderID)
	return &order.Order{ID: orderID}, m.err
}

func encodeEvent(e Event) []byte {
	var enc jx.Encoder
	e.Encode(&enc)
	return enc.Bytes()
}

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"eventId":"evt-1","orderId":"o-1","outcome":"succeeded","extra":{"a":[1,2]}}`))
	require.NoError(t, err)
	assert.Equal(t, Event{ID: "evt-1", OrderID: "o-1", Outcome: OutcomeSucceeded}, e)

	roundTrip, err := DecodeEvent(encodeEvent(e))
	require.NoError(t, err)
	assert.Equal(t, e, roundTrip)

	_, err = DecodeEvent([]byte(`{"eventId":1}`))
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		ok    bool
	}{
		{name: "valid", event: Event{ID: "e", OrderID: "o", Outcome: OutcomeFailed}, ok: true},
		{name: "no id", event: Event{OrderID: "o", Outcome: OutcomeFailed}},
		{name: "no order", event: Event{ID: "e", Outcome: OutcomeFailed}},
		{name: "bad outcome", event: Event{ID: "e", OrderID: "o", Outcome: "refunded"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestProcess_Dispatch(t *testing.T) {
	lc := &mockLifecycle{}
	p := NewProcessor(lc, dedup.NewMemory(0))
	ctx := context.Background()

	applied, err := p.Process(ctx, Event{ID: "e1", OrderID: "o1", Outcome: OutcomeSucceeded})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = p.Process(ctx, Event{ID: "e2", OrderID: "o2", Outcome: OutcomeFailed})
	require.NoError(t, err)
	assert.True(t, applied)

	assert.Equal(t, []string{"o1"}, lc.confirmed)
	assert.Equal(t, []string{"o2"}, lc.failed)
}

func TestProcess_DuplicateSkipped(t *testing.T) {
	lc := &mockLifecycle{}
	p := NewProcessor(lc, dedup.NewMemory(0))
	ctx := context.Background()
	e := Event{ID: "e1", OrderID: "o1", Outcome: OutcomeSucceeded}

	_, err := p.Process(ctx, e)
	require.NoError(t, err)
	applied, err := p.Process(ctx, e)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, lc.confirmed, 1)
}

func TestProcess_FailureReleasesClaim(t *testing.T) {
	lc := &mockLifecycle{err: errors.New("db timeout")}
	p := NewProcessor(lc, dedup.NewMemory(0))
	ctx := context.Background()
	e := Event{ID: "e1", OrderID: "o1", Outcome: OutcomeSucceeded}

	_, err := p.Process(ctx, e)
	require.Error(t, err)

	lc.err = nil
	applied, err := p.Process(ctx, e)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Len(t, lc.confirmed, 2)
}

func TestProcessMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("garbage is acknowledged", func(t *testing.T) {
		p := NewProcessor(&mockLifecycle{}, dedup.NewMemory(0))
		require.NoError(t, p.ProcessMessage(ctx, []byte(`not json`)))
	})
	t.Run("unknown order is acknowledged", func(t *testing.T) {
		p := NewProcessor(&mockLifecycle{err: order.ErrOrderNotFound}, dedup.NewMemory(0))
		msg := encodeEvent(Event{ID: "e1", OrderID: "gone", Outcome: OutcomeFailed})
		require.NoError(t, p.ProcessMessage(ctx, msg))
	})
	t.Run("transient error is returned", func(t *testing.T) {
		p := NewProcessor(&mockLifecycle{err: errors.New("conn reset")}, dedup.NewMemory(0))
		msg := encodeEvent(Event{ID: "e1", OrderID: "o1", Outcome: OutcomeSucceeded})
		require.Error(t, p.ProcessMessage(ctx, msg))
	})
}

func TestSignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"eventId":"e1"}`)
	sig := Sign(secret, body)

	assert.True(t, VerifySignature(secret, body, sig))
	assert.False(t, VerifySignature(secret, []byte(`{"eventId":"e2"}`), sig))
	assert.False(t, VerifySignature([]byte("other"), body, sig))
	assert.False(t, VerifySignature(secret, body, "zz"))
}
