package services

import (
	"context"
	"testing"

	"freelancehub/internal/metrics"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_SynchronousFanOut(t *testing.T) {
	bus := NewEventBus(quietLogger())
	var order []string
	bus.Subscribe(func(ctx context.Context, evt Event) { order = append(order, "first:"+string(evt.Type)) })
	bus.Subscribe(func(ctx context.Context, evt Event) { order = append(order, "second:"+string(evt.Type)) })

	bus.Emit(context.Background(), EventJobCreated, map[string]interface{}{"jobId": 1})

	// delivery completes before Emit returns
	assert.Equal(t, []string{"first:JOB_CREATED", "second:JOB_CREATED"}, order)
}

func TestEventBus_UnknownEventIsNoop(t *testing.T) {
	metrics.Reset()
	bus := NewEventBus(quietLogger())
	called := false
	bus.Subscribe(func(ctx context.Context, evt Event) { called = true })

	bus.Emit(context.Background(), EventType("SOMETHING_ELSE"), nil)

	assert.False(t, called)
	assert.Zero(t, metrics.Take().Events["SOMETHING_ELSE"])
}

func TestEventBus_PanickingListenerDoesNotStopFanOut(t *testing.T) {
	bus := NewEventBus(quietLogger())
	secondCalled := false
	bus.Subscribe(func(ctx context.Context, evt Event) { panic("boom") })
	bus.Subscribe(func(ctx context.Context, evt Event) { secondCalled = true })

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), EventContractSigned, nil)
	})
	assert.True(t, secondCalled)
}

func TestEventBus_TypedSubscription(t *testing.T) {
	bus := NewEventBus(quietLogger())
	var got []EventType
	bus.Subscribe(func(ctx context.Context, evt Event) { got = append(got, evt.Type) }, EventInvoicePaid, EventType("NOT_REAL"))

	bus.Emit(context.Background(), EventJobCreated, nil)
	bus.Emit(context.Background(), EventInvoicePaid, nil)

	assert.Equal(t, []EventType{EventInvoicePaid}, got)
}

func TestEventBus_NilPayloadBecomesEmpty(t *testing.T) {
	bus := NewEventBus(quietLogger())
	var payload map[string]interface{}
	bus.Subscribe(func(ctx context.Context, evt Event) { payload = evt.Payload })

	bus.Emit(context.Background(), EventUserRegistered, nil)

	assert.NotNil(t, payload)
	assert.Empty(t, payload)
}

func TestIsKnownEvent(t *testing.T) {
	assert.Len(t, AllEventTypes(), 15)
	for _, e := range AllEventTypes() {
		assert.True(t, IsKnownEvent(e))
	}
	assert.False(t, IsKnownEvent("proposal_accepted"))
}
