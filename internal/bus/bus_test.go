package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	t.Parallel()
	b := New()

	var order []int
	b.Subscribe("topic", func(interface{}) { order = append(order, 1) })
	b.Subscribe("topic", func(interface{}) { order = append(order, 2) })
	b.Subscribe("topic", func(interface{}) { order = append(order, 3) })

	b.Publish("topic", nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishWithNoSubscribersIsNoOp(t *testing.T) {
	t.Parallel()
	b := New()
	// Must not panic or error.
	b.Publish("nobody.home", "payload")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New()

	var first, second int
	unsub := b.Subscribe("topic", func(interface{}) { first++ })
	b.Subscribe("topic", func(interface{}) { second++ })

	b.Publish("topic", nil)
	unsub()
	b.Publish("topic", nil)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()

	var count int
	unsub := b.Subscribe("topic", func(interface{}) { count++ })
	unsub()
	unsub()

	b.Publish("topic", nil)
	assert.Zero(t, count)
}

func TestPayloadPassedThrough(t *testing.T) {
	t.Parallel()
	b := New()

	var got interface{}
	b.Subscribe("topic", func(p interface{}) { got = p })

	type payload struct{ Value int }
	b.Publish("topic", payload{Value: 42})

	require.IsType(t, payload{}, got)
	assert.Equal(t, 42, got.(payload).Value)
}

func TestRequestResponse(t *testing.T) {
	t.Parallel()
	b := New()

	err := b.RegisterRequestHandler("status", func(interface{}) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	resp, err := b.Request("status", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestRegisterRequestHandlerRejectsDuplicate(t *testing.T) {
	t.Parallel()
	b := New()

	handler := func(interface{}) (interface{}, error) { return nil, nil }
	require.NoError(t, b.RegisterRequestHandler("status", handler))
	assert.Error(t, b.RegisterRequestHandler("status", handler))
}

func TestRequestWithoutHandlerFails(t *testing.T) {
	t.Parallel()
	b := New()

	_, err := b.Request("missing", nil)
	assert.Error(t, err)
}

func TestSubscribeDuringPublishDoesNotAffectCurrentDelivery(t *testing.T) {
	t.Parallel()
	b := New()

	var late int
	b.Subscribe("topic", func(interface{}) {
		b.Subscribe("topic", func(interface{}) { late++ })
	})

	b.Publish("topic", nil)
	assert.Zero(t, late, "handler subscribed mid-publish must not receive the same publish")

	b.Publish("topic", nil)
	assert.Equal(t, 1, late)
}
