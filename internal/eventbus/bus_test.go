package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchOrderIsRegistrationOrder(t *testing.T) {
	bus := New(nil)
	var order []int

	bus.Subscribe(TopicChangeAdmitted, func(Event) error {
		order = append(order, 1)
		return nil
	})
	bus.Subscribe(TopicChangeAdmitted, func(Event) error {
		order = append(order, 2)
		return nil
	})
	bus.Subscribe(TopicChangeAdmitted, func(Event) error {
		order = append(order, 3)
		return nil
	})

	bus.PublishNow(TopicChangeAdmitted, "change-1")
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSubscriberErrorDoesNotStopOthers(t *testing.T) {
	bus := New(nil)
	ran := []bool{false, false}

	bus.Subscribe(TopicChangeRejected, func(Event) error {
		ran[0] = true
		return errors.New("boom")
	})
	bus.Subscribe(TopicChangeRejected, func(Event) error {
		ran[1] = true
		return nil
	})

	bus.PublishNow(TopicChangeRejected, nil)
	assert.True(t, ran[0])
	assert.True(t, ran[1])
}

func TestUnsubscribe(t *testing.T) {
	bus := New(nil)
	calls := 0
	sub := bus.Subscribe(TopicBatchCreated, func(Event) error {
		calls++
		return nil
	})
	bus.PublishNow(TopicBatchCreated, nil)
	sub.Unsubscribe()
	bus.PublishNow(TopicBatchCreated, nil)
	assert.Equal(t, 1, calls)
}

func TestDrainIsIdempotentWhenEmpty(t *testing.T) {
	bus := New(nil)
	bus.Drain()
	assert.Equal(t, 0, bus.Pending())
}

func TestPublishDoesNotDispatchUntilDrain(t *testing.T) {
	bus := New(nil)
	calls := 0
	bus.Subscribe(TopicChangeSubmitted, func(Event) error {
		calls++
		return nil
	})
	bus.Publish(TopicChangeSubmitted, nil)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, bus.Pending())
	bus.Drain()
	assert.Equal(t, 1, calls)
}
