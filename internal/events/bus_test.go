package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ethbank/internal/ledger"
)

func event(id string, idx uint64) ledger.TransferEvent {
	return ledger.TransferEvent{
		ID:        id,
		Index:     idx,
		Sender:    ledger.MustParseAddress("0x00000000000000000000000000000000000a11ce"),
		Receiver:  ledger.MustParseAddress("0x0000000000000000000000000000000000000b0b"),
		Amount:    ledger.NewAmount(100),
		Message:   "first transaction!",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	bus.Publish(event("evt-1", 0))

	assert.Equal(t, "evt-1", (<-a.C()).ID)
	assert.Equal(t, "evt-1", (<-b.C()).ID)
	assert.Equal(t, uint64(0), bus.Dropped())
}

func TestBus_FullSubscriberDrops(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)

	bus.Publish(event("evt-1", 0))
	bus.Publish(event("evt-2", 1))

	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Equal(t, "evt-1", (<-sub.C()).ID)
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %s", ev.ID)
	default:
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() { bus.Publish(event("evt-1", 0)) })
}

func TestSubscription_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	require.Equal(t, 1, bus.Len())

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, bus.Len())
	_, ok := <-sub.C()
	assert.False(t, ok, "channel closed")

	assert.NotPanics(t, func() { bus.Publish(event("evt-1", 0)) })
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)

	bus.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)

	late := bus.Subscribe(1)
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing after Close yields a closed subscription")
	assert.NotPanics(t, func() { sub.Close() })
}

func TestBus_ConcurrentPublishAndClose(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe(2)
			for j := 0; j < 50; j++ {
				bus.Publish(event("evt", uint64(j)))
			}
			sub.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, bus.Len())
}

func TestForward_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(8)

	var got []string
	sink := SinkFunc(func(ctx context.Context, ev ledger.TransferEvent) error {
		got = append(got, ev.ID)
		return nil
	})

	bus.Publish(event("evt-1", 0))
	bus.Publish(event("evt-2", 1))
	sub.Close()

	require.NoError(t, Forward(context.Background(), sub, sink, nil))
	assert.Equal(t, []string{"evt-1", "evt-2"}, got)
}

func TestForward_SinkErrorSkipsEvent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(8)

	var got []string
	sink := SinkFunc(func(ctx context.Context, ev ledger.TransferEvent) error {
		if ev.ID == "evt-1" {
			return errors.New("broker unavailable")
		}
		got = append(got, ev.ID)
		return nil
	})

	bus.Publish(event("evt-1", 0))
	bus.Publish(event("evt-2", 1))
	sub.Close()

	require.NoError(t, Forward(context.Background(), sub, sink, nil))
	assert.Equal(t, []string{"evt-2"}, got)
}

func TestForward_StopsOnCancel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Forward(ctx, sub, SinkFunc(func(context.Context, ledger.TransferEvent) error { return nil }), nil)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Forward did not return after cancel")
	}
}
