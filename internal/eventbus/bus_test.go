package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitOrderAndGlobal(t *testing.T) {
	b := New()
	var order []string

	unsub := b.On(SessionSaved, func(ev Event) { order = append(order, "topic-1") })
	b.On(SessionSaved, func(ev Event) { order = append(order, "topic-2") })
	b.OnAll(func(ev Event) { order = append(order, "global") })

	b.Emit(Event{Topic: SessionSaved})
	require.Equal(t, []string{"topic-1", "topic-2", "global"}, order)

	unsub()
	order = nil
	b.Emit(Event{Topic: SessionSaved})
	require.Equal(t, []string{"topic-2", "global"}, order)
}

func TestHandlerPanicDoesNotStopOthers(t *testing.T) {
	b := New()
	var ran bool

	b.On(ToolExecutionCompleted, func(Event) { panic("boom") })
	b.On(ToolExecutionCompleted, func(Event) { ran = true })

	require.NotPanics(t, func() {
		b.Emit(Event{Topic: ToolExecutionCompleted})
	})
	require.True(t, ran)
}

func TestEmitForwardsToWatermillSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	msgs, err := b.Subscribe(context.Background(), SessionSaved)
	require.NoError(t, err)

	b.Emit(Event{Topic: SessionSaved, Payload: map[string]string{"id": "sess-1"}})

	select {
	case msg := <-msgs:
		require.Contains(t, string(msg.Payload), "sess-1")
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("event was not forwarded onto the watermill topic")
	}
}

func TestUnmarshalablePayloadStillReachesDirectHandlers(t *testing.T) {
	b := New()
	defer b.Close()

	var got int
	b.On(SessionSaved, func(Event) { got++ })
	require.NotPanics(t, func() {
		b.Emit(Event{Topic: SessionSaved, Payload: make(chan int)})
	})
	require.Equal(t, 1, got)
}

func TestUnrelatedTopicNotDelivered(t *testing.T) {
	b := New()
	var got int
	b.On(SessionSaved, func(Event) { got++ })
	b.Emit(Event{Topic: SessionLoaded})
	require.Equal(t, 0, got)
}
