package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no value received")
		var zero T
		return zero
	}
}

func TestObservableGetSet(t *testing.T) {
	o := NewObservable(StateIdle)
	assert.Equal(t, StateIdle, o.Get())

	assert.True(t, o.Set(StateConnecting))
	assert.False(t, o.Set(StateConnecting))
	assert.Equal(t, StateConnecting, o.Get())
}

func TestObservableSubscribeYieldsCurrentValue(t *testing.T) {
	o := NewObservable("ready")
	ch, cancel := o.Subscribe()
	defer cancel()

	assert.Equal(t, "ready", receive(t, ch))

	o.Set("next")
	assert.Equal(t, "next", receive(t, ch))
}

func TestObservableConflatesUpdates(t *testing.T) {
	o := NewObservable(0)
	ch, cancel := o.Subscribe()
	defer cancel()

	for i := 1; i <= 100; i++ {
		o.Set(i)
	}
	assert.Equal(t, 100, receive(t, ch))

	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestObservableSameValueNotifiesNobody(t *testing.T) {
	o := NewObservable(true)
	ch, cancel := o.Subscribe()
	defer cancel()
	receive(t, ch)

	o.Set(true)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	default:
	}
}

func TestObservableCancelClosesChannel(t *testing.T) {
	o := NewObservable(1.5)
	ch, cancel := o.Subscribe()
	receive(t, ch)

	cancel()
	cancel()
	_, ok := <-ch
	require.False(t, ok)

	assert.True(t, o.Set(2.5))
}

func TestStreamStateString(t *testing.T) {
	tests := []struct {
		state StreamState
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateStreaming, "streaming"},
		{StateError, "error"},
		{StreamState(9), "state(9)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}
