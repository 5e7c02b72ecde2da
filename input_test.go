package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarGetReflectsInitialValue(t *testing.T) {
	v := NewVar(10)
	out, job := v.Get(context.Background())
	val, ok := out.Value()
	require.True(t, ok)
	assert.Equal(t, 10, val)
	assert.Nil(t, job)
	assert.Equal(t, 10, v.Value())
}

func TestVarSetNotifiesSubscribers(t *testing.T) {
	v := NewVar(0)
	notified := make(chan struct{}, 1)
	unsub := v.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	defer unsub()

	v.Set(5)
	select {
	case <-notified:
	default:
		t.Fatal("expected notification")
	}
	assert.Equal(t, 5, v.Value())
}

func TestVarUnsubscribeStopsNotifications(t *testing.T) {
	v := NewVar(0)
	count := 0
	unsub := v.Subscribe(func() { count++ })
	unsub()
	v.Set(1)
	assert.Equal(t, 0, count)
}

func TestConstantInputNeverNotifies(t *testing.T) {
	in := ConstantInput[string](Ok("fixed"))
	out, _ := in.Get(context.Background())
	val, _ := out.Value()
	assert.Equal(t, "fixed", val)

	called := false
	unsub := in.Subscribe(func() { called = true })
	unsub()
	assert.False(t, called)
}
