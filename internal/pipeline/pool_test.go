package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolSingleSlot(t *testing.T) {
	p := newPool([]int{7})

	v, err := p.acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, p.busy())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.release(v)
	assert.Equal(t, 0, p.busy())

	v, err = p.acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestPoolCanceledContext(t *testing.T) {
	p := newPool([]int{1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.busy())
}

func TestPoolWaiterGetsReleasedItem(t *testing.T) {
	p := newPool([]string{"slot"})
	held, err := p.acquire(context.Background())
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		v, err := p.acquire(context.Background())
		if err == nil {
			got <- v
		}
	}()

	p.release(held)
	select {
	case v := <-got:
		assert.Equal(t, "slot", v)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the slot")
	}
}
