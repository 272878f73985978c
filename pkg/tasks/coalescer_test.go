package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stockpile/pkg/testutil"
)

func TestCoalescerRunsOncePerTick(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := newTestProcessor(t, 0)

	runs, events := 0, 0
	c := NewCoalescer(p, func(context.Context) error {
		runs++
		return nil
	}, func() { events++ })

	assert.True(t, c.Trigger())
	assert.False(t, c.Trigger())
	assert.False(t, c.Trigger())
	assert.True(t, c.Pending())

	n, err := p.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, events)
	assert.False(t, c.Pending())

	assert.True(t, c.Trigger())
	_, err = p.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
}

func TestCoalescerTriggeredFromAfterHook(t *testing.T) {
	ctx := testutil.TestContext(t)
	p := newTestProcessor(t, 0)

	runs := 0
	var c *Coalescer
	c = NewCoalescer(p, func(context.Context) error {
		runs++
		return nil
	}, func() {
		if runs < 3 {
			c.Trigger()
		}
	})

	c.Trigger()
	for i := 0; i < 5; i++ {
		_, err := p.Process(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, runs)
}

func TestCoalescerPropagatesErrorAndResets(t *testing.T) {
	p := newTestProcessor(t, 0)
	boom := errors.New("boom")
	c := NewCoalescer(p, nil, nil)
	c.SetTask(func(context.Context) error { return boom })

	c.Trigger()
	_, err := p.Process(testutil.TestContext(t))
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Pending())
}

func TestCoalescerOnStoppedProcessor(t *testing.T) {
	p := newTestProcessor(t, 0)
	p.Stop()
	c := NewCoalescer(p, func(context.Context) error { return nil }, nil)
	assert.False(t, c.Trigger())
	assert.False(t, c.Pending())
}
