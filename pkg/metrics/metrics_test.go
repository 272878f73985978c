package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolInstrumentsNilSafe(t *testing.T) {
	var p *PoolInstruments
	p.SetState(1, 2, 3, 4)
	p.Hit()
	p.Miss()
	p.Refilled(3)
	p.Grew()
	p.FactoryFailed()

	var c *PoolCollector
	assert.Nil(t, c.ForPool("x"))
}

func TestPoolInstrumentsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPoolCollector(reg, "test")
	p := c.ForPool("bullets")

	p.SetState(4, 6, 20, 14)
	p.Hit()
	p.Hit()
	p.Miss()
	p.Refilled(2)
	p.Grew()

	assert.Equal(t, 4.0, testutil.ToFloat64(c.idle.WithLabelValues("bullets")))
	assert.Equal(t, 6.0, testutil.ToFloat64(c.outstanding.WithLabelValues("bullets")))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.target.WithLabelValues("bullets")))
	assert.Equal(t, 14.0, testutil.ToFloat64(c.refillRemaining.WithLabelValues("bullets")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.acquires.WithLabelValues("bullets", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.acquires.WithLabelValues("bullets", "miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.constructed.WithLabelValues("bullets", "refill")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.constructed.WithLabelValues("bullets", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.growths.WithLabelValues("bullets")))
}

func TestPoolCollectorExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPoolCollector(reg, "test")
	c.ForPool("sparks").Grew()

	expected := `
# HELP test_pool_growths_total Times the target size was doubled
# TYPE test_pool_growths_total counter
test_pool_growths_total{pool="sparks"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_pool_growths_total"))
}

func TestDriverCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDriverCollector(reg, "test")

	d.ObserveTick("tasks", time.Millisecond, nil)
	d.ObserveTick("bullets", 2*time.Millisecond, errors.New("factory down"))
	d.TickDone()

	assert.Equal(t, 0.0, testutil.ToFloat64(d.tickErrors.WithLabelValues("tasks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.tickErrors.WithLabelValues("bullets")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.ticks))
	assert.Equal(t, 2, testutil.CollectAndCount(d.tickDuration))

	var nilDriver *DriverCollector
	nilDriver.ObserveTick("x", time.Second, nil)
	nilDriver.TickDone()
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), time.Millisecond)
}
