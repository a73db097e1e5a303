package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 21, 10, 0, 0, 0, time.UTC)

func newTestTracker() *CorrectionTracker {
	return NewCorrectionTracker(CorrectionSettings{
		MinSamples: 10,
		Window:     20,
		Threshold:  5,
		Step:       0.05,
		Min:        0.7,
		Max:        1.3,
		Capacity:   1000,
		Retain:     500,
	})
}

func TestCorrectionTracker_StartsNeutral(t *testing.T) {
	assert.Equal(t, 1.0, newTestTracker().Coefficient())
}

func TestCorrectionTracker_NeedsMinSamples(t *testing.T) {
	c := newTestTracker()
	for i := 0; i < 9; i++ {
		_, ok := c.Update(t0, 50)
		assert.False(t, ok, "sample %d must not trigger a correction", i+1)
	}
	assert.Equal(t, 1.0, c.Coefficient())

	rec, ok := c.Update(t0, 50)
	require.True(t, ok)
	assert.Equal(t, 10, rec.SampleSize)
}

func TestCorrectionTracker_PredictionsLow(t *testing.T) {
	c := newTestTracker()
	for i := 0; i < 20; i++ {
		c.Record(8)
	}
	rec, ok := c.Check(t0)
	require.True(t, ok)

	assert.InDelta(t, 1.05, c.Coefficient(), 1e-9)
	assert.InDelta(t, 8.0, rec.MeanError, 1e-9)
	assert.Equal(t, 1.0, rec.OldCoefficient)
	assert.InDelta(t, 1.05, rec.NewCoefficient, 1e-9)
	assert.Equal(t, 20, rec.SampleSize)
	assert.Equal(t, t0, rec.Time)
}

func TestCorrectionTracker_ClampsAtMax(t *testing.T) {
	c := newTestTracker()
	for i := 0; i < 20; i++ {
		c.Record(8)
	}
	var last CorrectionRecord
	corrections := 0
	for i := 0; i < 20; i++ {
		if rec, ok := c.Check(t0); ok {
			corrections++
			last = rec
		}
	}
	assert.InDelta(t, 1.3, c.Coefficient(), 1e-9)
	// 1.05^5 ≈ 1.276, the sixth step clamps; later checks record old == new
	assert.Equal(t, 20, corrections)
	assert.InDelta(t, 1.3, last.OldCoefficient, 1e-9)
	assert.InDelta(t, 1.3, last.NewCoefficient, 1e-9)
	assert.InDelta(t, 8, last.MeanError, 1e-9)
}

func TestCorrectionTracker_PredictionsHigh(t *testing.T) {
	c := newTestTracker()
	for i := 0; i < 20; i++ {
		c.Record(-12)
	}
	_, ok := c.Check(t0)
	require.True(t, ok)
	assert.InDelta(t, 0.95, c.Coefficient(), 1e-9)

	for i := 0; i < 20; i++ {
		c.Check(t0)
	}
	assert.InDelta(t, 0.7, c.Coefficient(), 1e-9)
}

func TestCorrectionTracker_BelowThreshold(t *testing.T) {
	c := newTestTracker()
	for i := 0; i < 30; i++ {
		c.Record(5) // |mean| must exceed the threshold strictly
	}
	_, ok := c.Check(t0)
	assert.False(t, ok)
	assert.Equal(t, 1.0, c.Coefficient())
}

func TestCorrectionTracker_UsesRecentWindow(t *testing.T) {
	c := newTestTracker()
	for i := 0; i < 50; i++ {
		c.Record(100) // old bias
	}
	for i := 0; i < 20; i++ {
		c.Record(0)
	}
	_, ok := c.Check(t0)
	assert.False(t, ok, "only the most recent 20 samples count")
}

func TestCorrectionTracker_BoundedHistory(t *testing.T) {
	c := NewCorrectionTracker(CorrectionSettings{MinSamples: 10, Window: 20, Threshold: 5, Step: 0.05, Min: 0.7, Max: 1.3, Capacity: 100, Retain: 50})
	for i := 0; i < 101; i++ {
		c.Record(1)
	}
	assert.Equal(t, 50, c.Samples())
}
