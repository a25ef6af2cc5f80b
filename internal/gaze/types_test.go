package gaze

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointDistanceTo(t *testing.T) {
	t.Parallel()

	a := Point{X: 0, Y: 0}
	b := Point{X: 3, Y: 4}
	assert.Equal(t, 5.0, a.DistanceTo(b))
	assert.Equal(t, 5.0, b.DistanceTo(a))
	assert.Equal(t, 0.0, a.DistanceTo(a))
}

func TestPointIsFinite(t *testing.T) {
	t.Parallel()

	assert.True(t, Point{X: 1, Y: 2}.IsFinite())
	assert.False(t, Point{X: math.NaN(), Y: 2}.IsFinite())
	assert.False(t, Point{X: 1, Y: math.Inf(1)}.IsFinite())
	assert.False(t, Point{X: math.Inf(-1), Y: math.NaN()}.IsFinite())
}

func TestEventTypeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gaze", EventGaze.String())
	assert.Equal(t, "blink", EventBlink.String())
	assert.Equal(t, "reserved(3)", EventType(3).String())
}
