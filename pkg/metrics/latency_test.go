package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyRecorderQuantiles(t *testing.T) {
	r := NewLatencyRecorder()
	for i := 1; i <= 100; i++ {
		r.Record(time.Duration(i) * time.Millisecond)
	}
	p50 := r.ValueAtQuantile(50)
	p99 := r.ValueAtQuantile(99)
	assert.Greater(t, p99, p50)
	assert.InDelta(t, 50*time.Millisecond, p50, float64(5*time.Millisecond))
}

func TestLatencyRecorderReset(t *testing.T) {
	r := NewLatencyRecorder()
	r.Record(5 * time.Second)
	r.Reset()
	assert.Equal(t, time.Duration(0), r.ValueAtQuantile(99))
}
