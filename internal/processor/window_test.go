package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wisefido-telemetry/internal/models"
)

func windowSample(value float64, ts time.Time) models.RawSample {
	return models.RawSample{
		SensorType: models.SensorHeartRate,
		Value:      value,
		Unit:       "bpm",
		Timestamp:  ts,
	}
}

func TestSlidingWindow_EvictsExpiredSamples(t *testing.T) {
	w := newSlidingWindow(10 * time.Second)
	base := time.Now()

	w.Add(windowSample(70, base))
	w.Add(windowSample(71, base.Add(5*time.Second)))
	assert.Equal(t, 2, w.Len())

	// 新样本把第一个样本推出窗口（15s > 10s）
	w.Add(windowSample(72, base.Add(15*time.Second)))
	assert.Equal(t, 2, w.Len())

	mean, _ := w.Stats()
	assert.InDelta(t, 71.5, mean, 0.001)
}

func TestSlidingWindow_OutOfOrderInsertion(t *testing.T) {
	w := newSlidingWindow(10 * time.Second)
	base := time.Now()

	// 先插入最新样本，再插入乱序但在窗口内的样本
	w.Add(windowSample(70, base.Add(8*time.Second)))
	w.Add(windowSample(71, base.Add(2*time.Second)))
	assert.Equal(t, 2, w.Len())

	// 过期样本插入后立即被淘汰（基准是窗口内最新时间戳）
	w.Add(windowSample(99, base.Add(-5*time.Second)))
	assert.Equal(t, 2, w.Len())
	for _, s := range w.samples {
		assert.False(t, s.Timestamp.Before(base.Add(8*time.Second).Add(-10*time.Second)))
	}
}

func TestSlidingWindow_Stats(t *testing.T) {
	w := newSlidingWindow(10 * time.Second)
	base := time.Now()

	for i, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Add(windowSample(v, base.Add(time.Duration(i)*time.Millisecond)))
	}

	mean, stddev := w.Stats()
	assert.InDelta(t, 5.0, mean, 0.001)
	// 总体标准差（除以 n）
	assert.InDelta(t, 2.0, stddev, 0.001)

	min, max := w.MinMax()
	assert.Equal(t, 2.0, min)
	assert.Equal(t, 9.0, max)
	assert.Equal(t, 9.0, w.Latest())
}

func TestSlidingWindow_Empty(t *testing.T) {
	w := newSlidingWindow(10 * time.Second)

	assert.Equal(t, 0, w.Len())
	mean, stddev := w.Stats()
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 0.0, stddev)
	assert.Equal(t, 0.0, w.Latest())
}
