package processor

import (
	"math"
	"time"

	"wisefido-telemetry/internal/models"
)

// slidingWindow 单个 (设备, 传感器类型) 的时间滑动窗口
// 淘汰基准是最新插入样本的时间戳：窗口内不会存在比它早 windowSize 以上的样本
type slidingWindow struct {
	size    time.Duration
	samples []models.RawSample
}

func newSlidingWindow(size time.Duration) *slidingWindow {
	return &slidingWindow{size: size}
}

// Add 追加样本并淘汰过期样本
func (w *slidingWindow) Add(sample models.RawSample) {
	w.samples = append(w.samples, sample)

	// 以窗口内最新时间戳为基准淘汰（乱序插入也成立）
	newest := w.samples[0].Timestamp
	for _, s := range w.samples {
		if s.Timestamp.After(newest) {
			newest = s.Timestamp
		}
	}
	cutoff := newest.Add(-w.size)

	kept := w.samples[:0]
	for _, s := range w.samples {
		if !s.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	w.samples = kept
}

// Len 当前窗口样本数
func (w *slidingWindow) Len() int {
	return len(w.samples)
}

// Latest 最近插入的样本值
func (w *slidingWindow) Latest() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	return w.samples[len(w.samples)-1].Value
}

// Stats 窗口内均值与总体标准差
func (w *slidingWindow) Stats() (mean, stddev float64) {
	n := float64(len(w.samples))
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, s := range w.samples {
		sum += s.Value
	}
	mean = sum / n

	var sqDiff float64
	for _, s := range w.samples {
		d := s.Value - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / n)

	return mean, stddev
}

// MinMax 窗口内最小/最大值
func (w *slidingWindow) MinMax() (min, max float64) {
	if len(w.samples) == 0 {
		return 0, 0
	}

	min, max = w.samples[0].Value, w.samples[0].Value
	for _, s := range w.samples[1:] {
		if s.Value < min {
			min = s.Value
		}
		if s.Value > max {
			max = s.Value
		}
	}
	return min, max
}
