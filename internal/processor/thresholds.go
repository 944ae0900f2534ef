package processor

import (
	"sync"

	"wisefido-telemetry/internal/models"
)

// ThresholdTable 全局共享的报警阈值表
// 读远多于写；写操作整值替换，读方不会看到新旧边界混用的阈值带
type ThresholdTable struct {
	mu         sync.RWMutex
	thresholds map[models.SensorType]models.AlertThreshold
}

// NewThresholdTable 创建阈值表（载入出厂默认值）
func NewThresholdTable() *ThresholdTable {
	return &ThresholdTable{
		thresholds: models.DefaultAlertThresholds(),
	}
}

// Get 读取指定传感器类型的阈值带
func (t *ThresholdTable) Get(sensorType models.SensorType) (models.AlertThreshold, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	th, ok := t.thresholds[sensorType]
	return th, ok
}

// Update 更新指定传感器类型的阈值带（顺序不合法则拒绝）
func (t *ThresholdTable) Update(sensorType models.SensorType, threshold models.AlertThreshold) error {
	if err := threshold.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.thresholds[sensorType] = threshold
	return nil
}

// Snapshot 返回当前阈值表的副本
func (t *ThresholdTable) Snapshot() map[models.SensorType]models.AlertThreshold {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[models.SensorType]models.AlertThreshold, len(t.thresholds))
	for k, v := range t.thresholds {
		snapshot[k] = v
	}
	return snapshot
}
