package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-telemetry/internal/models"
)

func TestThresholdTable_Defaults(t *testing.T) {
	table := NewThresholdTable()

	th, ok := table.Get(models.SensorHeartRate)
	require.True(t, ok)
	assert.Equal(t, 40.0, th.CriticalLow)
	assert.Equal(t, 50.0, th.WarningLow)
	assert.Equal(t, 120.0, th.WarningHigh)
	assert.Equal(t, 150.0, th.CriticalHigh)

	// 所有出厂默认值都必须通过自身校验（含 spo2 的 warningHigh == criticalHigh）
	for sensorType, defaults := range models.DefaultAlertThresholds() {
		assert.NoError(t, defaults.Validate(), "default threshold for %s", sensorType)
	}
}

func TestThresholdTable_UpdateRejectsInvalidOrdering(t *testing.T) {
	table := NewThresholdTable()

	// criticalLow >= warningLow
	err := table.Update(models.SensorHeartRate, models.AlertThreshold{
		CriticalLow: 50, WarningLow: 40, WarningHigh: 120, CriticalHigh: 150,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrThresholdInvalid)

	// warningHigh > criticalHigh
	err = table.Update(models.SensorHeartRate, models.AlertThreshold{
		CriticalLow: 40, WarningLow: 50, WarningHigh: 160, CriticalHigh: 150,
	})
	require.Error(t, err)

	// 拒绝后原值保持不变
	th, ok := table.Get(models.SensorHeartRate)
	require.True(t, ok)
	assert.Equal(t, 40.0, th.CriticalLow)
}

func TestThresholdTable_UpdateAndSnapshot(t *testing.T) {
	table := NewThresholdTable()

	err := table.Update(models.SensorGlucose, models.AlertThreshold{
		CriticalLow: 55, WarningLow: 75, WarningHigh: 170, CriticalHigh: 240,
	})
	require.NoError(t, err)

	th, ok := table.Get(models.SensorGlucose)
	require.True(t, ok)
	assert.Equal(t, 55.0, th.CriticalLow)

	// 快照是副本，修改快照不影响表
	snapshot := table.Snapshot()
	snapshot[models.SensorGlucose] = models.AlertThreshold{CriticalLow: 1, WarningLow: 2, WarningHigh: 3, CriticalHigh: 4}
	th, _ = table.Get(models.SensorGlucose)
	assert.Equal(t, 55.0, th.CriticalLow)
}
