package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertThresholdValidate(t *testing.T) {
	valid := AlertThreshold{CriticalLow: 40, WarningLow: 50, WarningHigh: 120, CriticalHigh: 150}
	require.NoError(t, valid.Validate())

	// 高侧允许相等（spo2 默认 warningHigh == criticalHigh == 100）
	spo2 := AlertThreshold{CriticalLow: 85, WarningLow: 90, WarningHigh: 100, CriticalHigh: 100}
	require.NoError(t, spo2.Validate())

	tests := []struct {
		name      string
		threshold AlertThreshold
	}{
		{"critical_low above warning_low", AlertThreshold{CriticalLow: 55, WarningLow: 50, WarningHigh: 120, CriticalHigh: 150}},
		{"warning_low equals warning_high", AlertThreshold{CriticalLow: 40, WarningLow: 120, WarningHigh: 120, CriticalHigh: 150}},
		{"warning_high above critical_high", AlertThreshold{CriticalLow: 40, WarningLow: 50, WarningHigh: 160, CriticalHigh: 150}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.threshold.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrThresholdInvalid)
		})
	}
}

func TestDefaultAlertThresholds_AllValid(t *testing.T) {
	defaults := DefaultAlertThresholds()
	require.Len(t, defaults, 8)

	for sensorType, threshold := range defaults {
		assert.NoError(t, threshold.Validate(), "default threshold for %s should be valid", sensorType)
	}
}
