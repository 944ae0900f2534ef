package models

import "fmt"

// AlertThreshold 单个传感器类型的报警阈值带
// 约束：criticalLow < warningLow < warningHigh <= criticalHigh
// （spo2 的出厂默认 warningHigh == criticalHigh == 100，因此高侧允许相等）
type AlertThreshold struct {
	CriticalLow  float64 `json:"critical_low"`
	WarningLow   float64 `json:"warning_low"`
	WarningHigh  float64 `json:"warning_high"`
	CriticalHigh float64 `json:"critical_high"`
}

// Validate 校验阈值带顺序
func (t AlertThreshold) Validate() error {
	if !(t.CriticalLow < t.WarningLow && t.WarningLow < t.WarningHigh && t.WarningHigh <= t.CriticalHigh) {
		return fmt.Errorf("%w: got %.2f/%.2f/%.2f/%.2f", ErrThresholdInvalid,
			t.CriticalLow, t.WarningLow, t.WarningHigh, t.CriticalHigh)
	}
	return nil
}

// DefaultAlertThresholds 出厂默认阈值表（critical_low/warning_low/warning_high/critical_high）
func DefaultAlertThresholds() map[SensorType]AlertThreshold {
	return map[SensorType]AlertThreshold{
		SensorHeartRate:              {CriticalLow: 40, WarningLow: 50, WarningHigh: 120, CriticalHigh: 150},
		SensorSpO2:                   {CriticalLow: 85, WarningLow: 90, WarningHigh: 100, CriticalHigh: 100},
		SensorBloodPressureSystolic:  {CriticalLow: 80, WarningLow: 90, WarningHigh: 140, CriticalHigh: 180},
		SensorBloodPressureDiastolic: {CriticalLow: 50, WarningLow: 60, WarningHigh: 90, CriticalHigh: 110},
		SensorTemperature:            {CriticalLow: 35.0, WarningLow: 36.0, WarningHigh: 38.0, CriticalHigh: 39.5},
		SensorRespiratoryRate:        {CriticalLow: 8, WarningLow: 12, WarningHigh: 20, CriticalHigh: 30},
		SensorECG:                    {CriticalLow: 40, WarningLow: 50, WarningHigh: 120, CriticalHigh: 150},
		SensorGlucose:                {CriticalLow: 50, WarningLow: 70, WarningHigh: 180, CriticalHigh: 250},
	}
}
