package models

import "time"

// AlertLevel 报警级别
type AlertLevel string

const (
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelWarning  AlertLevel = "warning"
)

// ThresholdType 触发报警的阈值边界
type ThresholdType string

const (
	ThresholdCriticalLow  ThresholdType = "criticalLow"
	ThresholdCriticalHigh ThresholdType = "criticalHigh"
	ThresholdWarningLow   ThresholdType = "warningLow"
	ThresholdWarningHigh  ThresholdType = "warningHigh"
)

// Alert 单次采样触发的阈值报警
type Alert struct {
	Level         AlertLevel    `json:"level"`
	Message       string        `json:"message"`
	ThresholdType ThresholdType `json:"threshold_type"`
}

// ProcessedReading 处理后的遥测读数（构造后不可变，不落库）
type ProcessedReading struct {
	DeviceID     string          `json:"device_id"`
	PatientID    string          `json:"patient_id,omitempty"`
	SensorType   SensorType      `json:"sensor_type"`
	Value        float64         `json:"value"`
	Unit         string          `json:"unit"`
	Timestamp    time.Time       `json:"timestamp"`
	Metadata     *SampleMetadata `json:"metadata,omitempty"`
	ProcessedAt  time.Time       `json:"processed_at"`
	QualityScore float64         `json:"quality_score"` // 0.0-1.0
	IsAnomaly    bool            `json:"is_anomaly"`
	AnomalyScore float64         `json:"anomaly_score"` // z-score 幅值
	Alerts       []Alert         `json:"alerts"`
}

// HasCriticalAlert 是否包含 critical 级别报警
func (r *ProcessedReading) HasCriticalAlert() bool {
	for _, a := range r.Alerts {
		if a.Level == AlertLevelCritical {
			return true
		}
	}
	return false
}
