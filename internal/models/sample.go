package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SensorType 生理传感器类型
type SensorType string

const (
	SensorHeartRate              SensorType = "heart_rate"
	SensorSpO2                   SensorType = "spo2"
	SensorBloodPressureSystolic  SensorType = "blood_pressure_systolic"
	SensorBloodPressureDiastolic SensorType = "blood_pressure_diastolic"
	SensorTemperature            SensorType = "temperature"
	SensorRespiratoryRate        SensorType = "respiratory_rate"
	SensorECG                    SensorType = "ecg"
	SensorGlucose                SensorType = "glucose"
)

// SampleMetadata 采样的信号质量元数据（全部可选）
type SampleMetadata struct {
	SignalStrength *float64 `json:"signal_strength,omitempty"` // 0-100
	BatteryLevel   *float64 `json:"battery_level,omitempty"`   // 0-100
	NoiseLevel     *float64 `json:"noise_level,omitempty"`     // 0-1
}

// RawSample 设备上报的单次测量值（接收后不可变）
type RawSample struct {
	SensorType SensorType      `json:"sensor_type"`
	Value      float64         `json:"value"`
	Unit       string          `json:"unit"`
	Timestamp  time.Time       `json:"timestamp"`
	Metadata   *SampleMetadata `json:"metadata,omitempty"`
}

// rawSamplePayload 数据通道的原始JSON格式（解析边界用，指针字段用于检测缺失）
type rawSamplePayload struct {
	SensorType *string         `json:"sensor_type"`
	Value      *float64        `json:"value"`
	Unit       *string         `json:"unit"`
	Timestamp  *time.Time      `json:"timestamp"`
	Metadata   *SampleMetadata `json:"metadata"`
}

// ParseRawSample 在解析边界校验数据通道载荷的结构
// sensor_type/value/unit 必填；timestamp 缺失时由调用方补接收时间
func ParseRawSample(payload []byte) (*RawSample, error) {
	var p rawSamplePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sample payload: %w", err)
	}

	if p.SensorType == nil || *p.SensorType == "" {
		return nil, fmt.Errorf("sample payload missing sensor_type")
	}
	if p.Value == nil {
		return nil, fmt.Errorf("sample payload missing value")
	}
	if p.Unit == nil || *p.Unit == "" {
		return nil, fmt.Errorf("sample payload missing unit")
	}

	sample := &RawSample{
		SensorType: SensorType(*p.SensorType),
		Value:      *p.Value,
		Unit:       *p.Unit,
		Metadata:   p.Metadata,
	}
	if p.Timestamp != nil {
		sample.Timestamp = *p.Timestamp
	}

	return sample, nil
}
