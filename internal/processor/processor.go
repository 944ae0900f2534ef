package processor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-telemetry/internal/broadcast"
	"wisefido-telemetry/internal/models"
)

// 异常分数历史保留条数（每设备）
const anomalyHistorySize = 100

// Config 处理管道配置（构造时固定，可通过 SetConfig 显式替换）
type Config struct {
	EnableValidation       bool
	EnableAnomalyDetection bool
	EnableAlertGeneration  bool
	WindowSize             time.Duration // 滑动窗口时长，默认 10s
	MinSamplesForAnomaly   int           // 异常检测最小样本数，默认 10
	ZScoreThreshold        float64       // z-score 阈值，默认 3.0
	MaxTimestampSkew       time.Duration // 时钟偏移/陈旧数据上限，默认 60s
}

// DefaultConfig 默认管道配置
func DefaultConfig() Config {
	return Config{
		EnableValidation:       true,
		EnableAnomalyDetection: true,
		EnableAlertGeneration:  true,
		WindowSize:             10 * time.Second,
		MinSamplesForAnomaly:   10,
		ZScoreThreshold:        3.0,
		MaxTimestampSkew:       60 * time.Second,
	}
}

// deviceBuffers 单设备的窗口与异常历史（设备间互不阻塞）
type deviceBuffers struct {
	mu            sync.Mutex
	windows       map[models.SensorType]*slidingWindow
	anomalyScores []float64
}

// TelemetryProcessor 遥测处理管道
// 纯管道，不持有传输层状态；缓冲按设备分片加锁
type TelemetryProcessor struct {
	mu          sync.RWMutex // 保护 cfg 与 buffers 映射
	cfg         Config
	buffers     map[string]*deviceBuffers
	thresholds  *ThresholdTable
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
}

// NewTelemetryProcessor 创建遥测处理器
func NewTelemetryProcessor(cfg Config, thresholds *ThresholdTable, broadcaster broadcast.Broadcaster, logger *zap.Logger) *TelemetryProcessor {
	return &TelemetryProcessor{
		cfg:         cfg,
		buffers:     make(map[string]*deviceBuffers),
		thresholds:  thresholds,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// SetConfig 替换管道配置
func (p *TelemetryProcessor) SetConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// UpdateAlertThresholds 更新指定传感器类型的报警阈值
// 对下一次 ProcessReading 立即可见
func (p *TelemetryProcessor) UpdateAlertThresholds(sensorType models.SensorType, threshold models.AlertThreshold) error {
	return p.thresholds.Update(sensorType, threshold)
}

// ProcessReading 处理单次采样
// 返回 nil 表示样本被拒绝（校验失败或处理异常）；拒绝不是错误，管道继续
func (p *TelemetryProcessor) ProcessReading(ctx context.Context, deviceID, patientID string, sample models.RawSample) (reading *models.ProcessedReading) {
	// 任何处理异常只丢弃当前样本，绝不中断后续样本
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while processing reading",
				zap.String("device_id", deviceID),
				zap.String("sensor_type", string(sample.SensorType)),
				zap.Any("panic", r),
			)
			reading = nil
		}
	}()

	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	// 1. 结构/量程/时效校验
	if cfg.EnableValidation {
		if err := p.validate(cfg, sample); err != nil {
			p.logger.Warn("Sample rejected by validation",
				zap.String("device_id", deviceID),
				zap.String("sensor_type", string(sample.SensorType)),
				zap.Float64("value", sample.Value),
				zap.Error(err),
			)
			return nil
		}
	}

	buffers := p.deviceBuffers(deviceID)
	buffers.mu.Lock()

	// 2. 写入滑动窗口
	window, ok := buffers.windows[sample.SensorType]
	if !ok {
		window = newSlidingWindow(cfg.WindowSize)
		buffers.windows[sample.SensorType] = window
	}
	window.Add(sample)

	// 4. 异常检测（窗口含当前样本；样本不足时记 0 分）
	var isAnomaly bool
	var anomalyScore float64
	if cfg.EnableAnomalyDetection && window.Len() >= cfg.MinSamplesForAnomaly {
		mean, stddev := window.Stats()
		if stddev > 0 {
			anomalyScore = math.Abs(sample.Value-mean) / stddev
			isAnomaly = anomalyScore > cfg.ZScoreThreshold
		}
		buffers.anomalyScores = append(buffers.anomalyScores, anomalyScore)
		if len(buffers.anomalyScores) > anomalyHistorySize {
			buffers.anomalyScores = buffers.anomalyScores[len(buffers.anomalyScores)-anomalyHistorySize:]
		}
	}
	buffers.mu.Unlock()

	reading = &models.ProcessedReading{
		DeviceID:     deviceID,
		PatientID:    patientID,
		SensorType:   sample.SensorType,
		Value:        sample.Value,
		Unit:         sample.Unit,
		Timestamp:    sample.Timestamp,
		Metadata:     sample.Metadata,
		ProcessedAt:  time.Now(),
		QualityScore: qualityScore(sample.Metadata), // 3. 质量评分
		IsAnomaly:    isAnomaly,
		AnomalyScore: anomalyScore,
	}

	// 5. 阈值报警（只看当前值，不看统计窗口）
	if cfg.EnableAlertGeneration {
		if alert := p.evaluateAlert(sample); alert != nil {
			reading.Alerts = append(reading.Alerts, *alert)
		}
	}

	// 6. 广播：设备/患者作用域，critical 报警额外进全局 critical 作用域
	p.fanOut(ctx, reading)

	return reading
}

// validate 结构、量程与时效校验
func (p *TelemetryProcessor) validate(cfg Config, sample models.RawSample) error {
	if sample.SensorType == "" {
		return fmt.Errorf("missing sensor_type")
	}
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("value is not a finite number")
	}
	if sample.Unit == "" {
		return fmt.Errorf("missing unit")
	}
	if sample.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}

	// 粗大误差过滤：物理可能范围以阈值带为基准放宽，与临床报警区分
	if th, ok := p.thresholds.Get(sample.SensorType); ok {
		physicalLow := th.CriticalLow * 0.5
		physicalHigh := th.CriticalHigh * 2.0
		if sample.Value < physicalLow || sample.Value > physicalHigh {
			return fmt.Errorf("value %.2f outside physical range [%.2f, %.2f]",
				sample.Value, physicalLow, physicalHigh)
		}
	}

	// 时钟偏移/陈旧数据保护
	if skew := time.Since(sample.Timestamp); skew > cfg.MaxTimestampSkew || skew < -cfg.MaxTimestampSkew {
		return fmt.Errorf("timestamp skew %v exceeds %v", skew, cfg.MaxTimestampSkew)
	}

	return nil
}

// qualityScore 信号质量启发式评分（独立扣分制，下限0上限1）
func qualityScore(md *models.SampleMetadata) float64 {
	score := 1.0

	if md == nil || md.SignalStrength == nil {
		score -= 0.1
	} else if *md.SignalStrength < 50 {
		score -= 0.2
	}

	if md == nil || md.BatteryLevel == nil {
		score -= 0.05
	} else if *md.BatteryLevel < 20 {
		score -= 0.15
	}

	if md != nil && md.NoiseLevel != nil && *md.NoiseLevel > 0.3 {
		score -= 0.2
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// evaluateAlert 阈值带评估：critical 先于 warning，每样本至多一条报警
func (p *TelemetryProcessor) evaluateAlert(sample models.RawSample) *models.Alert {
	th, ok := p.thresholds.Get(sample.SensorType)
	if !ok {
		return nil
	}

	switch {
	case sample.Value <= th.CriticalLow:
		return &models.Alert{
			Level:         models.AlertLevelCritical,
			ThresholdType: models.ThresholdCriticalLow,
			Message: fmt.Sprintf("%s value %.1f at or below critical low %.1f",
				sample.SensorType, sample.Value, th.CriticalLow),
		}
	case sample.Value >= th.CriticalHigh:
		return &models.Alert{
			Level:         models.AlertLevelCritical,
			ThresholdType: models.ThresholdCriticalHigh,
			Message: fmt.Sprintf("%s value %.1f at or above critical high %.1f",
				sample.SensorType, sample.Value, th.CriticalHigh),
		}
	case sample.Value <= th.WarningLow:
		return &models.Alert{
			Level:         models.AlertLevelWarning,
			ThresholdType: models.ThresholdWarningLow,
			Message: fmt.Sprintf("%s value %.1f at or below warning low %.1f",
				sample.SensorType, sample.Value, th.WarningLow),
		}
	case sample.Value >= th.WarningHigh:
		return &models.Alert{
			Level:         models.AlertLevelWarning,
			ThresholdType: models.ThresholdWarningHigh,
			Message: fmt.Sprintf("%s value %.1f at or above warning high %.1f",
				sample.SensorType, sample.Value, th.WarningHigh),
		}
	}
	return nil
}

// fanOut 广播处理结果；广播失败只记日志，不影响返回值
func (p *TelemetryProcessor) fanOut(ctx context.Context, reading *models.ProcessedReading) {
	if err := p.broadcaster.Notify(ctx, broadcast.DeviceScope(reading.DeviceID), "telemetry_reading", reading); err != nil {
		p.logger.Error("Failed to broadcast reading to device scope",
			zap.String("device_id", reading.DeviceID),
			zap.Error(err),
		)
	}

	if reading.PatientID != "" {
		if err := p.broadcaster.Notify(ctx, broadcast.PatientScope(reading.PatientID), "telemetry_reading", reading); err != nil {
			p.logger.Error("Failed to broadcast reading to patient scope",
				zap.String("patient_id", reading.PatientID),
				zap.Error(err),
			)
		}
	}

	if reading.HasCriticalAlert() {
		if err := p.broadcaster.Notify(ctx, broadcast.CriticalScope, "critical_alert", reading); err != nil {
			p.logger.Error("Failed to broadcast critical alert",
				zap.String("device_id", reading.DeviceID),
				zap.Error(err),
			)
		}
	}
}

// SensorStatistics 单传感器类型在当前窗口内的统计
type SensorStatistics struct {
	Count  int     `json:"count"`
	Latest float64 `json:"latest"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// DeviceStatistics 设备诊断统计
type DeviceStatistics struct {
	DeviceID            string                                 `json:"device_id"`
	Sensors             map[models.SensorType]SensorStatistics `json:"sensors"`
	RecentAnomalyScores []float64                              `json:"recent_anomaly_scores"`
}

// GetDeviceStatistics 按传感器类型汇总当前窗口统计与近期异常分数
func (p *TelemetryProcessor) GetDeviceStatistics(deviceID string) *DeviceStatistics {
	stats := &DeviceStatistics{
		DeviceID: deviceID,
		Sensors:  make(map[models.SensorType]SensorStatistics),
	}

	p.mu.RLock()
	buffers, ok := p.buffers[deviceID]
	p.mu.RUnlock()
	if !ok {
		return stats
	}

	buffers.mu.Lock()
	defer buffers.mu.Unlock()

	for sensorType, window := range buffers.windows {
		if window.Len() == 0 {
			continue
		}
		mean, _ := window.Stats()
		min, max := window.MinMax()
		stats.Sensors[sensorType] = SensorStatistics{
			Count:  window.Len(),
			Latest: window.Latest(),
			Mean:   mean,
			Min:    min,
			Max:    max,
		}
	}

	stats.RecentAnomalyScores = append(stats.RecentAnomalyScores, buffers.anomalyScores...)
	return stats
}

// ClearDeviceBuffer 清空设备的窗口与异常历史
// 设备移除时由服务层显式调用：注册表与处理器不共享生命周期
func (p *TelemetryProcessor) ClearDeviceBuffer(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.buffers, deviceID)

	p.logger.Debug("Device buffer cleared", zap.String("device_id", deviceID))
}

// deviceBuffers 取或建设备缓冲
func (p *TelemetryProcessor) deviceBuffers(deviceID string) *deviceBuffers {
	p.mu.RLock()
	buffers, ok := p.buffers[deviceID]
	p.mu.RUnlock()
	if ok {
		return buffers
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if buffers, ok = p.buffers[deviceID]; ok {
		return buffers
	}
	buffers = &deviceBuffers{windows: make(map[models.SensorType]*slidingWindow)}
	p.buffers[deviceID] = buffers
	return buffers
}
