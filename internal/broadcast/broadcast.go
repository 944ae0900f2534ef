package broadcast

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// 广播作用域（命名受众）
const (
	// CriticalScope 全局 critical 广播作用域
	CriticalScope = "critical"
)

// DeviceScope 设备作用域名
func DeviceScope(deviceID string) string {
	return "device:" + deviceID
}

// PatientScope 患者作用域名
func PatientScope(patientID string) string {
	return "patient:" + patientID
}

// Envelope 广播事件信封
type Envelope struct {
	EventID   string      `json:"event_id"`
	Scope     string      `json:"scope"`
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Broadcaster 发布/订阅广播层接口
// 连接注册表和遥测处理器只依赖此接口，便于用记录桩测试
type Broadcaster interface {
	Notify(ctx context.Context, scope string, event string, payload interface{}) error
}

// MultiBroadcaster 组合多个广播目标（Redis + Webhook 等）
// 单个目标失败只记日志，不向调用方传播
type MultiBroadcaster struct {
	sinks  []Broadcaster
	logger *zap.Logger
}

// NewMultiBroadcaster 创建组合广播器
func NewMultiBroadcaster(logger *zap.Logger, sinks ...Broadcaster) *MultiBroadcaster {
	return &MultiBroadcaster{
		sinks:  sinks,
		logger: logger,
	}
}

// Notify 向所有目标广播
func (m *MultiBroadcaster) Notify(ctx context.Context, scope string, event string, payload interface{}) error {
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, scope, event, payload); err != nil {
			m.logger.Error("Broadcast sink failed",
				zap.String("scope", scope),
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}
	return nil
}
