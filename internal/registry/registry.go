package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-telemetry/internal/broadcast"
	"wisefido-telemetry/internal/models"
	"wisefido-telemetry/internal/transport"
)

// 每设备订阅的三个逻辑通道 + 下行命令通道
const (
	channelData     = "data"
	channelStatus   = "status"
	channelAlerts   = "alerts"
	channelCommands = "commands"
)

// ReadingProcessor 遥测处理器依赖（nil 返回值表示样本被拒绝）
type ReadingProcessor interface {
	ProcessReading(ctx context.Context, deviceID, patientID string, sample models.RawSample) *models.ProcessedReading
}

// Config 连接注册表配置
type Config struct {
	Namespace            string        // 主题命名空间，如 "telemetry"
	QoS                  byte          // 订阅/发布 QoS
	MaxReconnectAttempts int           // 重连次数上限，默认 5
	ReconnectBase        time.Duration // 退避基数，默认 1s
	ReconnectMax         time.Duration // 退避上限，默认 30s
	DefaultBroker        string        // 设备配置未指定 endpoint 时的默认 broker
	DefaultUsername      string
	DefaultPassword      string
}

// DefaultConfig 默认注册表配置
func DefaultConfig() Config {
	return Config{
		Namespace:            "telemetry",
		QoS:                  1,
		MaxReconnectAttempts: 5,
		ReconnectBase:        time.Second,
		ReconnectMax:         30 * time.Second,
	}
}

// device 单设备连接记录（同设备操作经 mu 串行化，设备间互不阻塞）
type device struct {
	mu                sync.Mutex
	id                string
	patientID         string
	state             models.DeviceState
	lastSeenAt        time.Time
	config            models.DeviceConfig
	reconnectAttempts int
	transport         transport.Client
	reconnectTimer    *time.Timer
	closed            bool // 断开后置位；已调度的重连定时器触发时据此失效
	exhausted         bool // 终态通知只发一次
}

// commandPayload 下行命令载荷
type commandPayload struct {
	Command   string      `json:"command"`
	Params    interface{} `json:"params"`
	Timestamp string      `json:"timestamp"` // ISO8601
}

// Registry 连接注册表：管理所有设备的传输层连接生命周期
// 不理解传感器语义，数据通道载荷一律转交遥测处理器
type Registry struct {
	cfg          Config
	mu           sync.RWMutex
	devices      map[string]*device
	processor    ReadingProcessor
	broadcaster  broadcast.Broadcaster
	newTransport transport.Factory
	logger       *zap.Logger
}

// NewRegistry 创建连接注册表
func NewRegistry(cfg Config, proc ReadingProcessor, broadcaster broadcast.Broadcaster, factory transport.Factory, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:          cfg,
		devices:      make(map[string]*device),
		processor:    proc,
		broadcaster:  broadcaster,
		newTransport: factory,
		logger:       logger,
	}
}

// Connect 注册设备并建立传输层连接
// 同一 deviceID 重复注册是幂等 no-op（告警日志，不返回错误）
func (r *Registry) Connect(deviceID, patientID string, cfg models.DeviceConfig) error {
	r.mu.Lock()
	if _, exists := r.devices[deviceID]; exists {
		r.mu.Unlock()
		r.logger.Warn("Device already registered, connect ignored",
			zap.String("device_id", deviceID),
		)
		return nil
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = r.cfg.DefaultBroker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = deviceID
	}
	if cfg.Username == "" {
		cfg.Username = r.cfg.DefaultUsername
	}
	if cfg.Password == "" {
		cfg.Password = r.cfg.DefaultPassword
	}

	d := &device{
		id:         deviceID,
		patientID:  patientID,
		state:      models.DeviceConnecting,
		lastSeenAt: time.Now(),
		config:     cfg,
	}
	r.devices[deviceID] = d
	r.mu.Unlock()

	events := transport.Events{
		OnOpen:         func() { r.handleOpen(deviceID) },
		OnClose:        func(err error) { r.handleClose(deviceID, err) },
		OnError:        func(err error) { r.handleError(deviceID, err) },
		OnOffline:      func() { r.handleOffline(deviceID) },
		OnReconnecting: func() { r.handleReconnecting(deviceID) },
	}

	client, err := r.newTransport(transport.Options{
		Broker:   cfg.Endpoint,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
		Password: cfg.Password,
	}, events)
	if err != nil {
		r.mu.Lock()
		delete(r.devices, deviceID)
		r.mu.Unlock()
		return fmt.Errorf("failed to create transport for device %s: %w", deviceID, err)
	}

	d.mu.Lock()
	d.transport = client
	d.mu.Unlock()

	r.logger.Info("Device registered, opening transport",
		zap.String("device_id", deviceID),
		zap.String("patient_id", patientID),
	)
	r.notifyStatus(d)

	// 打开连接不阻塞调用方；成功路径由 OnOpen 回调推进
	go r.openTransport(deviceID)

	return nil
}

// openTransport 建立传输层连接，失败则进入退避重连
func (r *Registry) openTransport(deviceID string) {
	d := r.getDevice(deviceID)
	if d == nil {
		return
	}

	d.mu.Lock()
	t := d.transport
	closed := d.closed
	d.mu.Unlock()
	if closed || t == nil {
		return
	}

	if err := t.Connect(); err != nil {
		r.logger.Error("Failed to open device transport",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		d.mu.Lock()
		d.state = models.DeviceError
		r.scheduleReconnectLocked(d)
		d.mu.Unlock()
		r.notifyStatus(d)
	}
}

// handleOpen 连接建立：订阅 data/status/alerts 三个通道并转入 online
func (r *Registry) handleOpen(deviceID string) {
	d := r.getDevice(deviceID)
	if d == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	t := d.transport
	d.mu.Unlock()

	for _, suffix := range []string{channelData, channelStatus, channelAlerts} {
		topic := r.topic(deviceID, suffix)
		if err := t.Subscribe(topic, r.cfg.QoS, func(topic string, payload []byte) {
			r.handleMessage(deviceID, topic, payload)
		}); err != nil {
			r.logger.Error("Failed to subscribe device channel",
				zap.String("device_id", deviceID),
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}

	d.mu.Lock()
	d.state = models.DeviceOnline
	d.reconnectAttempts = 0
	d.exhausted = false
	d.lastSeenAt = time.Now()
	d.mu.Unlock()

	r.logger.Info("Device online", zap.String("device_id", deviceID))
	r.notifyStatus(d)
}

// handleMessage 按通道后缀路由入站消息
// 载荷解析失败只丢弃并记日志，绝不向上传播错误
func (r *Registry) handleMessage(deviceID, topic string, payload []byte) {
	d := r.getDevice(deviceID)
	if d == nil {
		return
	}

	parts := strings.Split(topic, "/")
	suffix := parts[len(parts)-1]

	switch suffix {
	case channelData:
		r.handleData(d, payload)
	case channelStatus:
		r.handleStatus(d, payload)
	case channelAlerts:
		r.handleAlert(d, payload)
	default:
		r.logger.Warn("Message on unknown channel dropped",
			zap.String("device_id", deviceID),
			zap.String("topic", topic),
		)
	}
}

// handleData 数据通道：解析后转交遥测处理器
func (r *Registry) handleData(d *device, payload []byte) {
	receivedAt := time.Now()

	sample, err := models.ParseRawSample(payload)
	if err != nil {
		r.logger.Warn("Malformed data payload dropped",
			zap.String("device_id", d.id),
			zap.Error(err),
		)
		return
	}
	// 设备未携带时间戳时记接收时间
	if sample.Timestamp.IsZero() {
		sample.Timestamp = receivedAt
	}

	d.mu.Lock()
	d.lastSeenAt = receivedAt
	patientID := d.patientID
	d.mu.Unlock()

	r.processor.ProcessReading(context.Background(), d.id, patientID, *sample)
}

// handleStatus 状态通道：刷新 lastSeenAt 并转发状态通知
func (r *Registry) handleStatus(d *device, payload []byte) {
	if !json.Valid(payload) {
		r.logger.Warn("Malformed status payload dropped",
			zap.String("device_id", d.id),
		)
		return
	}

	d.mu.Lock()
	d.lastSeenAt = time.Now()
	d.mu.Unlock()

	r.notifyStatus(d)
}

// handleAlert 报警通道：设备侧临床判断结果，绕过处理管道直达 critical 作用域
// 不做质量评分也不与阈值报警去重（设备本地逻辑按原样信任）
func (r *Registry) handleAlert(d *device, payload []byte) {
	if !json.Valid(payload) {
		r.logger.Warn("Malformed alert payload dropped",
			zap.String("device_id", d.id),
		)
		return
	}

	d.mu.Lock()
	patientID := d.patientID
	d.mu.Unlock()

	event := map[string]interface{}{
		"device_id":   d.id,
		"patient_id":  patientID,
		"alert":       json.RawMessage(payload),
		"received_at": time.Now(),
	}
	if err := r.broadcaster.Notify(context.Background(), broadcast.CriticalScope, "device_alert", event); err != nil {
		r.logger.Error("Failed to forward device alert",
			zap.String("device_id", d.id),
			zap.Error(err),
		)
	}
}

// handleError 传输层错误：转入 error 并调度重连
func (r *Registry) handleError(deviceID string, err error) {
	d := r.getDevice(deviceID)
	if d == nil {
		return
	}

	r.logger.Error("Device transport error",
		zap.String("device_id", deviceID),
		zap.Error(err),
	)

	d.mu.Lock()
	d.state = models.DeviceError
	r.scheduleReconnectLocked(d)
	d.mu.Unlock()
	r.notifyStatus(d)
}

// handleClose 连接断开：转入 offline 并调度重连
func (r *Registry) handleClose(deviceID string, err error) {
	d := r.getDevice(deviceID)
	if d == nil {
		return
	}

	r.logger.Warn("Device connection closed",
		zap.String("device_id", deviceID),
		zap.Error(err),
	)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.state = models.DeviceOffline
	r.scheduleReconnectLocked(d)
	d.mu.Unlock()
	r.notifyStatus(d)
}

// handleOffline 设备离线事件：只更新状态，重连由 close/error 路径调度
func (r *Registry) handleOffline(deviceID string) {
	d := r.getDevice(deviceID)
	if d == nil {
		return
	}

	d.mu.Lock()
	d.state = models.DeviceOffline
	d.mu.Unlock()
	r.notifyStatus(d)
}

// handleReconnecting 传输层开始重连
func (r *Registry) handleReconnecting(deviceID string) {
	d := r.getDevice(deviceID)
	if d == nil {
		return
	}

	d.mu.Lock()
	d.state = models.DeviceReconnecting
	d.mu.Unlock()
	r.notifyStatus(d)
}

// scheduleReconnectLocked 调度一次退避重连（须持有 d.mu）
// 次数耗尽时转入终态并只发一次 reconnect_failed 通知
func (r *Registry) scheduleReconnectLocked(d *device) {
	if d.closed || d.reconnectTimer != nil {
		return
	}

	if d.reconnectAttempts >= r.cfg.MaxReconnectAttempts {
		if !d.exhausted {
			d.exhausted = true
			d.state = models.DeviceDisconnected
			r.logger.Error("Reconnect attempts exhausted, giving up",
				zap.String("device_id", d.id),
				zap.Int("attempts", d.reconnectAttempts),
			)
			r.notifyEvent(d.id, d.patientID, "reconnect_failed", map[string]interface{}{
				"device_id": d.id,
				"attempts":  r.cfg.MaxReconnectAttempts,
				"error":     models.ErrReconnectExhausted.Error(),
			})
		}
		return
	}

	delay := r.backoffDelay(d.reconnectAttempts)
	d.reconnectAttempts++
	deviceID := d.id

	d.reconnectTimer = time.AfterFunc(delay, func() {
		r.attemptReconnect(deviceID)
	})

	r.logger.Info("Reconnect scheduled",
		zap.String("device_id", deviceID),
		zap.Int("attempt", d.reconnectAttempts),
		zap.Duration("delay", delay),
	)
}

// backoffDelay 指数退避：min(base * 2^attempts, max)
func (r *Registry) backoffDelay(attempts int) time.Duration {
	delay := r.cfg.ReconnectBase << uint(attempts)
	if delay > r.cfg.ReconnectMax || delay <= 0 {
		delay = r.cfg.ReconnectMax
	}
	return delay
}

// attemptReconnect 定时器触发的重连尝试
// 设备已被断开时定时器必须是 no-op
func (r *Registry) attemptReconnect(deviceID string) {
	d := r.getDevice(deviceID)
	if d == nil {
		return
	}

	d.mu.Lock()
	d.reconnectTimer = nil
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.state = models.DeviceReconnecting
	t := d.transport
	d.mu.Unlock()
	r.notifyStatus(d)

	if err := t.Connect(); err != nil {
		r.logger.Warn("Reconnect attempt failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		d.mu.Lock()
		d.state = models.DeviceError
		r.scheduleReconnectLocked(d)
		d.mu.Unlock()
	}
}

// PublishCommand 向设备命令通道下发命令
func (r *Registry) PublishCommand(deviceID, command string, params interface{}) error {
	d := r.getDevice(deviceID)
	if d == nil {
		return fmt.Errorf("%w: %s", models.ErrDeviceNotFound, deviceID)
	}

	d.mu.Lock()
	state := d.state
	t := d.transport
	d.mu.Unlock()

	if state != models.DeviceOnline {
		return fmt.Errorf("%w: %s (state=%s)", models.ErrDeviceNotOnline, deviceID, state)
	}

	payload, err := json.Marshal(commandPayload{
		Command:   command,
		Params:    params,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	if err := t.Publish(r.topic(deviceID, channelCommands), r.cfg.QoS, false, payload); err != nil {
		return fmt.Errorf("failed to publish command to device %s: %w", deviceID, err)
	}

	r.logger.Info("Command published",
		zap.String("device_id", deviceID),
		zap.String("command", command),
	)
	return nil
}

// UpdateDeviceConfig 合并设备配置并通知物理设备
// 配置已合并但设备通知失败时，错误告知调用方部分失败
func (r *Registry) UpdateDeviceConfig(deviceID string, partial models.DeviceConfig) error {
	d := r.getDevice(deviceID)
	if d == nil {
		return fmt.Errorf("%w: %s", models.ErrDeviceNotFound, deviceID)
	}

	d.mu.Lock()
	changed := d.config.Merge(partial)
	d.mu.Unlock()

	r.logger.Info("Device config updated",
		zap.String("device_id", deviceID),
		zap.Strings("changed_fields", changed),
	)

	if err := r.PublishCommand(deviceID, "updateConfig", partial); err != nil {
		return fmt.Errorf("config merged but device not notified: %w", err)
	}
	return nil
}

// DisconnectDevice 断开并移除设备（幂等：未注册时 no-op + 告警日志）
func (r *Registry) DisconnectDevice(deviceID string) error {
	r.mu.Lock()
	d, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("Disconnect for unregistered device ignored",
			zap.String("device_id", deviceID),
		)
		return nil
	}
	delete(r.devices, deviceID)
	r.mu.Unlock()

	d.mu.Lock()
	d.closed = true
	if d.reconnectTimer != nil {
		d.reconnectTimer.Stop()
		d.reconnectTimer = nil
	}
	d.state = models.DeviceDisconnected
	t := d.transport
	d.mu.Unlock()

	if t != nil {
		if t.IsConnected() {
			if err := t.Unsubscribe(
				r.topic(deviceID, channelData),
				r.topic(deviceID, channelStatus),
				r.topic(deviceID, channelAlerts),
			); err != nil {
				r.logger.Warn("Failed to unsubscribe device channels",
					zap.String("device_id", deviceID),
					zap.Error(err),
				)
			}
		}
		t.Disconnect()
	}

	r.logger.Info("Device disconnected", zap.String("device_id", deviceID))
	r.notifyStatus(d)
	return nil
}

// DisconnectAll 并发断开所有设备，全部完成后返回（仅进程关停时使用）
func (r *Registry) DisconnectAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(deviceID string) {
			defer wg.Done()
			if err := r.DisconnectDevice(deviceID); err != nil {
				r.logger.Error("Failed to disconnect device",
					zap.String("device_id", deviceID),
					zap.Error(err),
				)
			}
		}(id)
	}
	wg.Wait()

	r.logger.Info("All devices disconnected", zap.Int("count", len(ids)))
}

// GetDeviceStatus 设备状态快照
func (r *Registry) GetDeviceStatus(deviceID string) (*models.DeviceStatus, error) {
	d := r.getDevice(deviceID)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrDeviceNotFound, deviceID)
	}
	status := d.snapshot()
	return &status, nil
}

// GetConnectedDevices 当前在线设备ID列表
func (r *Registry) GetConnectedDevices() []string {
	r.mu.RLock()
	devices := make([]*device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	var ids []string
	for _, d := range devices {
		d.mu.Lock()
		if d.state == models.DeviceOnline {
			ids = append(ids, d.id)
		}
		d.mu.Unlock()
	}
	return ids
}

// GetDevicesByPatient 指定患者关联的全部注册设备（不论连接状态）
func (r *Registry) GetDevicesByPatient(patientID string) []string {
	r.mu.RLock()
	devices := make([]*device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	var ids []string
	for _, d := range devices {
		d.mu.Lock()
		if d.patientID == patientID {
			ids = append(ids, d.id)
		}
		d.mu.Unlock()
	}
	return ids
}

// GetDeviceMetrics 设备运行指标
func (r *Registry) GetDeviceMetrics(deviceID string) (*models.DeviceMetrics, error) {
	d := r.getDevice(deviceID)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrDeviceNotFound, deviceID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return &models.DeviceMetrics{
		DeviceID:          d.id,
		State:             d.state,
		LastSeenAt:        d.lastSeenAt,
		UptimeSeconds:     time.Since(d.lastSeenAt).Seconds(),
		ReconnectAttempts: d.reconnectAttempts,
	}, nil
}

// getDevice 按ID查设备，不存在返回 nil
func (r *Registry) getDevice(deviceID string) *device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[deviceID]
}

// topic 设备通道主题：<namespace>/<deviceId>/<channel>
func (r *Registry) topic(deviceID, suffix string) string {
	return r.cfg.Namespace + "/" + deviceID + "/" + suffix
}

// snapshot 设备状态快照（加锁复制）
func (d *device) snapshot() models.DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return models.DeviceStatus{
		DeviceID:          d.id,
		PatientID:         d.patientID,
		State:             d.state,
		LastSeenAt:        d.lastSeenAt,
		ReconnectAttempts: d.reconnectAttempts,
	}
}

// notifyStatus 向设备与患者作用域广播状态变更
func (r *Registry) notifyStatus(d *device) {
	status := d.snapshot()
	r.notifyEvent(status.DeviceID, status.PatientID, "device_status", status)
}

// notifyEvent 广播事件；失败只记日志
func (r *Registry) notifyEvent(deviceID, patientID, event string, payload interface{}) {
	ctx := context.Background()
	if err := r.broadcaster.Notify(ctx, broadcast.DeviceScope(deviceID), event, payload); err != nil {
		r.logger.Error("Failed to broadcast device event",
			zap.String("device_id", deviceID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
	if patientID != "" {
		if err := r.broadcaster.Notify(ctx, broadcast.PatientScope(patientID), event, payload); err != nil {
			r.logger.Error("Failed to broadcast patient event",
				zap.String("patient_id", patientID),
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}
}
