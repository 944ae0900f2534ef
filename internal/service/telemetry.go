package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/broadcast"
	"wisefido-telemetry/internal/config"
	"wisefido-telemetry/internal/database"
	"wisefido-telemetry/internal/notifier"
	"wisefido-telemetry/internal/processor"
	"wisefido-telemetry/internal/registry"
	"wisefido-telemetry/internal/repository"
	"wisefido-telemetry/internal/transport"
)

// TelemetryService 遥测网关服务：装配连接注册表与遥测处理器
type TelemetryService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redis       *redis.Client
	deviceRepo  *repository.DeviceRepository
	broadcaster broadcast.Broadcaster
	processor   *processor.TelemetryProcessor
	registry    *registry.Registry
}

// NewTelemetryService 创建遥测网关服务
func NewTelemetryService(cfg *config.Config, logger *zap.Logger) (*TelemetryService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 广播层：Redis Pub/Sub，可选叠加 critical webhook
	var broadcaster broadcast.Broadcaster = broadcast.NewRedisBroadcaster(
		redisClient,
		cfg.Telemetry.ScopePrefix,
		cfg.Telemetry.CriticalStream,
		logger,
	)
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		webhook := notifier.NewWebhookNotifier(
			cfg.Webhook.URL,
			time.Duration(cfg.Webhook.TimeoutSec)*time.Second,
			logger,
		)
		broadcaster = broadcast.NewMultiBroadcaster(logger, broadcaster, webhook)
	}

	// 遥测处理器
	procCfg := processor.Config{
		EnableValidation:       cfg.Telemetry.EnableValidation,
		EnableAnomalyDetection: cfg.Telemetry.EnableAnomalyDetection,
		EnableAlertGeneration:  cfg.Telemetry.EnableAlertGeneration,
		WindowSize:             time.Duration(cfg.Telemetry.WindowSizeSeconds) * time.Second,
		MinSamplesForAnomaly:   cfg.Telemetry.MinSamplesForAnomaly,
		ZScoreThreshold:        cfg.Telemetry.ZScoreThreshold,
		MaxTimestampSkew:       time.Duration(cfg.Telemetry.MaxTimestampSkewSec) * time.Second,
	}
	proc := processor.NewTelemetryProcessor(procCfg, processor.NewThresholdTable(), broadcaster, logger)

	// 连接注册表
	regCfg := registry.Config{
		Namespace:            cfg.Telemetry.Namespace,
		QoS:                  cfg.MQTT.QoS,
		MaxReconnectAttempts: cfg.Telemetry.MaxReconnectAttempts,
		ReconnectBase:        time.Duration(cfg.Telemetry.ReconnectBaseMs) * time.Millisecond,
		ReconnectMax:         time.Duration(cfg.Telemetry.ReconnectMaxMs) * time.Millisecond,
		DefaultBroker:        cfg.MQTT.Broker,
		DefaultUsername:      cfg.MQTT.Username,
		DefaultPassword:      cfg.MQTT.Password,
	}
	reg := registry.NewRegistry(regCfg, proc, broadcaster, transport.NewMQTTClient, logger)

	deviceRepo := repository.NewDeviceRepository(db, logger)

	return &TelemetryService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redis:       redisClient,
		deviceRepo:  deviceRepo,
		broadcaster: broadcaster,
		processor:   proc,
		registry:    reg,
	}, nil
}

// Registry 连接注册表访问器
func (s *TelemetryService) Registry() *registry.Registry {
	return s.registry
}

// Processor 遥测处理器访问器
func (s *TelemetryService) Processor() *processor.TelemetryProcessor {
	return s.processor
}

// Start 启动服务：加载已供给设备并逐个建立连接
func (s *TelemetryService) Start(ctx context.Context) error {
	s.logger.Info("Starting telemetry service components")

	registrations, err := s.deviceRepo.ListEnabledDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load provisioned devices: %w", err)
	}

	for _, reg := range registrations {
		patientID := ""
		if reg.PatientID != nil {
			patientID = *reg.PatientID
		}
		if err := s.registry.Connect(reg.DeviceID, patientID, reg.Config()); err != nil {
			// 单台设备失败不影响其余设备
			s.logger.Error("Failed to connect provisioned device",
				zap.String("device_id", reg.DeviceID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Telemetry service started",
		zap.Int("provisioned_devices", len(registrations)),
	)
	return nil
}

// RemoveDevice 断开设备并清空其处理缓冲
// 注册表与处理器不共享生命周期，这里显式级联
func (s *TelemetryService) RemoveDevice(deviceID string) error {
	if err := s.registry.DisconnectDevice(deviceID); err != nil {
		return err
	}
	s.processor.ClearDeviceBuffer(deviceID)
	return nil
}

// Stop 停止服务
func (s *TelemetryService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping telemetry service")

	// 等待所有设备断开完成
	s.registry.DisconnectAll()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Error closing redis client", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database", zap.Error(err))
		}
	}

	s.logger.Info("Telemetry service stopped")
	return nil
}
