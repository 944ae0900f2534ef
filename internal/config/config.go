package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig 设备传输层默认配置（设备注册未指定endpoint时使用）
type MQTTConfig struct {
	Broker   string
	Username string
	Password string
	QoS      byte
}

// Config 遥测网关配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 遥测管道特定配置
	Telemetry struct {
		Namespace string // 主题命名空间，如 "telemetry/{device_id}/data"

		// 连接注册表
		MaxReconnectAttempts int // 重连次数上限，默认 5
		ReconnectBaseMs      int // 退避基数（毫秒），默认 1000
		ReconnectMaxMs       int // 退避上限（毫秒），默认 30000

		// 处理管道
		EnableValidation       bool
		EnableAnomalyDetection bool
		EnableAlertGeneration  bool
		WindowSizeSeconds      int     // 滑动窗口时长（秒），默认 10
		MinSamplesForAnomaly   int     // 异常检测最小样本数，默认 10
		ZScoreThreshold        float64 // z-score 阈值，默认 3.0
		MaxTimestampSkewSec    int     // 时钟偏移/陈旧数据上限（秒），默认 60

		// 广播
		ScopePrefix    string // Redis 频道前缀，如 "telemetry:"
		CriticalStream string // critical 事件的持久化 Stream
	}

	// Webhook critical 事件回调（可选）
	Webhook struct {
		Enabled    bool
		URL        string
		TimeoutSec int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "telemetry")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	// 遥测管道配置
	cfg.Telemetry.Namespace = getEnv("TELEMETRY_NAMESPACE", "telemetry")
	cfg.Telemetry.MaxReconnectAttempts = getEnvInt("TELEMETRY_MAX_RECONNECT_ATTEMPTS", 5)
	cfg.Telemetry.ReconnectBaseMs = getEnvInt("TELEMETRY_RECONNECT_BASE_MS", 1000)
	cfg.Telemetry.ReconnectMaxMs = getEnvInt("TELEMETRY_RECONNECT_MAX_MS", 30000)
	cfg.Telemetry.EnableValidation = getEnvBool("TELEMETRY_ENABLE_VALIDATION", true)
	cfg.Telemetry.EnableAnomalyDetection = getEnvBool("TELEMETRY_ENABLE_ANOMALY_DETECTION", true)
	cfg.Telemetry.EnableAlertGeneration = getEnvBool("TELEMETRY_ENABLE_ALERT_GENERATION", true)
	cfg.Telemetry.WindowSizeSeconds = getEnvInt("TELEMETRY_WINDOW_SIZE_SECONDS", 10)
	cfg.Telemetry.MinSamplesForAnomaly = getEnvInt("TELEMETRY_MIN_SAMPLES_FOR_ANOMALY", 10)
	cfg.Telemetry.ZScoreThreshold = getEnvFloat("TELEMETRY_ZSCORE_THRESHOLD", 3.0)
	cfg.Telemetry.MaxTimestampSkewSec = getEnvInt("TELEMETRY_MAX_TIMESTAMP_SKEW_SEC", 60)
	cfg.Telemetry.ScopePrefix = getEnv("TELEMETRY_SCOPE_PREFIX", "telemetry:")
	cfg.Telemetry.CriticalStream = getEnv("TELEMETRY_CRITICAL_STREAM", "telemetry:critical:stream")

	cfg.Webhook.Enabled = getEnvBool("WEBHOOK_ENABLED", false)
	cfg.Webhook.URL = getEnv("WEBHOOK_URL", "")
	cfg.Webhook.TimeoutSec = getEnvInt("WEBHOOK_TIMEOUT_SEC", 10)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
