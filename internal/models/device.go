package models

import "time"

// DeviceState 设备连接状态
type DeviceState string

const (
	DeviceDisconnected DeviceState = "disconnected"
	DeviceConnecting   DeviceState = "connecting"
	DeviceOnline       DeviceState = "online"
	DeviceReconnecting DeviceState = "reconnecting"
	DeviceOffline      DeviceState = "offline"
	DeviceError        DeviceState = "error"
)

// DeviceConfig 设备传输层配置（对注册表不透明，仅透传给传输层）
type DeviceConfig struct {
	Endpoint      string `json:"endpoint,omitempty"`       // MQTT broker 地址，如 "tcp://host:1883"
	ClientID      string `json:"client_id,omitempty"`      // MQTT 客户端ID（默认为设备ID）
	CredentialRef string `json:"credential_ref,omitempty"` // 凭证引用（由外部供给系统解析）
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
}

// Merge 合并部分配置，只覆盖非空字段，返回实际变更的字段名
func (c *DeviceConfig) Merge(partial DeviceConfig) []string {
	var changed []string
	if partial.Endpoint != "" && partial.Endpoint != c.Endpoint {
		c.Endpoint = partial.Endpoint
		changed = append(changed, "endpoint")
	}
	if partial.ClientID != "" && partial.ClientID != c.ClientID {
		c.ClientID = partial.ClientID
		changed = append(changed, "client_id")
	}
	if partial.CredentialRef != "" && partial.CredentialRef != c.CredentialRef {
		c.CredentialRef = partial.CredentialRef
		changed = append(changed, "credential_ref")
	}
	if partial.Username != "" && partial.Username != c.Username {
		c.Username = partial.Username
		changed = append(changed, "username")
	}
	if partial.Password != "" && partial.Password != c.Password {
		c.Password = partial.Password
		changed = append(changed, "password")
	}
	return changed
}

// DeviceStatus 设备状态快照（只读访问器返回值）
type DeviceStatus struct {
	DeviceID          string      `json:"device_id"`
	PatientID         string      `json:"patient_id,omitempty"`
	State             DeviceState `json:"state"`
	LastSeenAt        time.Time   `json:"last_seen_at"`
	ReconnectAttempts int         `json:"reconnect_attempts"`
}

// DeviceMetrics 设备运行指标
type DeviceMetrics struct {
	DeviceID          string      `json:"device_id"`
	State             DeviceState `json:"state"`
	LastSeenAt        time.Time   `json:"last_seen_at"`
	UptimeSeconds     float64     `json:"uptime_seconds"` // 自 last_seen_at 起算
	ReconnectAttempts int         `json:"reconnect_attempts"`
}
