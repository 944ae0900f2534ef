package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"wisefido-telemetry/internal/models"
)

// DeviceRegistration 已供给设备的注册记录（注册持久化由REST层负责，这里只读）
type DeviceRegistration struct {
	DeviceID      string
	PatientID     *string // 弱引用：只是关联，不代表所有权
	Endpoint      string
	CredentialRef *string
	Enabled       bool
}

// Config 转为连接注册表可用的设备配置
func (d *DeviceRegistration) Config() models.DeviceConfig {
	cfg := models.DeviceConfig{
		Endpoint: d.Endpoint,
	}
	if d.CredentialRef != nil {
		cfg.CredentialRef = *d.CredentialRef
	}
	return cfg
}

// DeviceRepository 设备注册仓库
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备注册仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// ListEnabledDevices 读取所有启用监测的设备注册（网关启动时恢复连接用）
func (r *DeviceRepository) ListEnabledDevices(ctx context.Context) ([]DeviceRegistration, error) {
	query := `
		SELECT device_id, patient_id, endpoint, credential_ref, monitoring_enabled
		FROM monitored_devices
		WHERE monitoring_enabled = TRUE
		ORDER BY device_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceRegistration
	for rows.Next() {
		var reg DeviceRegistration
		var patientID, credentialRef sql.NullString

		if err := rows.Scan(
			&reg.DeviceID,
			&patientID,
			&reg.Endpoint,
			&credentialRef,
			&reg.Enabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device registration: %w", err)
		}

		if patientID.Valid {
			reg.PatientID = &patientID.String
		}
		if credentialRef.Valid {
			reg.CredentialRef = &credentialRef.String
		}

		devices = append(devices, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device registrations: %w", err)
	}

	return devices, nil
}

// GetDeviceRegistration 按设备ID查注册记录
func (r *DeviceRepository) GetDeviceRegistration(ctx context.Context, deviceID string) (*DeviceRegistration, error) {
	query := `
		SELECT device_id, patient_id, endpoint, credential_ref, monitoring_enabled
		FROM monitored_devices
		WHERE device_id = $1
	`

	var reg DeviceRegistration
	var patientID, credentialRef sql.NullString

	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&reg.DeviceID,
		&patientID,
		&reg.Endpoint,
		&credentialRef,
		&reg.Enabled,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", models.ErrDeviceNotFound, deviceID)
		}
		return nil, fmt.Errorf("failed to query device registration: %w", err)
	}

	if patientID.Valid {
		reg.PatientID = &patientID.String
	}
	if credentialRef.Valid {
		reg.CredentialRef = &credentialRef.String
	}

	return &reg, nil
}
