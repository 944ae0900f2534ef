package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-telemetry/internal/models"
)

func setupMockDeviceDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *DeviceRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewDeviceRepository(db, logger)

	return db, mock, repo
}

func TestListEnabledDevices_Success(t *testing.T) {
	db, mock, repo := setupMockDeviceDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"device_id", "patient_id", "endpoint", "credential_ref", "monitoring_enabled",
	}).
		AddRow("dev-001", "patient-1", "tcp://broker-a:1883", "cred-001", true).
		AddRow("dev-002", nil, "tcp://broker-b:1883", nil, true)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	devices, err := repo.ListEnabledDevices(context.Background())

	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "dev-001", devices[0].DeviceID)
	require.NotNil(t, devices[0].PatientID)
	assert.Equal(t, "patient-1", *devices[0].PatientID)
	assert.Equal(t, "tcp://broker-a:1883", devices[0].Endpoint)

	// 可空字段正确映射
	assert.Equal(t, "dev-002", devices[1].DeviceID)
	assert.Nil(t, devices[1].PatientID)
	assert.Nil(t, devices[1].CredentialRef)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEnabledDevices_Empty(t *testing.T) {
	db, mock, repo := setupMockDeviceDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"device_id", "patient_id", "endpoint", "credential_ref", "monitoring_enabled",
	})
	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	devices, err := repo.ListEnabledDevices(context.Background())

	require.NoError(t, err)
	assert.Empty(t, devices)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceRegistration_Success(t *testing.T) {
	db, mock, repo := setupMockDeviceDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"device_id", "patient_id", "endpoint", "credential_ref", "monitoring_enabled",
	}).AddRow("dev-001", "patient-1", "tcp://broker-a:1883", "cred-001", true)

	mock.ExpectQuery(`SELECT`).WithArgs("dev-001").WillReturnRows(rows)

	reg, err := repo.GetDeviceRegistration(context.Background(), "dev-001")

	require.NoError(t, err)
	assert.Equal(t, "dev-001", reg.DeviceID)
	assert.True(t, reg.Enabled)

	cfg := reg.Config()
	assert.Equal(t, "tcp://broker-a:1883", cfg.Endpoint)
	assert.Equal(t, "cred-001", cfg.CredentialRef)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDeviceRegistration_NotFound(t *testing.T) {
	db, mock, repo := setupMockDeviceDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WithArgs("dev-unknown").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetDeviceRegistration(context.Background(), "dev-unknown")

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrDeviceNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
