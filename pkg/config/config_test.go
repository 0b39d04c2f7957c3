package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Scan.Concurrency)
	assert.Equal(t, 120*time.Second, cfg.Scan.InspectorTimeout())
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, cfg.Scan.DefaultRegions)
	assert.Equal(t, "redis", cfg.Remediation.LockBackend)
	assert.Equal(t, 15*time.Minute, cfg.Remediation.LockTTL())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCAN_CONCURRENCY", "8")
	t.Setenv("SCAN_DEFAULT_REGIONS", " eu-west-1 , ,ap-south-1")
	t.Setenv("REMEDIATION_LOCK_BACKEND", "MEMORY")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scan.Concurrency)
	assert.Equal(t, []string{"eu-west-1", "ap-south-1"}, cfg.Scan.DefaultRegions)
	assert.Equal(t, "memory", cfg.Remediation.LockBackend)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero concurrency", "SCAN_CONCURRENCY", "0"},
		{"zero inspector timeout", "SCAN_INSPECTOR_TIMEOUT_SECONDS", "0"},
		{"unknown lock backend", "REMEDIATION_LOCK_BACKEND", "etcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
