package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/comms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Twilio.Timeout())
	assert.Equal(t, "America/New_York", cfg.QuietHours.Timezone)
	assert.Equal(t, time.Hour, cfg.Sweeps.AutomationInterval())
	assert.Equal(t, 5*time.Minute, cfg.Sweeps.ReminderInterval())
	assert.Equal(t, 5*time.Minute, cfg.Sweeps.ReminderLookahead())
	// Sub-daily default: a worker restarted more often than daily still
	// reaches every exact-day registration offset.
	assert.Equal(t, time.Hour, cfg.Sweeps.RegistrationInterval())
	assert.False(t, cfg.SES.Enabled())
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/comms
  max_open_conns: 10
quiet_hours:
  enabled: true
  start_hour: 21
  end_hour: 8
  timezone: America/Chicago
twilio:
  account_sid: AC123
  from_number: "+15125550100"
ses:
  from_address: hello@example.com
  region: us-west-2
sweeps:
  reminder_interval_minutes: 1
  registration_interval_minutes: 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.QuietHours.Enabled)
	assert.Equal(t, 21, cfg.QuietHours.StartHour)
	assert.Equal(t, 8, cfg.QuietHours.EndHour)
	assert.Equal(t, "America/Chicago", cfg.QuietHours.Timezone)
	assert.Equal(t, "AC123", cfg.Twilio.AccountSID)
	assert.True(t, cfg.SES.Enabled())
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, time.Minute, cfg.Sweeps.ReminderInterval())
	assert.Equal(t, 30*time.Minute, cfg.Sweeps.RegistrationInterval())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://file/db
twilio:
  auth_token: from-file
`)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("TWILIO_AUTH_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "from-env", cfg.Twilio.AuthToken)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
