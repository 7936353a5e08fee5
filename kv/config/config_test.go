package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	conf := NewDefaultConfig()
	assert.NoError(t, conf.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	conf := NewDefaultConfig()
	conf.LockTimeout = NewDuration(0)
	assert.Error(t, conf.Validate())

	conf = NewDefaultConfig()
	conf.YieldInterval = -1
	assert.Error(t, conf.Validate())

	conf = NewDefaultConfig()
	conf.SchedulerWorkers = 0
	assert.Error(t, conf.Validate())
}

func TestFromFileOverridesDefaults(t *testing.T) {
	dir, err := ioutil.TempDir("", "config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "veradb.toml")
	content := `
log-level = "debug"
lock-timeout = "500ms"
yield-interval = 64
`
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))

	conf, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, 500*time.Millisecond, conf.LockTimeout.Duration)
	assert.Equal(t, 64, conf.YieldInterval)
	// untouched fields keep their defaults
	assert.Equal(t, 4, conf.SchedulerWorkers)
}
