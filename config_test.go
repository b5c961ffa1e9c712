package ensemble

import (
	"testing"
	"time"

	"pkg.world.dev/ensemble/assert"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	assert.NilError(t, err)
	assert.Equal(t, "ensemble", cfg.Namespace)
	assert.Equal(t, 15*time.Millisecond, cfg.Server.PhysicsUpdateLoop)
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Debug.LogLevel)
	assert.Check(t, !cfg.Debug.Profiling)
	assert.Equal(t, "", cfg.Redis.Address)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ENSEMBLE_NAMESPACE", "arena")
	t.Setenv("ENSEMBLE_SERVER_PHYSICS_UPDATE_LOOP", "50ms")
	t.Setenv("ENSEMBLE_SERVER_PORT", "4040")
	t.Setenv("ENSEMBLE_DEBUG_PROFILING", "true")
	t.Setenv("ENSEMBLE_DEBUG_LOG_LEVEL", "DEBUG")
	t.Setenv("ENSEMBLE_MEASURE_STATSD_ADDRESS", "localhost:8125")
	t.Setenv("ENSEMBLE_MEASURE_TAGS", "env:test,region:eu")
	t.Setenv("ENSEMBLE_REDIS_ADDRESS", "localhost:6379")

	cfg, err := LoadConfig()
	assert.NilError(t, err)
	assert.Equal(t, "arena", cfg.Namespace)
	assert.Equal(t, 50*time.Millisecond, cfg.Server.PhysicsUpdateLoop)
	assert.Equal(t, "4040", cfg.Server.Port)
	assert.Check(t, cfg.Debug.Profiling)
	assert.DeepEqual(t, []string{"env:test", "region:eu"}, cfg.Measure.Tags)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "namespace with separator",
			env:  map[string]string{"ENSEMBLE_NAMESPACE": "a:b"},
			want: "namespace",
		},
		{
			name: "zero loop interval",
			env:  map[string]string{"ENSEMBLE_SERVER_PHYSICS_UPDATE_LOOP": "0s"},
			want: "physics update loop",
		},
		{
			name: "port out of range",
			env:  map[string]string{"ENSEMBLE_SERVER_PORT": "70000"},
			want: "invalid server port",
		},
		{
			name: "unknown log level",
			env:  map[string]string{"ENSEMBLE_DEBUG_LOG_LEVEL": "loud"},
			want: "invalid log level",
		},
		{
			name: "profiling without statsd",
			env:  map[string]string{"ENSEMBLE_DEBUG_PROFILING": "true"},
			want: "statsd",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.ErrorContains(t, err, tc.want)
		})
	}
}
