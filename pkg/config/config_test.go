package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.Recruitment.WindowDuration)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, 1, cfg.Sweeper.Workers)
	assert.False(t, cfg.Sweeper.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.StudyTTL)
	assert.Nil(t, cfg.CORS.AllowedOrigins)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("STORE_DRIVER", "MEMORY")
	v.Set("RECRUITMENT_WINDOW_DURATION", "48h")
	v.Set("WINDOW_SWEEP_WORKERS", 0)
	v.Set("ALLOWED_ORIGINS", "https://ops.example.com, ,https://lab.example.com")
	v.Set("STUDY_CACHE_TTL", "not-a-duration")

	cfg := fromViper(v)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 48*time.Hour, cfg.Recruitment.WindowDuration)
	assert.Equal(t, 1, cfg.Sweeper.Workers)
	assert.Equal(t, []string{"https://ops.example.com", "https://lab.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.Cache.StudyTTL)
}

func TestFromViperUnknownDriverFallsBackToPostgres(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("STORE_DRIVER", "sqlite")

	assert.Equal(t, StoreDriverPostgres, fromViper(v).StoreDriver)
}
