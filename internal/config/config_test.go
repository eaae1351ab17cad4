package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadConfig()
	req.NoError(err)
	req.Equal("8081", cfg.Port)
	req.Equal(DriverMemory, cfg.StoreDriver)
	req.Equal(24*time.Hour, cfg.TokenTTL)
	req.Equal(90*time.Second, cfg.PresenceTTL)
	req.Equal(64, cfg.SubscriberBuffer)
	req.Equal(4000, cfg.MaxMessageLength)
	req.Empty(cfg.RedisURL)
	req.False(cfg.IsProduction())
}

func TestLoadConfig_Overrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TOKEN_TTL", "15m")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("ENV", "production")

	cfg, err := LoadConfig()
	req.NoError(err)
	req.Equal(15*time.Minute, cfg.TokenTTL)
	req.Equal([]string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	req.True(cfg.IsProduction())
}

func TestLoadConfig_MalformedValue(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TOKEN_TTL", "soon")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver:      DriverPostgres,
			DatabaseURL:      "postgres://x",
			JWTSecret:        "s",
			TokenTTL:         time.Hour,
			SubscriberBuffer: 1,
			MaxMessageLength: 1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory needs no database", mutate: func(c *Config) { c.StoreDriver = DriverMemory; c.DatabaseURL = "" }},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "sqlite" }, wantErr: "unknown STORE_DRIVER"},
		{name: "postgres without url", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "DATABASE_URL"},
		{name: "missing secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: "JWT_SECRET"},
		{name: "zero ttl", mutate: func(c *Config) { c.TokenTTL = 0 }, wantErr: "TOKEN_TTL"},
		{name: "zero buffer", mutate: func(c *Config) { c.SubscriberBuffer = 0 }, wantErr: "SUBSCRIBER_BUFFER"},
		{name: "zero length", mutate: func(c *Config) { c.MaxMessageLength = 0 }, wantErr: "MAX_MESSAGE_LENGTH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
