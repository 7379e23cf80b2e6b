package config

import "time"

// RelayConfig holds runtime configuration for the relay service, which hosts
// the telemetry fan-out, the health monitor, and the remediation endpoints.
type RelayConfig struct {
	Environment         string
	Addr                string
	PublicBaseURL       string
	DatabaseURL         string
	MigrationsDir       string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	ChannelPattern      string
	RoutePrefix         string
	BufferCap           int
	MonitorInterval     time.Duration
	ProbeTimeout        time.Duration
	RestartTimeout      time.Duration
	AlertWebhookURL     string
	AlertToken          string
	DockerHost          string
	ContainerPrefix     string
	SubscribeRetries    int
	SubscribeBackoff    time.Duration
	SubscribeBackoffMax time.Duration
}

// LoadRelayConfig constructs a RelayConfig from environment variables.
func LoadRelayConfig() RelayConfig {
	return RelayConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("RELAY_ADDR", ":9000"),
		PublicBaseURL:       GetString("RELAY_PUBLIC_URL", "http://localhost:9000"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://subfold:subfold@db:5432/subfold?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		RedisAddr:           GetString("REDIS_ADDR", "redis:6379"),
		RedisPassword:       GetString("REDIS_PASSWORD", ""),
		RedisDB:             GetInt("REDIS_DB", 0),
		ChannelPattern:      GetString("TELEMETRY_CHANNEL_PATTERN", "logs:*"),
		RoutePrefix:         GetString("ROUTE_KEY_PREFIX", "subfold:routes:"),
		BufferCap:           GetInt("TELEMETRY_BUFFER_CAP", 600),
		MonitorInterval:     time.Duration(GetInt("MONITOR_INTERVAL_MINUTES", 30)) * time.Minute,
		ProbeTimeout:        time.Duration(GetInt("MONITOR_PROBE_TIMEOUT_SECONDS", 10)) * time.Second,
		RestartTimeout:      time.Duration(GetInt("MONITOR_RESTART_TIMEOUT_SECONDS", 30)) * time.Second,
		AlertWebhookURL:     GetString("ALERT_WEBHOOK_URL", ""),
		AlertToken:          GetString("ALERT_WEBHOOK_TOKEN", ""),
		DockerHost:          GetString("DOCKER_HOST_OVERRIDE", ""),
		ContainerPrefix:     GetString("CONTAINER_NAME_PREFIX", "subfold-"),
		SubscribeRetries:    GetInt("SUBSCRIBE_MAX_RETRIES", 10),
		SubscribeBackoff:    time.Duration(GetInt("SUBSCRIBE_BACKOFF_MS", 500)) * time.Millisecond,
		SubscribeBackoffMax: time.Duration(GetInt("SUBSCRIBE_BACKOFF_MAX_SECONDS", 30)) * time.Second,
	}
}
