package config

import "time"

// ProxyConfig holds runtime configuration for the edge proxy service.
type ProxyConfig struct {
	Environment     string
	Addr            string
	Mode            string
	StaticBaseURL   string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RoutePrefix     string
	WorkerToken     string
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	RegistryTimeout time.Duration
}

// LoadProxyConfig constructs a ProxyConfig from environment variables. Mode
// selects between static artifact proxying and registry-driven backends.
func LoadProxyConfig() ProxyConfig {
	return ProxyConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("PROXY_ADDR", ":8000"),
		Mode:            GetString("PROXY_MODE", "dynamic"),
		StaticBaseURL:   GetString("PROXY_STATIC_BASE_URL", ""),
		RedisAddr:       GetString("REDIS_ADDR", "redis:6379"),
		RedisPassword:   GetString("REDIS_PASSWORD", ""),
		RedisDB:         GetInt("REDIS_DB", 0),
		RoutePrefix:     GetString("ROUTE_KEY_PREFIX", "subfold:routes:"),
		WorkerToken:     GetString("WORKER_AUTH_TOKEN", ""),
		DialTimeout:     time.Duration(GetInt("PROXY_DIAL_TIMEOUT_SECONDS", 5)) * time.Second,
		ResponseTimeout: time.Duration(GetInt("PROXY_RESPONSE_TIMEOUT_SECONDS", 30)) * time.Second,
		RegistryTimeout: time.Duration(GetInt("PROXY_REGISTRY_TIMEOUT_MS", 500)) * time.Millisecond,
	}
}
