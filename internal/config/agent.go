package config

import "time"

// AgentConfig holds runtime configuration for the per-workload telemetry agent.
type AgentConfig struct {
	ProjectID      string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ChannelPrefix  string
	SampleInterval time.Duration
	LogPath        string
	LogTailLines   int
}

// LoadAgentConfig constructs an AgentConfig from environment variables.
func LoadAgentConfig() AgentConfig {
	return AgentConfig{
		ProjectID:      GetString("PROJECT_ID", ""),
		RedisAddr:      GetString("REDIS_ADDR", "redis:6379"),
		RedisPassword:  GetString("REDIS_PASSWORD", ""),
		RedisDB:        GetInt("REDIS_DB", 0),
		ChannelPrefix:  GetString("TELEMETRY_CHANNEL_PREFIX", "logs:"),
		SampleInterval: time.Duration(GetInt("TELEMETRY_SAMPLE_SECONDS", 3)) * time.Second,
		LogPath:        GetString("AGENT_LOG_PATH", "/var/log/app/current.log"),
		LogTailLines:   GetInt("AGENT_LOG_TAIL_LINES", 20),
	}
}
