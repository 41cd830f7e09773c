// =============================================================================
// 📦 Lab Notebook 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Storage:      DefaultStorageConfig(),
		Persistence:  DefaultPersistenceConfig(),
		Database:     DefaultDatabaseConfig(),
		Redis:        DefaultRedisConfig(),
		Execution:    DefaultExecutionConfig(),
		Integrations: DefaultIntegrationsConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		Metrics:      DefaultMetricsConfig(),
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Root:             ".labnotebook",
		ThumbnailMaxDim:  256,
		ThumbnailQuality: 85,
	}
}

// DefaultPersistenceConfig 返回默认持久化配置
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Type:        "sql",
		KeyPrefix:   "labnotebook:",
		AutoMigrate: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "labnotebook",
		Password:        "",
		Name:            ".labnotebook/notebook.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultExecutionConfig 返回默认执行配置
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MaxWorkers:          8,
		QueueSize:           64,
		IdleTimeout:         60 * time.Second,
		DefaultLineageDepth: 3,
		MaxLineageDepth:     10,
	}
}

// DefaultIntegrationsConfig 返回默认集成配置
func DefaultIntegrationsConfig() IntegrationsConfig {
	return IntegrationsConfig{
		HTTPTimeout:  30 * time.Second,
		QueryMaxRows: 1000,
		Graph: GraphEngineConfig{
			ServerURL:           "http://127.0.0.1:8188",
			Timeout:             300 * time.Second,
			PollInterval:        time.Second,
			RequestsPerSecond:   20,
			WatchEvents:         false,
			DownloadConcurrency: 4,
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "labnotebook",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "labnotebook",
	}
}
