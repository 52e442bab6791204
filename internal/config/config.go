package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	App struct {
		Port      int
		WorkerID  string // lease identity override, empty derives hostname+uuid
		LocalName string // mDNS name announced on the LAN
	}
	Database struct {
		URL string
	}
	Redis struct {
		Addr string
	}
	MQTT struct {
		Broker   string
		ClientID string
	}
	Engine struct {
		TickInterval          time.Duration
		JobPollInterval       time.Duration
		EffectivenessInterval time.Duration
		EffectivenessWindow   time.Duration
		EffectivenessCooldown time.Duration
		RetentionInterval     time.Duration
		RetentionAge          time.Duration
		LeaseTTL              time.Duration
		ClaimBatchSize        int
	}
}

// LoadConfig reads configuration from file, .env, or env vars
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional; env vars and config.yaml still apply
	}

	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig()

	viper.SetDefault("APP_PORT", 5069)
	viper.SetDefault("MDNS_LOCAL_NAME", "growhub.local")
	viper.SetDefault("TICK_INTERVAL_SECS", 60)
	viper.SetDefault("JOB_POLL_INTERVAL_SECS", 10)
	viper.SetDefault("EFFECTIVENESS_INTERVAL_MINS", 15)
	viper.SetDefault("EFFECTIVENESS_WINDOW_HOURS", 24)
	viper.SetDefault("EFFECTIVENESS_COOLDOWN_MINS", 60)
	viper.SetDefault("RETENTION_INTERVAL_HOURS", 24)
	viper.SetDefault("RETENTION_AGE_HOURS", 168)
	viper.SetDefault("LEASE_TTL_SECS", 60)
	viper.SetDefault("CLAIM_BATCH_SIZE", 10)

	cfg := &Config{}
	cfg.App.Port = viper.GetInt("APP_PORT")
	cfg.App.WorkerID = viper.GetString("WORKER_ID")
	cfg.App.LocalName = viper.GetString("MDNS_LOCAL_NAME")
	cfg.Database.URL = viper.GetString("DB_URL")
	cfg.Redis.Addr = viper.GetString("REDIS_ADDR")
	cfg.MQTT.Broker = viper.GetString("MQTT_BROKER")
	cfg.MQTT.ClientID = viper.GetString("MQTT_CLIENT_ID")
	cfg.Engine.TickInterval = time.Duration(viper.GetInt("TICK_INTERVAL_SECS")) * time.Second
	cfg.Engine.JobPollInterval = time.Duration(viper.GetInt("JOB_POLL_INTERVAL_SECS")) * time.Second
	cfg.Engine.EffectivenessInterval = time.Duration(viper.GetInt("EFFECTIVENESS_INTERVAL_MINS")) * time.Minute
	cfg.Engine.EffectivenessWindow = time.Duration(viper.GetInt("EFFECTIVENESS_WINDOW_HOURS")) * time.Hour
	cfg.Engine.EffectivenessCooldown = time.Duration(viper.GetInt("EFFECTIVENESS_COOLDOWN_MINS")) * time.Minute
	cfg.Engine.RetentionInterval = time.Duration(viper.GetInt("RETENTION_INTERVAL_HOURS")) * time.Hour
	cfg.Engine.RetentionAge = time.Duration(viper.GetInt("RETENTION_AGE_HOURS")) * time.Hour
	cfg.Engine.LeaseTTL = time.Duration(viper.GetInt("LEASE_TTL_SECS")) * time.Second
	cfg.Engine.ClaimBatchSize = viper.GetInt("CLAIM_BATCH_SIZE")
	return cfg, nil
}
