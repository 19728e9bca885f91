package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Vision     VisionConfig     `yaml:"vision"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port          int           `yaml:"port"`
	JWTIssuer     string        `yaml:"jwt_issuer"`
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	MinQuality         float64 `yaml:"min_quality"`
	MaxEnrollSamples   int     `yaml:"max_enroll_samples"`
}

type AttendanceConfig struct {
	TokenTTL         time.Duration `yaml:"token_ttl"`
	DefaultThreshold float64       `yaml:"default_threshold"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.JWTIssuer == "" {
		cfg.Server.JWTIssuer = "rollcall"
	}
	if cfg.Server.AccessTTL == 0 {
		cfg.Server.AccessTTL = 12 * time.Hour
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MinQuality == 0 {
		cfg.Vision.MinQuality = 0.3
	}
	if cfg.Vision.MaxEnrollSamples == 0 {
		cfg.Vision.MaxEnrollSamples = 5
	}
	if cfg.Attendance.TokenTTL == 0 {
		cfg.Attendance.TokenTTL = 10 * time.Minute
	}
	if cfg.Attendance.DefaultThreshold == 0 {
		cfg.Attendance.DefaultThreshold = 0.45
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RC_JWT_ISSUER"); v != "" {
		cfg.Server.JWTIssuer = v
	}
	if v := os.Getenv("RC_JWT_SIGNING_KEY"); v != "" {
		cfg.Server.JWTSigningKey = v
	}
	if v := os.Getenv("RC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("RC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("RC_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("RC_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("RC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("RC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("RC_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("RC_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("RC_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("RC_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("RC_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("RC_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Attendance.TokenTTL = d
		}
	}
}
