// Package config loads blobvault's ambient settings from an optional YAML
// file, layered under BLOBVAULT_* environment variable overrides. CLI flags
// (applied by the caller after Load returns) take final precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// S3Destination configures one S3-compatible save-to destination.
type S3Destination struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Provider  string `yaml:"provider"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// RedisCacheConfig configures the optional blob-existence cache.
type RedisCacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	TTL     string `yaml:"ttl"`
}

// KMIPConfig configures the optional Cosmian KMIP key-wrapping manager.
type KMIPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	KeyID      string `yaml:"key_id"`
	KeyVersion int    `yaml:"key_version"`
	Provider   string `yaml:"provider"`
	CAFile     string `yaml:"ca_file"`
}

// AuditConfig configures where audit events are written.
type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Sink     string `yaml:"sink"` // "stdout", "file", or "http"
	FilePath string `yaml:"file_path"`
	HTTPURL  string `yaml:"http_url"`
}

// MetricsConfig configures the optional Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// BlobvaultConfig is the full ambient configuration surface. Fields with no
// corresponding CLI flag are file/env-only.
type BlobvaultConfig struct {
	ChunkSize           int             `yaml:"chunk_size"`
	CompressLevel       int             `yaml:"compress_level"`
	Concurrency         int             `yaml:"concurrency"`
	SaveTo              string          `yaml:"save_to"`
	StoreAbsolutePaths  bool            `yaml:"store_absolute_paths"`
	Label               string          `yaml:"label"`
	PassphraseEnvVar    string          `yaml:"passphrase_env_var"`
	S3Destinations      []S3Destination  `yaml:"s3_destinations"`
	RedisCache          RedisCacheConfig `yaml:"redis_cache"`
	KMIP                KMIPConfig       `yaml:"kmip"`
	Audit               AuditConfig      `yaml:"audit"`
	Metrics             MetricsConfig    `yaml:"metrics"`
}

// Default returns a BlobvaultConfig populated with the spec's documented
// defaults (chunk_size 100MB, compresslevel 6, concurrency 8).
func Default() BlobvaultConfig {
	return BlobvaultConfig{
		ChunkSize:     100 * 1024 * 1024,
		CompressLevel: 6,
		Concurrency:   8,
	}
}

// Load reads path (if non-empty and present) as YAML over Default(), then
// applies BLOBVAULT_* environment overrides.
func Load(path string) (BlobvaultConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *BlobvaultConfig) {
	if v := os.Getenv("BLOBVAULT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("BLOBVAULT_COMPRESS_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CompressLevel = n
		}
	}
	if v := os.Getenv("BLOBVAULT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("BLOBVAULT_SAVE_TO"); v != "" {
		cfg.SaveTo = v
	}
	if v := os.Getenv("BLOBVAULT_LABEL"); v != "" {
		cfg.Label = v
	}
	if v := os.Getenv("BLOBVAULT_STORE_ABSOLUTE_PATHS"); v != "" {
		cfg.StoreAbsolutePaths = v == "true" || v == "1"
	}
	if v := os.Getenv("BLOBVAULT_PASSPHRASE_ENV_VAR"); v != "" {
		cfg.PassphraseEnvVar = v
	}
	if v := os.Getenv("BLOBVAULT_REDIS_ADDR"); v != "" {
		cfg.RedisCache.Enabled = true
		cfg.RedisCache.Addr = v
	}
	if v := os.Getenv("BLOBVAULT_KMIP_ENDPOINT"); v != "" {
		cfg.KMIP.Enabled = true
		cfg.KMIP.Endpoint = v
	}
	if v := os.Getenv("BLOBVAULT_KMIP_KEY_ID"); v != "" {
		cfg.KMIP.KeyID = v
	}
	if v := os.Getenv("BLOBVAULT_METRICS_ADDR"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("BLOBVAULT_AUDIT_SINK"); v != "" {
		cfg.Audit.Enabled = true
		cfg.Audit.Sink = v
	}
}

// RedisCacheTTL parses RedisCache.TTL, defaulting to zero (no expiry) on an
// empty or unparseable value.
func (c BlobvaultConfig) RedisCacheTTL() time.Duration {
	if c.RedisCache.TTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.RedisCache.TTL)
	if err != nil {
		return 0
	}
	return d
}
