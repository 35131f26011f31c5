package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string
	JobDBPath   string
	LogPath     string
	ProxyURL    string

	ScorePreset string

	Cron      CronConfig
	Retention RetentionConfig
	Archive   ArchiveConfig
	Sweep     SweepConfig

	Sources map[string]*SourceConfig
}

// CronConfig holds the recurring trigger expressions per queue.
type CronConfig struct {
	Crawl   string
	Index   string
	Cleanup string
	Report  string
}

type RetentionConfig struct {
	Completed  time.Duration
	DeadLetter time.Duration
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

type SweepConfig struct {
	Interval time.Duration
	Window   time.Duration
	Batch    int
}

// SourceConfig describes one external listing source. Loaded from
// config/sources/*.yaml.
type SourceConfig struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name"`
	Domain           string            `yaml:"domain"`
	Method           string            `yaml:"method"` // api, scrape, feed, manual
	Endpoints        map[string]string `yaml:"endpoints"`
	RequestsPerHour  int               `yaml:"requests_per_hour"`
	MaxPages         int               `yaml:"max_pages"`
	ListingURLPrefix string            `yaml:"listing_url_prefix"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JobDBPath:   getEnv("JOB_DB_PATH", "jobs.db"),
		LogPath:     getEnv("LOG_PATH", "daemon.log"),
		ProxyURL:    os.Getenv("PROXY_URL"),
		ScorePreset: getEnv("SCORE_PRESET", "family"),
		Cron: CronConfig{
			Crawl:   getEnv("CRAWL_CRON", "0 */6 * * *"),
			Index:   getEnv("INDEX_CRON", "0 * * * *"),
			Cleanup: getEnv("CLEANUP_CRON", "30 2 * * *"),
			Report:  getEnv("REPORT_CRON", "0 7 * * 1"),
		},
		Retention: RetentionConfig{
			Completed:  getEnvDuration("COMPLETED_RETENTION", 72*time.Hour),
			DeadLetter: getEnvDuration("DEAD_LETTER_RETENTION", 14*24*time.Hour),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          getEnv("ARCHIVE_REGION", "ap-southeast-2"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_SECRET_ACCESS_KEY"),
		},
		Sweep: SweepConfig{
			Interval: getEnvDuration("SWEEP_INTERVAL", time.Hour),
			Window:   getEnvDuration("SWEEP_WINDOW", 24*time.Hour),
			Batch:    getEnvInt("SWEEP_BATCH", 200),
		},
		Sources: make(map[string]*SourceConfig),
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs() error {
	configDir := "config/sources"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return err
		}
		if src.MaxPages == 0 {
			src.MaxPages = 10
		}

		c.Sources[src.ID] = &src
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
