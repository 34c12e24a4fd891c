package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	PlacesAPIKey  string
	PlacesBaseURL string
	Lat           float64
	Lng           float64
	RadiusMeters  int

	MaxPerCategory int
	PageDelay      time.Duration
	FetchTimeout   time.Duration
	SyncInterval   time.Duration

	ListenAddr  string
	CatalogFile string
	SnapshotDir string

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	ReportEmail  string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "citypulse"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "citypulse123"),
		PostgresDB:       getEnv("POSTGRES_DB", "citypulse_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		PlacesAPIKey:  getEnv("PLACES_API_KEY", ""),
		PlacesBaseURL: getEnv("PLACES_BASE_URL", "https://maps.googleapis.com/maps/api/place"),
		Lat:           getEnvFloat("CITY_LAT", -25.2637),
		Lng:           getEnvFloat("CITY_LNG", -57.5759),
		RadiusMeters:  getEnvInt("SEARCH_RADIUS_M", 2000),

		MaxPerCategory: getEnvInt("MAX_PER_CATEGORY", 60),
		PageDelay:      getEnvDuration("PAGE_DELAY", 2*time.Second),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		SyncInterval:   getEnvDuration("SYNC_INTERVAL", 600*time.Second),

		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		CatalogFile: getEnv("CATALOG_FILE", "./catalog.yml"),
		SnapshotDir: getEnv("SNAPSHOT_DIR", "./output"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		ReportEmail:  getEnv("REPORT_EMAIL", ""),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if n, err := strconv.Atoi(val); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
