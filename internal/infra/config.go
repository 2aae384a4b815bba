package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorageBackendFilesystem = "filesystem"
	StorageBackendSupabase   = "supabase"

	MetadataBackendPostgres = "postgres"
	MetadataBackendSupabase = "supabase"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	JWTSecret   string
	JWTAudience string

	StorageBackend  string
	StoragePath     string
	StorageBaseURL  string
	MetadataBackend string

	SupabaseURL string
	// SupabaseAnonKey is sent with the caller's JWT for metadata calls so row
	// level security applies. SupabaseServiceKey is only used for storage.
	SupabaseAnonKey    string
	SupabaseServiceKey string

	BucketModel   string
	BucketGarment string
	BucketResult  string

	FashnAPIKey         string
	FashnBaseURL        string
	FashnModel          string
	FashnRequestTimeout time.Duration

	PollInterval      time.Duration
	PollBackoff       time.Duration
	PollMaxBackoff    time.Duration
	GenerationTimeout time.Duration

	MaxUploadBytes   int64
	AllowedOrigins   []string
	DefaultLocale    string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		LogLevel:            strings.ToLower(os.Getenv("LOG_LEVEL")),
		Port:                port,
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DBMaxConns:          getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:          getEnvInt("DB_MIN_CONNS", 1),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTAudience:         getEnv("JWT_AUDIENCE", "authenticated"),
		StorageBackend:      strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendFilesystem)),
		StoragePath:         getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:      getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		MetadataBackend:     strings.ToLower(getEnv("METADATA_BACKEND", MetadataBackendPostgres)),
		SupabaseURL:         strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseAnonKey:     os.Getenv("SUPABASE_ANON_KEY"),
		SupabaseServiceKey:  os.Getenv("SUPABASE_SERVICE_KEY"),
		BucketModel:         getEnv("BUCKET_MODEL_IMAGES", "generations-model-images"),
		BucketGarment:       getEnv("BUCKET_GARMENT_IMAGES", "generations-garment-images"),
		BucketResult:        getEnv("BUCKET_RESULT_IMAGES", "generations-result-images"),
		FashnAPIKey:         os.Getenv("FASHN_API_KEY"),
		FashnBaseURL:        getEnv("FASHN_BASE_URL", "https://api.fashn.ai/v1"),
		FashnModel:          getEnv("FASHN_MODEL", "tryon-v1.6"),
		FashnRequestTimeout: getEnvDuration("FASHN_REQUEST_TIMEOUT", 30*time.Second),
		PollInterval:        getEnvDuration("POLL_INTERVAL", time.Second),
		PollBackoff:         getEnvDuration("POLL_BACKOFF", 3*time.Second),
		PollMaxBackoff:      getEnvDuration("POLL_MAX_BACKOFF", 15*time.Second),
		GenerationTimeout:   getEnvDuration("GENERATION_TIMEOUT", 2*time.Minute),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_MB", 10)) << 20,
		AllowedOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		DefaultLocale:       getEnv("DEFAULT_LOCALE", "en"),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.MetadataBackend {
	case MetadataBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case MetadataBackendSupabase:
	default:
		return nil, fmt.Errorf("unsupported METADATA_BACKEND %q", cfg.MetadataBackend)
	}

	switch cfg.StorageBackend {
	case StorageBackendFilesystem, StorageBackendSupabase:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	if cfg.StorageBackend == StorageBackendSupabase || cfg.MetadataBackend == MetadataBackendSupabase {
		if cfg.SupabaseURL == "" {
			return nil, fmt.Errorf("SUPABASE_URL is required for the supabase backend")
		}
		if cfg.MetadataBackend == MetadataBackendSupabase && cfg.SupabaseAnonKey == "" {
			return nil, fmt.Errorf("SUPABASE_ANON_KEY is required for METADATA_BACKEND=supabase")
		}
		if cfg.StorageBackend == StorageBackendSupabase && cfg.SupabaseServiceKey == "" {
			return nil, fmt.Errorf("SUPABASE_SERVICE_KEY is required for STORAGE_BACKEND=supabase")
		}
		if _, err := url.Parse(cfg.SupabaseURL); err != nil {
			return nil, fmt.Errorf("invalid SUPABASE_URL: %w", err)
		}
	}

	if cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.DBMinConns, cfg.DBMaxConns)
	}

	if cfg.PollBackoff <= cfg.PollInterval {
		return nil, fmt.Errorf("POLL_BACKOFF (%s) must be longer than POLL_INTERVAL (%s)", cfg.PollBackoff, cfg.PollInterval)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
