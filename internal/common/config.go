package common

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Parse    ParseConfig
	Queue    QueueConfig
	Cache    CacheConfig
	Events   EventsConfig
	Auth     AuthConfig
	Store    StoreConfig
	Ingest   IngestConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr    string
	HTTPAddr    string
	CORSOrigins []string
	UploadDir   string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract        string
	Lang             string
	HeicConverter    string
	TessdataDir      string
	ArtifactCacheDir string
	TSVConfidence    bool
	Timeout          time.Duration
}

// ParseConfig holds rule-extraction settings
type ParseConfig struct {
	TrainNumberPolicy string
	MinConfidence     float32
}

// QueueConfig sizes the background processing pool
type QueueConfig struct {
	Workers        int
	Size           int
	ProcessTimeout time.Duration
}

// CacheConfig configures the parse-result cache; empty RedisAddr disables it
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// EventsConfig configures ticket.parsed publishing; empty URL disables it
type EventsConfig struct {
	AMQPURL string
	Queue   string
}

// AuthConfig enables bearer-token checks on the HTTP API when Issuer is set
type AuthConfig struct {
	Issuer   string
	ClientID string
}

// StoreConfig picks the ticket store backend
type StoreConfig struct {
	Backend  string // "sql" | "mongo"
	MongoURI string
	MongoDB  string
}

// IngestConfig lists directories watched for new screenshots
type IngestConfig struct {
	WatchDirs  []string
	Debounce   time.Duration
	SkipHidden bool
}

var defaults = map[string]any{
	"DB_URL":                "sqlite://tickets.db",
	"DB_MAX_CONNS":          20,
	"DB_MIN_CONNS":          5,
	"DB_MAX_CONN_LIFETIME":  30 * time.Minute,
	"DB_MAX_CONN_IDLE_TIME": 5 * time.Minute,
	"DB_DIAL_TIMEOUT":       3 * time.Second,
	"DB_STATEMENT_TIMEOUT":  time.Duration(0),
	"GRPC_ADDR":             ":8080",
	"HTTP_ADDR":             ":8081",
	"CORS_ORIGINS":          "http://localhost:3000",
	"UPLOAD_DIR":            "./tmp/uploads",
	"TESSERACT_BIN":         "tesseract",
	"OCR_LANG":              "chi_sim",
	"HEIC_CONVERTER":        "magick",
	"TESSDATA_PREFIX":       "",
	"ARTIFACT_CACHE_DIR":    "./tmp",
	"OCR_TSV_CONFIDENCE":    false,
	"OCR_TIMEOUT":           2 * time.Minute,
	"TRAIN_NUMBER_POLICY":   "conservative",
	"MIN_CONFIDENCE":        0.6,
	"QUEUE_WORKERS":         4,
	"QUEUE_SIZE":            256,
	"PROCESS_TIMEOUT":       3 * time.Minute,
	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"PARSE_CACHE_TTL":       24 * time.Hour,
	"AMQP_URL":              "",
	"AMQP_QUEUE":            "ticket.parsed",
	"OIDC_ISSUER":           "",
	"OIDC_CLIENT_ID":        "",
	"TICKET_STORE":          "sql",
	"MONGO_URI":             "mongodb://localhost:27017",
	"MONGO_DB":              "tickets",
	"WATCH_DIRS":            "",
	"WATCH_DEBOUNCE":        500 * time.Millisecond,
	"WATCH_SKIP_HIDDEN":     true,
}

// LoadConfig loads configuration from defaults, an optional YAML file named
// by TICKETS_CONFIG, and environment variables (highest precedence).
func LoadConfig() (*Config, error) {
	return loadConfig(viper.New())
}

func loadConfig(v *viper.Viper) (*Config, error) {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	if path := v.GetString("TICKETS_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file "+path, err)
		}
	}

	return &Config{
		Database: DatabaseConfig{
			DSN:              v.GetString("DB_URL"),
			MaxConns:         v.GetInt32("DB_MAX_CONNS"),
			MinConns:         v.GetInt32("DB_MIN_CONNS"),
			MaxConnLifetime:  v.GetDuration("DB_MAX_CONN_LIFETIME"),
			MaxConnIdleTime:  v.GetDuration("DB_MAX_CONN_IDLE_TIME"),
			DialTimeout:      v.GetDuration("DB_DIAL_TIMEOUT"),
			StatementTimeout: v.GetDuration("DB_STATEMENT_TIMEOUT"),
		},
		Server: ServerConfig{
			GRPCAddr:    v.GetString("GRPC_ADDR"),
			HTTPAddr:    v.GetString("HTTP_ADDR"),
			CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
			UploadDir:   v.GetString("UPLOAD_DIR"),
		},
		OCR: OCRConfig{
			Tesseract:        v.GetString("TESSERACT_BIN"),
			Lang:             v.GetString("OCR_LANG"),
			HeicConverter:    v.GetString("HEIC_CONVERTER"),
			TessdataDir:      v.GetString("TESSDATA_PREFIX"),
			ArtifactCacheDir: v.GetString("ARTIFACT_CACHE_DIR"),
			TSVConfidence:    v.GetBool("OCR_TSV_CONFIDENCE"),
			Timeout:          v.GetDuration("OCR_TIMEOUT"),
		},
		Parse: ParseConfig{
			TrainNumberPolicy: v.GetString("TRAIN_NUMBER_POLICY"),
			MinConfidence:     float32(v.GetFloat64("MIN_CONFIDENCE")),
		},
		Queue: QueueConfig{
			Workers:        v.GetInt("QUEUE_WORKERS"),
			Size:           v.GetInt("QUEUE_SIZE"),
			ProcessTimeout: v.GetDuration("PROCESS_TIMEOUT"),
		},
		Cache: CacheConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTL:           v.GetDuration("PARSE_CACHE_TTL"),
		},
		Events: EventsConfig{
			AMQPURL: v.GetString("AMQP_URL"),
			Queue:   v.GetString("AMQP_QUEUE"),
		},
		Auth: AuthConfig{
			Issuer:   v.GetString("OIDC_ISSUER"),
			ClientID: v.GetString("OIDC_CLIENT_ID"),
		},
		Store: StoreConfig{
			Backend:  strings.ToLower(v.GetString("TICKET_STORE")),
			MongoURI: v.GetString("MONGO_URI"),
			MongoDB:  v.GetString("MONGO_DB"),
		},
		Ingest: IngestConfig{
			WatchDirs:  splitList(v.GetString("WATCH_DIRS")),
			Debounce:   v.GetDuration("WATCH_DEBOUNCE"),
			SkipHidden: v.GetBool("WATCH_SKIP_HIDDEN"),
		},
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR or HTTP_ADDR is required", ErrInvalidInput)
	}
	switch strings.ToLower(strings.TrimSpace(c.Parse.TrainNumberPolicy)) {
	case "", "conservative", "loose":
	default:
		return NewAppError("CONFIG_ERROR", "TRAIN_NUMBER_POLICY must be conservative or loose", ErrInvalidInput)
	}
	switch c.Store.Backend {
	case "sql", "":
	case "mongo":
		if c.Store.MongoURI == "" {
			return NewAppError("CONFIG_ERROR", "MONGO_URI is required when TICKET_STORE=mongo", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "TICKET_STORE must be sql or mongo", ErrInvalidInput)
	}
	if c.Auth.Issuer != "" && c.Auth.ClientID == "" {
		return NewAppError("CONFIG_ERROR", "OIDC_CLIENT_ID is required when OIDC_ISSUER is set", ErrInvalidInput)
	}
	if c.Queue.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_WORKERS must be positive", ErrInvalidInput)
	}
	return nil
}
