package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server aggregates chatd configuration values loaded from environment variables.
type Server struct {
	Env                string
	LogLevel           string
	HTTPAddr           string
	FixturesPath       string
	Store              string
	ScyllaHosts        []string
	ScyllaKeyspace     string
	ScyllaUsername     string
	ScyllaPassword     string
	ScyllaTimeout      time.Duration
	ScyllaReplication  int
	MongoURI           string
	MongoDB            string
	KafkaBrokers       []string
	KafkaTopicPrefix   string
	KafkaClientID      string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration
	JWTSecret          string
	JWTIssuer          string
	TokenTTL           time.Duration
	ShutdownTimeout    time.Duration
	WSPingInterval     time.Duration
	MetricsEnabled     bool
}

// Client holds workly-chat settings.
type Client struct {
	Env          string
	LogLevel     string
	BaseURL      string
	WSURL        string
	Token        string
	UserID       string
	JWTSecret    string
	JWTIssuer    string
	TokenTTL     time.Duration
	DataDir      string
	CallTimeout  time.Duration
	DialTimeout  time.Duration
	TypingWindow time.Duration
	RetryBackoff []time.Duration
}

// LoadServer parses chatd configuration from the current environment.
func LoadServer() (Server, error) {
	loadDotEnv()
	cfg := Server{
		Env:              getEnv("APP_ENV", "dev"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		FixturesPath:     getEnv("CHAT_FIXTURES", ""),
		Store:            strings.ToLower(getEnv("CHAT_STORE", "memory")),
		ScyllaKeyspace:   getEnv("SCYLLA_KEYSPACE", "workly_chat"),
		ScyllaUsername:   os.Getenv("SCYLLA_USERNAME"),
		ScyllaPassword:   os.Getenv("SCYLLA_PASSWORD"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "workly"),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", ""),
		KafkaClientID:    getEnv("KAFKA_CLIENT_ID", "chatd"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTIssuer:        getEnv("JWT_ISSUER", "workly"),
	}
	cfg.ScyllaHosts = splitList(getEnv("SCYLLA_HOSTS", "127.0.0.1"))
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))

	var err error
	if cfg.ScyllaTimeout, err = parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.ScyllaReplication, err = parseIntEnv("SCYLLA_REPLICATION_FACTOR", 1); err != nil {
		return Server{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Server{}, err
	}
	if cfg.TokenTTL, err = parseDurationEnv("TOKEN_TTL", 24*time.Hour); err != nil {
		return Server{}, err
	}
	if cfg.ShutdownTimeout, err = parseDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.WSPingInterval, err = parseDurationEnv("WS_PING_INTERVAL", 25*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.RetryBackoff, err = parseBackoff(getEnv("RETRY_BACKOFF", "1s,5s,30s")); err != nil {
		return Server{}, err
	}
	if cfg.MetricsEnabled, err = parseBoolEnv("METRICS_ENABLED", true); err != nil {
		return Server{}, err
	}

	if cfg.JWTSecret == "" {
		return Server{}, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.Store {
	case "memory", "scylla":
	default:
		return Server{}, fmt.Errorf("invalid CHAT_STORE %q", cfg.Store)
	}
	return cfg, nil
}

// LoadClient parses workly-chat configuration from the current environment.
func LoadClient() (Client, error) {
	loadDotEnv()
	cfg := Client{
		Env:       getEnv("APP_ENV", "dev"),
		LogLevel:  getEnv("LOG_LEVEL", "warn"),
		BaseURL:   strings.TrimRight(getEnv("CHAT_API_URL", "http://localhost:8080"), "/"),
		WSURL:     os.Getenv("CHAT_WS_URL"),
		Token:     os.Getenv("CHAT_TOKEN"),
		UserID:    os.Getenv("CHAT_USER_ID"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: getEnv("JWT_ISSUER", "workly"),
		DataDir:   getEnv("CHAT_DATA_DIR", defaultDataDir()),
	}
	if cfg.WSURL == "" {
		cfg.WSURL = WebsocketURL(cfg.BaseURL)
	}

	var err error
	if cfg.TokenTTL, err = parseDurationEnv("TOKEN_TTL", 24*time.Hour); err != nil {
		return Client{}, err
	}
	if cfg.CallTimeout, err = parseDurationEnv("CHAT_CALL_TIMEOUT", 10*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.DialTimeout, err = parseDurationEnv("CHAT_DIAL_TIMEOUT", 10*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.TypingWindow, err = parseDurationEnv("CHAT_TYPING_WINDOW", 3*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.RetryBackoff, err = parseBackoff(getEnv("RETRY_BACKOFF", "1s,5s,30s")); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func loadDotEnv() {
	_ = godotenv.Load(".env")
}

// WebsocketURL derives the /ws endpoint from an http(s) base url.
func WebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "workly-chat"
	}
	return ".workly-chat"
}

func parseBackoff(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_BACKOFF component %q: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s integer: %q", key, raw)
	}
	return v, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
