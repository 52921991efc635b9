package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL            string
	WSURL             string
	StateDriver       string
	StateDSN          string
	VoteTimeout       time.Duration
	OTPResendInterval time.Duration
	LogLevel          string
	MetricsAddr       string
}

func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		APIURL:            strings.TrimRight(getEnv("VOTEAPP_API_URL", "http://localhost:3000/api"), "/"),
		WSURL:             getEnv("VOTEAPP_WS_URL", ""),
		StateDriver:       getEnv("VOTEAPP_STATE_DRIVER", "sqlite"),
		StateDSN:          getEnv("VOTEAPP_STATE_DSN", "voteapp-state.db"),
		VoteTimeout:       getDuration("VOTEAPP_VOTE_TIMEOUT", 15*time.Second),
		OTPResendInterval: getDuration("VOTEAPP_OTP_RESEND_INTERVAL", 30*time.Second),
		LogLevel:          getEnv("VOTEAPP_LOG_LEVEL", "info"),
		MetricsAddr:       getEnv("VOTEAPP_METRICS_ADDR", ""),
	}
	if cfg.WSURL == "" {
		cfg.WSURL = DeriveWSURL(cfg.APIURL)
	}

	return cfg
}

// DeriveWSURL maps the REST base URL onto the realtime endpoint: the push
// service listens on the same host, outside the /api prefix.
func DeriveWSURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return "ws://localhost:3000/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

type ServerConfig struct {
	Port      string
	JWTSecret string
	JWTIssuer string
	LogLevel  string
}

func LoadServer() ServerConfig {
	_ = godotenv.Load()

	return ServerConfig{
		Port:      getEnv("APP_PORT", "3000"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer: getEnv("JWT_ISSUER", "voteapp"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
