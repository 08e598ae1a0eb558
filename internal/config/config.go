package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port           string
	GeminiAPIKey   string
	LiveModel      string
	DecomposeModel string
	Voice          string
	LogFile        string
	ConnectTimeout time.Duration
}

func Load() Config {
	return Config{
		Port:           getenv("PORT", "8080"),
		GeminiAPIKey:   getenv("GEMINI_API_KEY", ""),
		LiveModel:      getenv("LIVE_MODEL", "models/gemini-2.0-flash-live-001"),
		DecomposeModel: getenv("DECOMPOSE_MODEL", "gemini-2.0-flash"),
		Voice:          getenv("VOICE", "Aoede"),
		LogFile:        getenv("LOG_FILE", ""),
		ConnectTimeout: time.Duration(getenvInt("CONNECT_TIMEOUT_SEC", 15)) * time.Second,
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return d
}
