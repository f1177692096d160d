// Package config loads the settings every service shares and the small env
// helpers service-level config packages build on.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
}

// Load reads SERVICE_NAME (required), LOG_LEVEL and HTTP_ADDR, falling back
// to defaultAddr when HTTP_ADDR is unset.
func Load(defaultAddr string) (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: Env("SERVICE_NAME"),
		LogLevel:    Env("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Addr: Env("HTTP_ADDR"),
		},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultAddr
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func Env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func EnvInt(key string, fallback int) int {
	v := Env(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func EnvFloat(key string, fallback float64) float64 {
	v := Env(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

// EnvBool accepts the strconv.ParseBool forms plus yes/no and on/off.
func EnvBool(key string, fallback bool) bool {
	switch strings.ToLower(Env(key)) {
	case "":
		return fallback
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(Env(key))
	if err != nil {
		return fallback
	}
	return b
}

// EnvDuration accepts Go durations ("90s", "2m") or a bare number of seconds.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := Env(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return fallback
		}
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// EnvList splits a comma separated value, dropping blanks. Unset keys yield
// nil so callers can tell "not configured" from "configured empty".
func EnvList(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
