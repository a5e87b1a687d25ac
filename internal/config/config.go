// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ayusman/nimesh/internal/action"
	"github.com/ayusman/nimesh/internal/blink"
	"github.com/ayusman/nimesh/internal/plugin"
)

// Config holds everything the binary needs to wire the application.
type Config struct {
	HTTPAddr  string
	DataDir   string
	DBPath    string
	StaticDir string
	PluginDir string

	CameraID  int
	Detection blink.Config
	Autostart bool
	Tray      bool

	MQTT action.MQTTConfig

	// Notify plugin settings for the emergency alert and voice channel actions.
	AlertWebhook  string
	VoiceURL      string
	PluginTimeout time.Duration

	LogLevel string
	Env      string
}

// Load reads a .env file from the working directory when present, then
// the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	dataDir := getEnv("NIMESH_DATA_DIR", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".nimesh")
	}

	settle, err := getEnvAsDuration("NIMESH_SETTLE_WINDOW", blink.DefaultSettleWindow)
	if err != nil {
		return nil, err
	}

	pluginTimeout, err := getEnvAsDuration("NIMESH_PLUGIN_TIMEOUT", plugin.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	cameraID, err := getEnvAsInt("NIMESH_CAMERA_ID", 0)
	if err != nil {
		return nil, err
	}

	threshold, err := getEnvAsFloat("NIMESH_EAR_THRESHOLD", blink.DefaultEARThreshold)
	if err != nil {
		return nil, err
	}

	minClosed, err := getEnvAsInt("NIMESH_MIN_CLOSED_FRAMES", blink.DefaultMinClosedFrames)
	if err != nil {
		return nil, err
	}

	qos, err := getEnvAsInt("MQTT_QOS", 1)
	if err != nil {
		return nil, err
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}

	cfg := &Config{
		HTTPAddr:  getEnv("NIMESH_HTTP_ADDR", ":8080"),
		DataDir:   dataDir,
		DBPath:    getEnv("NIMESH_DB_PATH", filepath.Join(dataDir, "nimesh.db")),
		StaticDir: getEnv("NIMESH_STATIC_DIR", FindStaticDir(dataDir)),
		PluginDir: getEnv("NIMESH_PLUGIN_DIR", filepath.Join(dataDir, "plugins")),
		CameraID:  cameraID,
		Detection: blink.Config{
			EARThreshold:    threshold,
			MinClosedFrames: minClosed,
			SettleWindow:    settle,
		},
		Autostart: getEnvAsBool("NIMESH_AUTOSTART", true),
		Tray:      getEnvAsBool("NIMESH_TRAY", false),
		MQTT: action.MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", fmt.Sprintf("nimesh-%d", time.Now().Unix())),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
			TopicPrefix: strings.TrimSuffix(getEnv("MQTT_TOPIC_PREFIX", "nimesh/appliance"), "/"),
			QoS:         byte(qos),
		},
		AlertWebhook:  getEnv("NIMESH_ALERT_WEBHOOK", ""),
		VoiceURL:      getEnv("NIMESH_VOICE_URL", ""),
		PluginTimeout: pluginTimeout,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Env:           getEnv("GO_ENV", "development"),
	}

	if err := cfg.Detection.Validate(); err != nil {
		return nil, fmt.Errorf("detection settings: %w", err)
	}
	return cfg, nil
}

// Production reports whether GO_ENV selects production mode.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}

// FindStaticDir looks for the dashboard in web, ../web, ../../web and
// <dataDir>/web. Returns "" when none exists.
func FindStaticDir(dataDir string) string {
	candidates := []string{"web", "../web", "../../web"}
	if dataDir != "" {
		candidates = append(candidates, filepath.Join(dataDir, "web"))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

// getEnv returns the variable or defaultValue when unset or empty.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1.5s") or bare milliseconds ("1500").
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
