// config.go: settings struct for the ingen engine and functions to load and save it.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/patchgraph/ingen/internal/logger"
)

// EngineSettings sizes the real-time engine
type EngineSettings struct {
	SampleRate          uint32        // frames per second
	BlockSize           uint32        // frames per audio callback
	EventBufferSize     int           // bytes per port event buffer
	QueueSize           int           // capacity of prepared, stamped and post-processor rings
	MaidCapacity        int           // deferred reclaimer capacity
	MaidInterval        time.Duration // background reclaim cadence
	PostProcessInterval time.Duration // post-processor idle poll interval
	Polyphony           int           // default voice count for new patches
	MIDIBufferSize      int           // bytes in the MIDI input ring
}

// DriverSettings selects the audio driver
type DriverSettings struct {
	Type     string // malgo, dummy or wav
	Device   string // playback device name for malgo, empty for default
	Channels int    // output channel count
}

// RenderSettings controls the offline renderer
type RenderSettings struct {
	Path    string  // output WAV path
	Seconds float64 // render length
	Script  string  // optional YAML request script applied before rendering
}

// HTTPSettings controls the HTTP/JSON transport
type HTTPSettings struct {
	Enabled        bool
	Listen         string        // host:port
	RateLimit      float64       // requests per second per client, 0 disables limiting
	RateBurst      int           // burst per client
	RequestTimeout time.Duration // how long a request waits for its reply
}

// MQTTSettings controls the MQTT notification publisher
type MQTTSettings struct {
	Enabled  bool
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	Topic    string // topic prefix, notifications go to <topic>/<kind>
	QoS      byte
	Retain   bool
}

// JournalSettings controls the request journal
type JournalSettings struct {
	Enabled       bool
	Path          string        // sqlite database file
	BatchSize     int           // rows per write transaction
	FlushInterval time.Duration // maximum delay before a partial batch is written
	Retention     time.Duration // entries older than this are pruned, 0 keeps everything
}

// TelemetrySettings controls error reporting
type TelemetrySettings struct {
	Enabled   bool
	SentryDSN string
}

// Settings contains all configuration options for ingen
type Settings struct {
	Debug     bool
	Engine    EngineSettings
	Driver    DriverSettings
	Render    RenderSettings
	HTTP      HTTPSettings
	MQTT      MQTTSettings
	Journal   JournalSettings
	Logging   logger.LoggingConfig
	Telemetry TelemetrySettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the configuration file and INGEN_ environment
// variables into a Settings value. An empty configFile searches the
// default locations; a missing file there is not an error.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults and reads the configuration file
func initViper(configFile string) error {
	setDefaultConfig()
	bindEnvVars()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			GetLogger().Debug("no config file found, using defaults")
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	GetLogger().Info("loaded config file", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml
func GetDefaultConfigPaths() []string {
	paths := []string{"."}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		if runtime.GOOS == "windows" {
			paths = append(paths, filepath.Join(homeDir, "AppData", "Roaming", "ingen"))
		} else {
			paths = append(paths, filepath.Join(homeDir, ".config", "ingen"))
		}
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/ingen")
	}

	return paths
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath. The file is replaced
// atomically; comments and layout of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
