// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/patchgraph/ingen/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory implements errors.CategorizedError
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		validateEngineSettings,
		validateDriverSettings,
		validateHTTPSettings,
		validateMQTTSettings,
		validateJournalSettings,
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

const (
	minSampleRate = 8000
	maxSampleRate = 384000
	maxBlockSize  = 8192
	// recordHeaderSize mirrors the event buffer record header
	recordHeaderSize = 12
)

func validateEngineSettings(s *Settings) error {
	e := &s.Engine
	var problems []string

	if e.SampleRate < minSampleRate || e.SampleRate > maxSampleRate {
		problems = append(problems, fmt.Sprintf("samplerate %d outside %d-%d", e.SampleRate, minSampleRate, maxSampleRate))
	}
	if e.BlockSize == 0 || e.BlockSize > maxBlockSize {
		problems = append(problems, fmt.Sprintf("blocksize %d outside 1-%d", e.BlockSize, maxBlockSize))
	}
	if e.EventBufferSize <= recordHeaderSize {
		problems = append(problems, fmt.Sprintf("eventbuffersize %d must exceed the %d byte record header", e.EventBufferSize, recordHeaderSize))
	}
	if e.QueueSize < 2 {
		problems = append(problems, "queuesize must be at least 2")
	}
	if e.MaidCapacity < 2 {
		problems = append(problems, "maidcapacity must be at least 2")
	}
	if e.MaidInterval <= 0 {
		problems = append(problems, "maidinterval must be positive")
	}
	if e.PostProcessInterval <= 0 {
		problems = append(problems, "postprocessinterval must be positive")
	}
	if e.Polyphony < 1 {
		problems = append(problems, "polyphony must be at least 1")
	}
	if e.MIDIBufferSize <= recordHeaderSize {
		problems = append(problems, "midibuffersize too small")
	}

	if len(problems) > 0 {
		return fmt.Errorf("engine: %s", strings.Join(problems, ", "))
	}
	return nil
}

func validateDriverSettings(s *Settings) error {
	switch s.Driver.Type {
	case DriverMalgo, DriverDummy, DriverWAV:
	default:
		return fmt.Errorf("driver: unknown type %q (want %s, %s or %s)", s.Driver.Type, DriverMalgo, DriverDummy, DriverWAV)
	}
	if s.Driver.Channels < 1 || s.Driver.Channels > 32 {
		return fmt.Errorf("driver: channels %d outside 1-32", s.Driver.Channels)
	}
	if s.Driver.Type == DriverWAV && s.Render.Seconds <= 0 {
		return fmt.Errorf("render: seconds must be positive")
	}
	return nil
}

func validateHTTPSettings(s *Settings) error {
	if !s.HTTP.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.HTTP.Listen); err != nil {
		return fmt.Errorf("http: invalid listen address %q: %w", s.HTTP.Listen, err)
	}
	if s.HTTP.RateLimit < 0 {
		return fmt.Errorf("http: ratelimit must not be negative")
	}
	if s.HTTP.RateLimit > 0 && s.HTTP.RateBurst < 1 {
		return fmt.Errorf("http: rateburst must be at least 1 when rate limiting is enabled")
	}
	if s.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http: requesttimeout must be positive")
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	u, err := url.Parse(s.MQTT.Broker)
	if err != nil || u.Host == "" {
		return fmt.Errorf("mqtt: invalid broker URL")
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("mqtt: unsupported broker scheme %q", u.Scheme)
	}
	if s.MQTT.Topic == "" {
		return fmt.Errorf("mqtt: topic prefix is required")
	}
	if s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: qos %d outside 0-2", s.MQTT.QoS)
	}
	return nil
}

func validateJournalSettings(s *Settings) error {
	if !s.Journal.Enabled {
		return nil
	}
	if s.Journal.Path == "" {
		return fmt.Errorf("journal: path is required")
	}
	if s.Journal.BatchSize < 1 {
		return fmt.Errorf("journal: batchsize must be at least 1")
	}
	if s.Journal.FlushInterval <= 0 {
		return fmt.Errorf("journal: flushinterval must be positive")
	}
	if s.Journal.Retention < 0 {
		return fmt.Errorf("journal: retention must not be negative")
	}
	return nil
}
