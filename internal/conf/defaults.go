// defaults.go: default values for every configuration key
package conf

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMalgo = "malgo"
	DriverDummy = "dummy"
	DriverWAV   = "wav"
)

// setDefaultConfig registers defaults with viper. Every key must have a
// default so environment overrides are picked up by Unmarshal.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("engine.samplerate", 48000)
	viper.SetDefault("engine.blocksize", 256)
	viper.SetDefault("engine.eventbuffersize", 4096)
	viper.SetDefault("engine.queuesize", 1024)
	viper.SetDefault("engine.maidcapacity", 4096)
	viper.SetDefault("engine.maidinterval", 125*time.Millisecond)
	viper.SetDefault("engine.postprocessinterval", 10*time.Millisecond)
	viper.SetDefault("engine.polyphony", 1)
	viper.SetDefault("engine.midibuffersize", 8192)

	viper.SetDefault("driver.type", DriverMalgo)
	viper.SetDefault("driver.device", "")
	viper.SetDefault("driver.channels", 2)

	viper.SetDefault("render.path", "render.wav")
	viper.SetDefault("render.seconds", 5.0)
	viper.SetDefault("render.script", "")

	viper.SetDefault("http.enabled", true)
	viper.SetDefault("http.listen", "127.0.0.1:16180")
	viper.SetDefault("http.ratelimit", 200.0)
	viper.SetDefault("http.rateburst", 50)
	viper.SetDefault("http.requesttimeout", 2*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientid", "ingen")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.topic", "ingen")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("journal.enabled", false)
	viper.SetDefault("journal.path", "ingen-journal.db")
	viper.SetDefault("journal.batchsize", 64)
	viper.SetDefault("journal.flushinterval", time.Second)
	viper.SetDefault("journal.retention", 0)

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/ingen.log")
	viper.SetDefault("logging.fileoutput.level", "info")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.sentrydsn", "")
}
