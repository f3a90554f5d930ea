// env.go: environment variable overrides
package conf

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. INGEN_ENGINE_BLOCKSIZE
const EnvPrefix = "INGEN"

// bindEnvVars maps INGEN_SECTION_KEY variables onto section.key config keys
func bindEnvVars() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
