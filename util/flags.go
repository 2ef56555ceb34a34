package util

import (
	"os"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to the upper cased flag name to find its environment variable
const EnvPrefix = "OTA_"

// SetFlagsFromEnvVars reads and updates flag values from environment variables with prefix OTA_.
// Flags given on the command line win.
func SetFlagsFromEnvVars(cmd *cobra.Command) {
	// Fetch the credentials directory if it exists
	credsDir, present := os.LookupEnv("CREDENTIALS_DIRECTORY")

	apply := func(flags *pflag.FlagSet) {
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				return
			}
			name := flagNameToUpper(f.Name)

			// Try to get the value from the credential directory
			if present {
				data, e := os.ReadFile(path.Join(credsDir, name))
				if e == nil {
					if err := flags.Set(f.Name, strings.TrimSuffix(string(data), "\n")); err != nil {
						log.Infof("unable to configure flag %s using credential %s, err: %v", f.Name, name, err)
					} else {
						return
					}
				}
			}

			// E.g. SERVER_ADDR -> OTA_SERVER_ADDR
			envName := EnvPrefix + name
			if value, varPresent := os.LookupEnv(envName); varPresent {
				if err := flags.Set(f.Name, value); err != nil {
					log.Infof("unable to configure flag %s using variable %s, err: %v", f.Name, envName, err)
				}
			}
		})
	}

	// Flags holds the local and the inherited flags once the command was parsed
	apply(cmd.Flags())
}

// flagNameToUpper converts a flag name to its corresponding base env name
// replacing dashes by underscores and making the result uppercase
// E.g. server-addr -> SERVER_ADDR
func flagNameToUpper(cmdFlag string) string {
	return strings.ToUpper(strings.ReplaceAll(cmdFlag, "-", "_"))
}
