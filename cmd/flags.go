package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlag ties flag to a config key so an explicitly set flag overrides
// the config file and the environment
func bindFlag(flag *pflag.Flag, key string) {
	if err := viper.BindPFlag(key, flag); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not bind flag %s: %v\n", flag.Name, err)
	}
}

