package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/asnowfix/myecho/cmd/myecho/devices"
	"github.com/asnowfix/myecho/cmd/myecho/login"
	"github.com/asnowfix/myecho/cmd/myecho/options"
	"github.com/asnowfix/myecho/cmd/myecho/speak"
	"github.com/asnowfix/myecho/cmd/myecho/watch"
	"github.com/asnowfix/myecho/hlog"
	"github.com/asnowfix/myecho/internal/debug"
	"github.com/asnowfix/myecho/internal/global"
)

var Cmd = &cobra.Command{
	Use:          "myecho",
	Short:        "Alexa account session, commands and push events",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		hlog.InitWithDebug(options.Flags.Verbose, options.Flags.Debug)
		log := hlog.Logger

		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Error(err, "Failed to load .env")
		}
		if err := options.ReadConfigFile(log); err != nil {
			return err
		}

		if debug.IsDebuggerAttached() {
			log.Info("Running under debugger, command timeout disabled")
			options.Flags.CommandTimeout = 0
		}

		ctx := options.CommandLineContext(cmd.Context(), log, options.Flags.CommandTimeout, getVersion())
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		global.Cancel(cmd.Context())
		return nil
	},
}

// flag name -> configuration key
var bound = map[string]string{
	"host":            "alexa.host",
	"email":           "alexa.email",
	"password":        "alexa.password",
	"locale":          "alexa.locale",
	"storage-dir":     "storage.dir",
	"storage-backend": "storage.backend",
	"debug-dir":       "storage.debug_dir",
	"debounce":        "sequence.debounce",
	"min-interval":    "sequence.min_interval",
	"max-retries":     "request.max_retries",
}

func init() {
	f := Cmd.PersistentFlags()
	f.BoolVarP(&options.Flags.Verbose, "verbose", "v", false, "verbose output")
	f.BoolVar(&options.Flags.Debug, "debug", false, "debug output")
	f.StringVarP(&options.Flags.Output, "output", "o", "yaml", "output format: yaml or json")
	f.StringVarP(&options.Flags.ConfigFile, "config", "c", "", "YAML configuration `file`")
	f.DurationVarP(&options.Flags.CommandTimeout, "timeout", "t", 0, "abort the command after this long")

	f.String("host", "amazon.com", "regional domain of the account")
	f.String("email", "", "account email")
	f.String("password", "", "account password")
	f.String("locale", "en-US", "locale of spoken text")
	f.String("storage-dir", ".", "directory holding the cookie jars")
	f.String("storage-backend", "file", "cookie storage: file or sqlite")
	f.String("debug-dir", "", "dump every authentication page into this directory")
	f.Duration("debounce", 0, "command batching window")
	f.Duration("min-interval", 0, "minimum spacing between two command posts")
	f.Uint64("max-retries", 0, "retries of a rate-limited or failed exchange")

	for name, key := range bound {
		if err := options.Viper.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(err)
		}
	}

	Cmd.AddCommand(login.Cmd)
	Cmd.AddCommand(devices.Cmd)
	Cmd.AddCommand(speak.Cmd)
	Cmd.AddCommand(watch.Cmd)
}

func main() {
	cobra.EnableTraverseRunHooks = true
	err := Cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
