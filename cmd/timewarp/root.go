package main

import (
	"fmt"
	"os"

	"github.com/cyberinferno/timewarp/config"
	"github.com/cyberinferno/timewarp/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const Version = "1.0.0"

var (
	rootCmd = &cobra.Command{
		Use:   "timewarp",
		Short: "Shift the clock of a remote process over TCP",
		Long: fmt.Sprintf(`timewarp (v%s)

A timewarp server accepts connections that pass a versioned handshake and
applies every time offset it receives. The client commands connect to such
a server and send offsets.

Every flag can also be set as TIMEWARP_<FLAG> (e.g. TIMEWARP_READ_POLL=250ms)
or in a .env / .env.local file.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of timewarp",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("timewarp v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(func() { config.Load(viper.GetViper()) })

	config.SetupProcessFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

// bindFlags is the PreRunE of every command that reads configuration.
func bindFlags(cmd *cobra.Command, _ []string) error {
	return config.Bind(viper.GetViper(), cmd)
}

// newLogger builds the process logger from log-level and log-dir.
func newLogger(v *viper.Viper, service string) (logger.Logger, error) {
	level := logger.ParseLevel(v.GetString(config.KeyLogLevel))
	if dir := v.GetString(config.KeyLogDir); dir != "" {
		return logger.NewZerologFileLogger(service, dir, level)
	}

	return logger.NewConsoleLogger(service, level), nil
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
