package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cyberinferno/timewarp/config"
	"github.com/cyberinferno/timewarp/logger"
	"github.com/cyberinferno/timewarp/tcpclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	sendCmd = &cobra.Command{
		Use:   "send <offset>...",
		Short: "Send time offsets to a timewarp server",
		Long: `Connect to a timewarp server and send each offset in order. Positive
offsets move the server's clock into the future, negative ones into the past.`,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: bindFlags,
		RunE:    runSend,
	}
	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Send a range of time offsets with a delay between each",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd, args); err != nil {
				return err
			}
			if viper.GetInt64("step") <= 0 {
				return fmt.Errorf("step must be positive")
			}
			return nil
		},
		RunE: runSweep,
	}
)

func init() {
	config.SetupClientFlags(sendCmd.Flags())
	config.SetupClientFlags(sweepCmd.Flags())

	sweepCmd.Flags().Int64("from", -1000, config.WrapString("First offset sent"))
	sweepCmd.Flags().Int64("to", 1000, config.WrapString("Last offset sent"))
	sweepCmd.Flags().Int64("step", 100, config.WrapString("Increment between offsets"))
	sweepCmd.Flags().Duration("delay", time.Second, config.WrapString("Pause after each offset"))
}

// dial opens a client session from the configuration.
func dial(v *viper.Viper) (*tcpclient.Client, logger.Logger, error) {
	log, err := newLogger(v, "timewarp-client")
	if err != nil {
		return nil, nil, err
	}

	client, err := tcpclient.Dial(config.ClientConfig(v), log)
	if err != nil {
		_ = log.Close()
		return nil, nil, err
	}

	return client, log, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	offsets := make([]int64, 0, len(args))
	for _, arg := range args {
		offset, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", arg, err)
		}
		offsets = append(offsets, offset)
	}

	client, log, err := dial(viper.GetViper())
	if err != nil {
		return err
	}
	defer log.Close()
	defer client.Close()

	for _, offset := range offsets {
		if err := client.SendOffset(offset); err != nil {
			return err
		}
		cmd.Printf("sent offset %d\n", offset)
	}

	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	from, to, step := v.GetInt64("from"), v.GetInt64("to"), v.GetInt64("step")
	delay := v.GetDuration("delay")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, log, err := dial(v)
	if err != nil {
		return err
	}
	defer log.Close()
	defer client.Close()

	for offset := from; offset <= to; offset += step {
		if err := client.SendOffset(offset); err != nil {
			return err
		}
		cmd.Printf("sent offset %d\n", offset)

		// the next increment would wrap past MaxInt64
		if offset > math.MaxInt64-step {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}

	return nil
}
