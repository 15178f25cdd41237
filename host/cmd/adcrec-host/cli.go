package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"adcrec/core"
	"adcrec/host/config"
	"adcrec/host/mcu"
	"adcrec/host/wavsink"
	"adcrec/protocol"

	"github.com/spf13/cobra"
)

// commandTimeout bounds each request/reply exchange.
const commandTimeout = 2 * time.Second

type options struct {
	configPath string
	device     string
	baud       int
	verbose    bool

	rate     uint32
	res      int
	window   int
	warmup   time.Duration
	duration time.Duration
	outDir   string
	prefix   string

	bias string

	cfg    *config.Config
	logger *log.Logger
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "adcrec-host",
		Short:         "Record multi-channel ADC data from the recorder firmware",
		Version:       protocol.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"YAML config file (default "+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().StringVarP(&opts.device, "device", "d", "",
		"Serial device of the recorder")
	rootCmd.PersistentFlags().IntVar(&opts.baud, "baud", 0,
		"Baud rate (ignored for USB CDC)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.AddCommand(newRecordCmd(opts), newSolveCmd(opts), newStatusCmd(opts))
	return rootCmd
}

// load reads the config file and applies any flags the user set.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Serial.Device = o.device
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = o.baud
	}
	if flags.Changed("verbose") {
		cfg.Verbose = o.verbose
	}
	if flags.Lookup("rate") != nil {
		if flags.Changed("rate") {
			cfg.Recording.SampleRate = o.rate
		}
		if flags.Changed("res") {
			cfg.Recording.Resolution = o.res
		}
		if flags.Changed("window") {
			cfg.Recording.Window = o.window
		}
		if flags.Changed("warmup") {
			cfg.Recording.Warmup = o.warmup
		}
		if flags.Changed("duration") {
			cfg.Recording.Duration = o.duration
		}
		if flags.Changed("out") {
			cfg.Output.Dir = o.outDir
		}
		if flags.Changed("prefix") {
			cfg.Output.Prefix = o.prefix
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	o.cfg = cfg
	o.logger = log.New(io.Discard, "", 0)
	if cfg.Verbose {
		o.logger = log.New(os.Stderr, "adcrec: ", log.LstdFlags)
	}
	return nil
}

func (o *options) connect() (*mcu.MCU, error) {
	o.logger.Printf("connecting to %s", o.cfg.Serial.Device)
	return mcu.Connect(o.cfg.SerialPortConfig(), o.logger)
}

func newRecordCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record every channel into WAV files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().Uint32VarP(&opts.rate, "rate", "r", 0, "Sample rate per channel in Hz")
	cmd.Flags().IntVar(&opts.res, "res", 0, "Resolution in bits (8, 10 or 12)")
	cmd.Flags().IntVarP(&opts.window, "window", "w", 0, "Samples per channel per window (power of two)")
	cmd.Flags().DurationVar(&opts.warmup, "warmup", 0, "Discard samples for this long after start")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "t", 0, "Recording length")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Output directory")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Output file prefix")
	return cmd
}

func runRecord(ctx context.Context, out io.Writer, opts *options) error {
	cfg := opts.cfg
	m, err := opts.connect()
	if err != nil {
		return err
	}
	defer m.Close()

	idCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	id, err := m.Identify(idCtx)
	cancel()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Recorder %s: %d channels, %d byte buffer\n", id.Version, id.Channels, id.BufferBytes)

	w, err := wavsink.Create(cfg.Output.Dir, cfg.Output.Prefix, id.Channels, cfg.Resolution(), int(cfg.Recording.SampleRate))
	if err != nil {
		return err
	}

	session := mcu.Session{
		Resolution: cfg.Resolution(),
		SampleRate: cfg.Recording.SampleRate,
		Window:     cfg.Recording.Window,
		Warmup:     cfg.Recording.Warmup,
	}
	fmt.Fprintf(out, "Recording %v at %d Hz, %d-bit, window %d (Ctrl-C to stop early)\n",
		cfg.Recording.Duration, session.SampleRate, session.Resolution, session.Window)

	res, recErr := m.Record(ctx, session, cfg.Recording.Duration, w)
	closeErr := w.Close()

	fmt.Fprintf(out, "Collected %d samples in %d windows over %v (%.1f Hz per channel)\n",
		res.Collected, res.Windows, res.Duration.Round(time.Millisecond), res.EffectiveRate)
	if n := w.Discarded(); n > 0 {
		fmt.Fprintf(out, "Discarded %d samples to equalise channel lengths\n", n)
	}
	if bad := m.BadFrames(); bad > 0 {
		fmt.Fprintf(out, "Warning: %d corrupt frames\n", bad)
	}
	if closeErr == nil {
		for _, path := range w.Paths() {
			stats, err := wavsink.Summarize(path)
			if err != nil {
				opts.logger.Printf("summary of %s failed: %v", path, err)
				continue
			}
			fmt.Fprintln(out, stats)
		}
	}
	return errors.Join(recErr, closeErr)
}

// parseBias accepts none, low or high.
func parseBias(s string) (core.Bias, error) {
	for _, b := range []core.Bias{core.BiasNone, core.BiasLow, core.BiasHigh} {
		if strings.EqualFold(s, b.String()) {
			return b, nil
		}
	}
	return core.BiasNone, fmt.Errorf("unknown bias %q (want none, low or high)", s)
}

func newSolveCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve <hz>",
		Short: "Ask the recorder how it would clock a frequency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desired, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid frequency %q: %w", args[0], err)
			}
			bias, err := parseBias(opts.bias)
			if err != nil {
				return err
			}

			m, err := opts.connect()
			if err != nil {
				return err
			}
			defer m.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			sol, err := m.SolveClock(ctx, uint32(desired), bias)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d Hz (bias %s): divisor %d, compare %d, achieved %d Hz, error %.4f%%\n",
				desired, bias, sol.Divisor, sol.Compare, sol.Achieved, float64(sol.ErrorPPM)/1e4)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.bias, "bias", "b", "none", "Preferred error direction: none, low or high")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorder state and its event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			m, err := opts.connect()
			if err != nil {
				return err
			}
			defer m.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*commandTimeout)
			defer cancel()

			id, err := m.Identify(ctx)
			if err != nil {
				return err
			}
			status, err := m.Query(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Recorder %s: %d channels, %d byte buffer\n", id.Version, id.Channels, id.BufferBytes)
			fmt.Fprintf(out, "State: %s, %d samples collected\n", status.StateName(), status.Collected)

			events, err := m.Events(ctx, 200*time.Millisecond)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Events (%d):\n", len(events))
			for _, e := range events {
				fmt.Fprintf(out, "  [%10d] %-12s arg=%d v1=%d v2=%d\n",
					e.Clock, core.EventName(e.EventType), e.Arg, e.Value1, e.Value2)
			}
			return nil
		},
	}
}
