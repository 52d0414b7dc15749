package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/controller"
	"github.com/nerrad567/espleds-core/internal/discovery"
	"github.com/nerrad567/espleds-core/internal/history"
	"github.com/nerrad567/espleds-core/internal/infrastructure/config"
	"github.com/nerrad567/espleds-core/internal/infrastructure/database"
	"github.com/nerrad567/espleds-core/internal/infrastructure/logging"
)

// cliConfig loads the config for one-shot commands. A missing file is not an
// error, and logs go to stderr as text so stdout stays parseable.
func cliConfig(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadOrDefault(configPath(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logCfg := cfg.Logging
	logCfg.Format = "text"
	return cfg, logging.NewWithWriter(logCfg, version, cmd.ErrOrStderr()), nil
}

func newDiscoverCmd() *cobra.Command {
	var (
		duration time.Duration
		port     int
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Listen for device beacons and list what was heard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := cliConfig(cmd)
			if err != nil {
				return err
			}
			dc := discoveryConfig(cfg.Discovery)
			if cmd.Flags().Changed("port") {
				dc.Port = port
			}
			return discover(cmd.Context(), cmd.OutOrStdout(), dc, duration, log)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to listen")
	cmd.Flags().IntVar(&port, "port", discovery.DefaultPort, "UDP port to listen on")
	return cmd
}

// discover listens for d, printing devices as they come and go, then prints
// the registry as a table.
func discover(ctx context.Context, out io.Writer, cfg discovery.Config, d time.Duration, log *logging.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	registry := discovery.NewRegistry(cfg)
	registry.SetLogger(log)
	printer := &eventPrinter{out: out}
	registry.AddObserver(printer)

	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}
	<-ctx.Done()
	registry.Stop()

	return printDevices(out, registry.Snapshot())
}

// eventPrinter writes one line per discovery event.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *eventPrinter) DeviceDiscovered(d discovery.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "+ %s\t%s\n", d.Address, d.DisplayName())
}

func (p *eventPrinter) DeviceLost(d discovery.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "- %s\t%s\n", d.Address, d.DisplayName())
}

func printDevices(out io.Writer, devices []discovery.Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "no devices found")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tLAST SEEN")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Address, d.Name, d.LastSeen.Format(time.RFC3339))
	}
	return tw.Flush()
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <address> [parameter]",
		Short: "Read one parameter, or all of them, from a device",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := cliConfig(cmd)
			if err != nil {
				return err
			}
			client := control.NewClient(args[0], append(clientOptions(cfg.Control), control.WithLogger(log))...)
			out := cmd.OutOrStdout()

			if len(args) == 2 {
				p, err := control.ParseParameter(args[1])
				if err != nil {
					return err
				}
				v, err := client.Get(cmd.Context(), p)
				if err != nil {
					return fmt.Errorf("reading %s: %w", p, err)
				}
				_, err = fmt.Fprintln(out, v.String())
				return err
			}

			settings, err := client.Refresh(cmd.Context())
			if err != nil {
				re, partial := control.AsRefreshError(err)
				if !partial {
					return err
				}
				for p, perr := range re.Failures {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v (showing default)\n", p, perr)
				}
				if len(re.Failures) == len(control.Parameters()) {
					return fmt.Errorf("device %s did not answer", args[0])
				}
			}
			return printSettings(out, settings)
		},
	}
}

func printSettings(out io.Writer, s control.Settings) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, p := range control.Parameters() {
		fmt.Fprintf(tw, "%s\t%s\n", p, s.Get(p))
	}
	return tw.Flush()
}

func newSetCmd() *cobra.Command {
	var noHistory bool
	cmd := &cobra.Command{
		Use:   "set <address> <parameter> <value>",
		Short: "Write one parameter to a device and print its echo",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := cliConfig(cmd)
			if err != nil {
				return err
			}
			address := args[0]
			p, err := control.ParseParameter(args[1])
			if err != nil {
				return err
			}
			v, err := control.ParseValue(p, args[2])
			if err != nil {
				return err
			}

			var recorder controller.Recorder = controller.Recorders{}
			if cfg.Database.Enabled && !noHistory {
				db, err := database.Open(cmd.Context(), database.FromConfig(cfg.Database))
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
				if err := db.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				recorder = controller.HistoryRecorder{Repo: history.NewSQLiteRepository(db.DB), Logger: log}
			}

			client := control.NewClient(address, append(clientOptions(cfg.Control), control.WithLogger(log))...)
			start := time.Now()
			accepted, putErr := client.Put(cmd.Context(), p, v)
			if errors.Is(putErr, control.ErrInvalidValue) {
				// Rejected before reaching the device; nothing to record.
				return putErr
			}
			recorder.RecordWrite(cmd.Context(), controller.WriteResult{
				Address:   address,
				Parameter: p,
				Requested: v,
				Accepted:  accepted,
				Err:       putErr,
				Source:    history.SourceCLI,
				At:        start,
				Duration:  time.Since(start),
			})
			if putErr != nil {
				return fmt.Errorf("writing %s: %w", p, putErr)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), accepted.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the write in the history database")
	return cmd
}
