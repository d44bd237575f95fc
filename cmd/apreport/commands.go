package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nugget/apreport/internal/apstats"
	"github.com/nugget/apreport/internal/buildinfo"
	"github.com/nugget/apreport/internal/collect"
	"github.com/nugget/apreport/internal/config"
	"github.com/nugget/apreport/internal/dnac"
	"github.com/nugget/apreport/internal/inventory"
	"github.com/nugget/apreport/internal/report"
	"github.com/nugget/apreport/internal/wlcssh"
)

// options holds the persistent flags. Flags override the config file.
type options struct {
	configPath  string
	reportPath  string
	format      string
	concurrency int
	logLevel    string
	output      string // version output: text or json
}

// app carries what every report command needs once flags are parsed.
type app struct {
	stdout io.Writer
	stderr io.Writer
	opts   *options

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, opts: &options{}}

	root := &cobra.Command{
		Use:   "apreport",
		Short: "Report access points connected at 100 Mbps",
		Long: `apreport runs "show ap ethernet statistics" on Cisco wireless LAN
controllers and lists every access point whose uplink negotiated
100 Mbps, one row per port.

The report format follows the file extension of --report (xlsx, csv,
json, html, txt, sqlite) unless --format is given. Use --report - to
print a text table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.configPath, "config", "", "config file (default: search apreport.yaml, ~/.config/apreport, /etc/apreport)")
	pf.StringVar(&a.opts.reportPath, "report", "", "report file, or - for stdout (default from config)")
	pf.StringVar(&a.opts.format, "format", "", "report format: xlsx, csv, json, html, text, sqlite")
	pf.IntVar(&a.opts.concurrency, "concurrency", 0, "controllers queried at once (default from config)")
	pf.StringVar(&a.opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(
		&cobra.Command{
			Use:   "wlc",
			Short: "Report on the configured controller over SSH",
			Args:  cobra.NoArgs,
			RunE:  a.withConfig(a.runWLC),
		},
		&cobra.Command{
			Use:   "fleet",
			Short: "Report on every controller in the config and inventory file",
			Args:  cobra.NoArgs,
			RunE:  a.withConfig(a.runFleet),
		},
		&cobra.Command{
			Use:   "dnac",
			Short: "Report on controllers discovered through DNA Center",
			Args:  cobra.NoArgs,
			RunE:  a.withConfig(a.runDNAC),
		},
		&cobra.Command{
			Use:   "parse <file>...",
			Short: "Report on saved command output files",
			Long: `parse reads files holding captured "show ap ethernet statistics"
output. Each file is treated as one controller named after the file.`,
			Args: cobra.MinimumNArgs(1),
			RunE: a.withConfig(a.runParse),
		},
		a.versionCommand(),
	)
	return root
}

func (a *app) versionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := buildinfo.BuildInfo()
			switch a.opts.output {
			case "json":
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case "", "text":
				fmt.Fprintln(a.stdout, buildinfo.String())
				fmt.Fprintf(a.stdout, "  %-12s %s\n", "os:", info.OS)
				fmt.Fprintf(a.stdout, "  %-12s %s\n", "arch:", info.Arch)
				return nil
			default:
				return fmt.Errorf("unknown output format %q (valid: text, json)", a.opts.output)
			}
		},
	}
	cmd.Flags().StringVarP(&a.opts.output, "output", "o", "text", "output format: text or json")
	return cmd
}

// withConfig loads configuration and the logger before running fn.
func (a *app) withConfig(fn func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, source, err := loadConfig(a.opts)
		if err != nil {
			return err
		}
		level, _ := config.ParseLogLevel(cfg.LogLevel) // validated by loadConfig
		a.cfg = cfg
		a.logger = config.NewLogger(a.stderr, level, cfg.LogFormat)
		a.logger.Debug("config loaded", "source", source, "version", buildinfo.Version)
		return fn(cmd.Context(), args)
	}
}

// loadConfig finds and loads the config file, falls back to the
// environment when no file exists and no path was given, then applies
// flag overrides.
func loadConfig(opts *options) (*config.Config, string, error) {
	var cfg *config.Config
	source := "environment"

	path, err := config.FindConfig(opts.configPath)
	switch {
	case err == nil:
		if cfg, err = config.Load(path); err != nil {
			return nil, path, fmt.Errorf("load config %s: %w", path, err)
		}
		source = path
	case opts.configPath != "":
		return nil, "", err
	default:
		cfg = config.FromEnvironment()
	}

	if opts.reportPath != "" {
		cfg.Report.Path = opts.reportPath
		if opts.format == "" {
			// An explicit path decides the format unless --format is set.
			cfg.Report.Format = ""
		}
	}
	if opts.format != "" {
		cfg.Report.Format = opts.format
	}
	if opts.concurrency != 0 {
		cfg.SSH.Concurrency = opts.concurrency
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, source, err
	}
	return cfg, source, nil
}

func (a *app) sshFetcher() (*wlcssh.Fetcher, error) {
	return wlcssh.NewFetcher(wlcssh.Config{
		Command:        a.cfg.Command,
		Port:           a.cfg.SSH.Port,
		Timeout:        a.cfg.SSH.Timeout,
		Username:       a.cfg.SSH.Username,
		Password:       a.cfg.SSH.Password,
		KnownHostsFile: a.cfg.SSH.KnownHosts,
		Logger:         a.logger,
	})
}

func (a *app) runWLC(ctx context.Context, _ []string) error {
	if !a.cfg.WLC.Configured() {
		return errors.New("no controller configured: set wlc.address or IP_ADDRESS")
	}
	fetcher, err := a.sshFetcher()
	if err != nil {
		return err
	}
	devices := inventory.FromConfig([]config.ControllerConfig{a.cfg.WLC})
	return a.report(ctx, "wlc", fetcher, devices, false)
}

func (a *app) runFleet(ctx context.Context, _ []string) error {
	devices := inventory.FromConfig(a.cfg.Controllers)
	if a.cfg.InventoryFile != "" {
		listed, err := inventory.Load(a.cfg.InventoryFile)
		if err != nil {
			return err
		}
		devices = append(devices, listed...)
	}
	if len(devices) == 0 {
		return errors.New("no controllers configured: set controllers or inventory_file")
	}

	fetcher, err := a.sshFetcher()
	if err != nil {
		return err
	}
	return a.report(ctx, "fleet", fetcher, devices, true)
}

func (a *app) runDNAC(ctx context.Context, _ []string) error {
	d := a.cfg.DNAC
	if !d.Configured() {
		return errors.New("DNA Center not configured: set dnac.url and dnac.username or DNAC_IP")
	}

	client := dnac.NewClient(dnac.Config{
		URL:                d.URL,
		Username:           d.Username,
		Password:           d.Password,
		InsecureSkipVerify: d.InsecureSkipVerify,
		CommandTimeout:     d.CommandTimeout,
		Logger:             a.logger,
	})
	devices, err := dnac.Discover(ctx, client, d.DeviceFamily, a.logger)
	if err != nil {
		return err
	}

	fetcher := dnac.NewFetcher(dnac.FetcherConfig{
		Client:  client,
		Command: a.cfg.Command,
		Poll:    dnac.PollConfig{Interval: d.PollInterval, Timeout: d.PollTimeout},
		Logger:  a.logger,
	})
	return a.report(ctx, "dnac", fetcher, devices, true)
}

func (a *app) runParse(ctx context.Context, args []string) error {
	return a.report(ctx, "parse", collect.FileFetcher{}, collect.FileDevices(args), true)
}

// report collects, writes the report and prints a summary. Failed
// controllers are printed as they happen and never fail the command.
func (a *app) report(ctx context.Context, source string, fetcher collect.Fetcher, devices []collect.Device, labeled bool) error {
	format, err := a.cfg.ReportFormat()
	if err != nil {
		return err
	}
	layout, err := apstats.ParseLayout(a.cfg.Parser.Layout)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	collector := collect.New(collect.Config{
		Fetcher:     fetcher,
		Parser:      apstats.NewParser(layout),
		Labeled:     labeled,
		Concurrency: a.cfg.SSH.Concurrency,
		OnFailure: func(f collect.Failure) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(a.stderr, "Error: %s: %v\n", f.Label(), f.Err)
		},
		OnProgress: func(done, total int) {
			a.logger.Debug("controller finished", "done", done, "total", total)
		},
		Logger: a.logger,
	})

	res := collector.Collect(ctx, devices)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}

	table := report.NewTable(res.Records, labeled)
	path := a.cfg.Report.Path
	if path == "-" {
		if err := report.Render(a.stdout, format, table); err != nil {
			return err
		}
	} else {
		meta := report.Meta{
			RunID:    res.RunID,
			Source:   source,
			Started:  res.Started,
			Finished: res.Finished,
			Devices:  res.Devices,
			Failures: len(res.Failures),
		}
		if err := report.Write(path, format, table, meta); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	fmt.Fprintf(a.stderr, "%d port(s) at %s from %d of %d controller(s); report: %s (%s)\n",
		len(res.Records), apstats.DegradedSpeed, res.Succeeded(), res.Devices, path, format)
	return nil
}
