package dnac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/apreport/internal/collect"
)

var (
	// ErrNotPrepared means Fetch was called before a successful Prepare.
	ErrNotPrepared = errors.New("command runner results not loaded")

	// ErrNoResult means the result file has no entry for the device.
	ErrNoResult = errors.New("no command runner result for device")

	// ErrBlacklisted means DNA Center refused to run the command.
	ErrBlacklisted = errors.New("command blacklisted by DNA Center")
)

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Client  *Client
	Command string
	Poll    PollConfig
	Logger  *slog.Logger
}

// Fetcher runs one command on many devices through the command runner.
// Prepare submits a single batched request for all devices and loads the
// result file; Fetch then answers per device from that file.
type Fetcher struct {
	cfg FetcherConfig

	mu      sync.RWMutex
	results map[string]CommandResult
}

// NewFetcher creates a command runner fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{cfg: cfg}
}

// Prepare implements [collect.Preparer].
func (f *Fetcher) Prepare(ctx context.Context, devices []collect.Device) error {
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			return fmt.Errorf("device %s has no DNA Center id", d.Label())
		}
		ids = append(ids, d.ID)
	}

	taskID, err := f.cfg.Client.RunReadOnlyCommands(ctx, []string{f.cfg.Command}, ids)
	if err != nil {
		return fmt.Errorf("run %q: %w", f.cfg.Command, err)
	}
	f.cfg.Logger.Info("command runner task submitted", "task", taskID, "devices", len(ids))

	fileID, err := f.cfg.Client.WaitForFile(ctx, taskID, f.cfg.Poll)
	if err != nil {
		return err
	}

	file, err := f.cfg.Client.DownloadFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("download results: %w", err)
	}

	results := make(map[string]CommandResult, len(file))
	for _, r := range file {
		results[r.DeviceUUID] = r
	}

	f.mu.Lock()
	f.results = results
	f.mu.Unlock()
	return nil
}

// Fetch implements [collect.Fetcher]. The controller identifier is the
// inventory host name.
func (f *Fetcher) Fetch(_ context.Context, dev collect.Device) (collect.Output, error) {
	out := collect.Output{Controller: dev.Label()}

	f.mu.RLock()
	results := f.results
	f.mu.RUnlock()
	if results == nil {
		return out, ErrNotPrepared
	}

	r, ok := results[dev.ID]
	if !ok {
		return out, ErrNoResult
	}

	resp := r.CommandResponses
	if msg, ok := resp.Failure[f.cfg.Command]; ok {
		return out, fmt.Errorf("command failed: %s", msg)
	}
	if text, ok := resp.Success[f.cfg.Command]; ok {
		out.Text = text
		return out, nil
	}
	if _, ok := resp.Blacklisted[f.cfg.Command]; ok {
		return out, ErrBlacklisted
	}
	return out, ErrNoResult
}

// Discover lists the controllers of family and returns the reachable
// ones as collection targets. Unreachable controllers are logged and
// skipped.
func Discover(ctx context.Context, client *Client, family string, logger *slog.Logger) ([]collect.Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	inventory, err := client.ListDevices(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("list %q devices: %w", family, err)
	}

	devices := make([]collect.Device, 0, len(inventory))
	for _, d := range inventory {
		if !d.Reachable() {
			logger.Warn("skipping unreachable controller",
				"hostname", d.Hostname,
				"address", d.ManagementIPAddress,
				"status", d.ReachabilityStatus,
			)
			continue
		}
		devices = append(devices, collect.Device{
			Address: d.ManagementIPAddress,
			Name:    d.Hostname,
			ID:      d.ID,
		})
	}

	logger.Info("controllers discovered",
		"family", family,
		"total", len(inventory),
		"reachable", len(devices),
	)
	return devices, nil
}
