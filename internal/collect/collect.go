// Package collect runs the AP port inventory across a fleet of wireless
// LAN controllers. It fetches command output from each controller
// through a pluggable [Fetcher], parses it, and merges the per-device
// records into one ordered result. A failure on one controller never
// stops the run; it is recorded and the controller contributes nothing.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/apreport/internal/apstats"
)

// Credentials authenticate a session to a controller.
type Credentials struct {
	Username string
	Password string
}

// Device describes one controller to query.
type Device struct {
	// Address is the host name or IP address used to reach the device.
	Address string

	// Port overrides the transport's default port when non-zero.
	Port int

	// Name is the controller's host name when already known (for
	// example from a management inventory). Optional.
	Name string

	// ID is an upstream identifier such as a DNA Center device UUID.
	ID string

	Credentials Credentials
}

// Label returns the best human-readable identifier known before a fetch.
func (d Device) Label() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Address != "" {
		return d.Address
	}
	return d.ID
}

// Output is the raw command output fetched from one device.
type Output struct {
	// Text is the command output, unmodified.
	Text string

	// Controller is the identifier the transport resolved for the
	// device, typically its prompt host name. May be set on failure.
	Controller string
}

// Fetcher retrieves command output from a single device. Implementations
// own connection setup, authentication and timeouts; each call is a
// single attempt.
type Fetcher interface {
	Fetch(ctx context.Context, dev Device) (Output, error)
}

// FetcherFunc adapts a function to the [Fetcher] interface.
type FetcherFunc func(ctx context.Context, dev Device) (Output, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, dev Device) (Output, error) {
	return f(ctx, dev)
}

// Preparer is implemented by fetchers that retrieve output for the whole
// fleet in one batch. Prepare is called once before any Fetch.
type Preparer interface {
	Prepare(ctx context.Context, devices []Device) error
}

// Stage identifies where a device failed.
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageFetch   Stage = "fetch"
	StageParse   Stage = "parse"
)

// Failure is the diagnostic recorded for a device that contributed no
// records.
type Failure struct {
	Device     Device
	Controller string
	Stage      Stage
	Err        error
}

// Error formats the failure as "<device>: <stage>: <cause>".
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Label(), f.Stage, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Label names the device, with its address when the resolved controller
// name differs.
func (f Failure) Label() string {
	if f.Controller != "" && f.Controller != f.Device.Address {
		return fmt.Sprintf("%s (%s)", f.Controller, f.Device.Address)
	}
	return f.Device.Label()
}

// Result is the merged outcome of one collection run.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	// Devices is the number of devices attempted.
	Devices int

	// Records holds the 100 Mbps ports in device order, then block
	// order within each device.
	Records []apstats.Record

	// Failures lists devices that contributed nothing, in device order.
	Failures []Failure
}

// Succeeded returns the number of devices that fetched and parsed.
func (r *Result) Succeeded() int {
	return r.Devices - len(r.Failures)
}

// Config configures a [Collector].
type Config struct {
	// Fetcher retrieves raw output per device. Required.
	Fetcher Fetcher

	// Parser converts raw output to records. Defaults to the positional
	// layout.
	Parser *apstats.Parser

	// Labeled attaches the resolved controller identifier to every
	// record. Single-controller reports leave it off.
	Labeled bool

	// Concurrency bounds how many devices are fetched at once. Values
	// below 2 fetch strictly one device after another.
	Concurrency int

	// OnFailure is called for each failed device as it is recorded.
	// With Concurrency > 1 it may be called from several goroutines.
	OnFailure func(Failure)

	// OnProgress is called after each device finishes with the number
	// of finished devices and the total.
	OnProgress func(done, total int)

	// Logger for structured logging.
	Logger *slog.Logger
}

// Collector runs fetch and parse across devices.
type Collector struct {
	cfg Config
}

// New creates a Collector.
func New(cfg Config) *Collector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Parser == nil {
		cfg.Parser = apstats.NewParser(apstats.LayoutPositional)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Collector{cfg: cfg}
}

// progressCounter counts finished devices across workers.
type progressCounter struct {
	n atomic.Int64
}

func (p *progressCounter) add() int { return int(p.n.Add(1)) }

// outcome is the per-device slot filled by a worker.
type outcome struct {
	records []apstats.Record
	failure *Failure
}

// Collect fetches and parses every device and returns the merged result.
// It never fails as a whole: device failures are listed in
// [Result.Failures] and the remaining records are returned.
func (c *Collector) Collect(ctx context.Context, devices []Device) *Result {
	res := &Result{
		RunID:   uuid.New().String(),
		Started: time.Now(),
		Devices: len(devices),
	}
	logger := c.cfg.Logger.With("run_id", res.RunID)
	logger.Info("collection started", "devices", len(devices), "concurrency", c.cfg.Concurrency)

	outcomes := make([]outcome, len(devices))

	if p, ok := c.cfg.Fetcher.(Preparer); ok && len(devices) > 0 {
		if err := p.Prepare(ctx, devices); err != nil {
			logger.Warn("batch prepare failed", "error", err)
			for i, dev := range devices {
				f := Failure{Device: dev, Stage: StagePrepare, Err: err}
				outcomes[i].failure = &f
				c.report(f)
			}
			return c.merge(res, outcomes, logger)
		}
	}

	var done progressCounter
	if c.cfg.Concurrency == 1 {
		for i, dev := range devices {
			outcomes[i] = c.collectOne(ctx, logger, dev)
			c.progress(done.add(), len(devices))
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(c.cfg.Concurrency)
		for i, dev := range devices {
			g.Go(func() error {
				outcomes[i] = c.collectOne(ctx, logger, dev)
				c.progress(done.add(), len(devices))
				return nil
			})
		}
		_ = g.Wait() // workers never return errors
	}

	return c.merge(res, outcomes, logger)
}

func (c *Collector) collectOne(ctx context.Context, logger *slog.Logger, dev Device) outcome {
	logger.Info("retrieving AP ethernet statistics", "device", dev.Label())

	out, err := c.cfg.Fetcher.Fetch(ctx, dev)
	if err != nil {
		f := Failure{Device: dev, Controller: out.Controller, Stage: StageFetch, Err: err}
		c.report(f)
		return outcome{failure: &f}
	}

	controller := out.Controller
	if controller == "" {
		controller = dev.Label()
	}
	label := ""
	if c.cfg.Labeled {
		label = controller
	}

	records, err := c.cfg.Parser.Parse(out.Text, label)
	if err != nil {
		f := Failure{Device: dev, Controller: controller, Stage: StageParse, Err: err}
		c.report(f)
		return outcome{failure: &f}
	}

	logger.Debug("parsed AP ethernet statistics",
		"device", dev.Label(),
		"controller", controller,
		"degraded_ports", len(records),
	)
	return outcome{records: records}
}

func (c *Collector) report(f Failure) {
	c.cfg.Logger.Warn("device skipped",
		"device", f.Device.Label(),
		"controller", f.Controller,
		"stage", string(f.Stage),
		"error", f.Err,
	)
	if c.cfg.OnFailure != nil {
		c.cfg.OnFailure(f)
	}
}

func (c *Collector) progress(done, total int) {
	if c.cfg.OnProgress != nil {
		c.cfg.OnProgress(done, total)
	}
}

// merge flattens per-device outcomes in input order.
func (c *Collector) merge(res *Result, outcomes []outcome, logger *slog.Logger) *Result {
	res.Records = []apstats.Record{}
	for _, o := range outcomes {
		if o.failure != nil {
			res.Failures = append(res.Failures, *o.failure)
			continue
		}
		res.Records = append(res.Records, o.records...)
	}
	res.Finished = time.Now()

	logger.Info("collection finished",
		"devices", res.Devices,
		"failed", len(res.Failures),
		"degraded_ports", len(res.Records),
		"elapsed", res.Finished.Sub(res.Started).Round(time.Millisecond),
	)
	return res
}
