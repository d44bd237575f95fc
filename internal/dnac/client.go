// Package dnac is a small Cisco DNA Center (Catalyst Center) REST client
// covering what the AP port report needs: token authentication, device
// inventory, the read-only command runner, task polling and file
// download.
package dnac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nugget/apreport/internal/config"
	"github.com/nugget/apreport/internal/httpkit"
)

const (
	authPath    = "/dna/system/api/v1/auth/token"
	devicesPath = "/dna/intent/api/v1/network-device"
	cliPath     = "/dna/intent/api/v1/network-device-poller/cli/read-request"
	taskPath    = "/dna/intent/api/v1/task/"
	filePath    = "/dna/intent/api/v1/file/"

	// Tokens are valid for 60 minutes; refresh early.
	tokenTTL = 50 * time.Minute
	tokenKey = "token"

	// devicePageSize is the largest page the inventory API returns.
	devicePageSize = 500
)

// ErrTaskFailed is returned when the command runner task reports isError.
var ErrTaskFailed = errors.New("dnac task failed")

// Device is one entry from the network device inventory. Only the fields
// the report needs are decoded.
type Device struct {
	ID                  string `json:"id"`
	Hostname            string `json:"hostname"`
	ManagementIPAddress string `json:"managementIpAddress"`
	Family              string `json:"family"`
	PlatformID          string `json:"platformId"`
	SoftwareVersion     string `json:"softwareVersion"`
	ReachabilityStatus  string `json:"reachabilityStatus"`
}

// Reachable reports whether DNA Center can currently manage the device.
func (d Device) Reachable() bool {
	return d.ReachabilityStatus == "Reachable"
}

// Task is the status of an asynchronous DNA Center operation.
type Task struct {
	ID            string `json:"id"`
	Progress      string `json:"progress"`
	IsError       bool   `json:"isError"`
	FailureReason string `json:"failureReason"`
	EndTime       int64  `json:"endTime"`
}

// FileID returns the result file id once the command runner has
// finished. The runner reports completion by putting a JSON document with
// a fileId into the progress field.
func (t Task) FileID() (string, bool) {
	var p struct {
		FileID string `json:"fileId"`
	}
	if err := json.Unmarshal([]byte(t.Progress), &p); err != nil || p.FileID == "" {
		return "", false
	}
	return p.FileID, true
}

// CommandResult is one device's entry in a command runner result file.
// Each map is keyed by the command text.
type CommandResult struct {
	DeviceUUID       string `json:"deviceUuid"`
	CommandResponses struct {
		Success     map[string]string `json:"SUCCESS"`
		Failure     map[string]string `json:"FAILURE"`
		Blacklisted map[string]string `json:"BLACKLISTED"`
	} `json:"commandResponses"`
}

// Config configures a Client.
type Config struct {
	URL                string
	Username           string
	Password           string
	InsecureSkipVerify bool

	// CommandTimeout is passed to the command runner, in seconds.
	// Zero lets DNA Center pick.
	CommandTimeout int

	Logger *slog.Logger
}

// Client talks to one DNA Center cluster.
type Client struct {
	baseURL    string
	username   string
	password   string
	cmdTimeout int
	httpClient *http.Client
	tokens     *cache.Cache
	logger     *slog.Logger
}

// NewClient creates a DNA Center client. cfg.URL must include the scheme.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []httpkit.ClientOption{
		httpkit.WithTimeout(60 * time.Second),
		httpkit.WithRetry(2, 2*time.Second),
		httpkit.WithLogger(cfg.Logger),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}

	return &Client{
		baseURL:    cfg.URL,
		username:   cfg.Username,
		password:   cfg.Password,
		cmdTimeout: cfg.CommandTimeout,
		httpClient: httpkit.NewClient(opts...),
		tokens:     cache.New(tokenTTL, 10*time.Minute),
		logger:     cfg.Logger,
	}
}

// Authenticate returns a session token, requesting a new one when the
// cached token is missing or expired.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if tok, ok := c.tokens.Get(tokenKey); ok {
		return tok.(string), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authPath, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := httpkit.CheckStatus(resp); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	var body struct {
		Token string `json:"Token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("authenticate: empty token")
	}

	c.tokens.Set(tokenKey, body.Token, cache.DefaultExpiration)
	c.logger.Debug("dnac token acquired", "url", c.baseURL)
	return body.Token, nil
}

// do sends an authenticated request and decodes a JSON response into
// out. A 401 drops the cached token and retries once with a fresh one.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.Authenticate(ctx)
		if err != nil {
			return err
		}

		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-Auth-Token", token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		c.logger.Log(ctx, config.LevelTrace, "dnac request", "method", method, "path", path, "body", string(body))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %s: %w", path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			httpkit.DrainAndClose(resp.Body, 4096)
			c.tokens.Delete(tokenKey)
			continue
		}

		err = decodeResponse(resp, out)
		httpkit.DrainAndClose(resp.Body, 4096)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		return nil
	}
}

func decodeResponse(resp *http.Response, out any) error {
	if err := httpkit.CheckStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListDevices returns every inventory device of the given family, e.g.
// "Wireless Controller". An empty family lists everything.
func (c *Client) ListDevices(ctx context.Context, family string) ([]Device, error) {
	var all []Device
	for offset := 1; ; offset += devicePageSize {
		q := url.Values{}
		if family != "" {
			q.Set("family", family)
		}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(devicePageSize))

		var page struct {
			Response []Device `json:"response"`
		}
		if err := c.do(ctx, http.MethodGet, devicesPath+"?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Response...)
		if len(page.Response) < devicePageSize {
			return all, nil
		}
	}
}

// RunReadOnlyCommands starts the command runner for the given device
// ids and returns the task id.
func (c *Client) RunReadOnlyCommands(ctx context.Context, commands, deviceIDs []string) (string, error) {
	payload := struct {
		Commands    []string `json:"commands"`
		DeviceUUIDs []string `json:"deviceUuids"`
		Timeout     int      `json:"timeout"`
	}{commands, deviceIDs, c.cmdTimeout}

	var out struct {
		Response struct {
			TaskID string `json:"taskId"`
			URL    string `json:"url"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, cliPath, payload, &out); err != nil {
		return "", err
	}
	if out.Response.TaskID == "" {
		return "", errors.New("command runner returned no task id")
	}
	return out.Response.TaskID, nil
}

// GetTask returns the current status of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var out struct {
		Response Task `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, taskPath+url.PathEscape(taskID), nil, &out); err != nil {
		return Task{}, err
	}
	return out.Response, nil
}

// PollConfig bounds WaitForFile.
type PollConfig struct {
	// Interval is the first delay between task polls (default 2s).
	Interval time.Duration

	// MaxInterval caps the doubling delay (default 30s).
	MaxInterval time.Duration

	// Timeout bounds the whole wait (default 5m).
	Timeout time.Duration
}

func (p PollConfig) withDefaults() PollConfig {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Minute
	}
	return p
}

// WaitForFile polls a command runner task until it produces a result
// file, backing off exponentially between polls. It fails when the task
// reports an error or the poll timeout elapses.
func (c *Client) WaitForFile(ctx context.Context, taskID string, poll PollConfig) (string, error) {
	poll = poll.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, poll.Timeout)
	defer cancel()

	delay := poll.Interval
	for attempt := 1; ; attempt++ {
		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("wait for task %s: %w", taskID, ctx.Err())
			}
			return "", err
		}
		if task.IsError {
			return "", fmt.Errorf("%w: %s: %s", ErrTaskFailed, taskID, task.FailureReason)
		}
		if id, ok := task.FileID(); ok {
			c.logger.Debug("dnac task complete", "task", taskID, "file", id, "polls", attempt)
			return id, nil
		}

		c.logger.Debug("dnac task pending",
			"task", taskID,
			"progress", task.Progress,
			"attempt", attempt,
			"next_delay", delay.String(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("wait for task %s: %w", taskID, ctx.Err())
		case <-timer.C:
		}

		delay = min(delay*2, poll.MaxInterval)
	}
}

// DownloadFile fetches a command runner result file.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]CommandResult, error) {
	var out []CommandResult
	if err := c.do(ctx, http.MethodGet, filePath+url.PathEscape(fileID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks that DNA Center is reachable and the credentials work.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Response int `json:"response"`
	}
	return c.do(ctx, http.MethodGet, devicesPath+"/count", nil, &out)
}
