// Package wlcssh fetches command output from Cisco wireless LAN
// controllers over an interactive SSH session. It implements
// [collect.Fetcher] for the single-controller and fleet reports.
package wlcssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nugget/apreport/internal/collect"
	"github.com/nugget/apreport/internal/config"
)

// Config configures a Fetcher.
type Config struct {
	// Command is run on every controller.
	Command string

	// Port is used when a device does not set its own (default 22).
	Port int

	// Timeout bounds one whole device session: dial, authentication,
	// command execution and reading the output (default 30s).
	Timeout time.Duration

	// Username and Password apply to devices without credentials.
	Username string
	Password string

	// KnownHostsFile enables host key verification. Empty accepts any
	// key.
	KnownHostsFile string

	// Logger for structured logging.
	Logger *slog.Logger
}

// Fetcher runs one command per controller over SSH.
type Fetcher struct {
	cfg     Config
	hostKey ssh.HostKeyCallback
}

// NewFetcher creates an SSH fetcher. It fails only when a known_hosts
// file is configured and cannot be read.
func NewFetcher(cfg Config) (*Fetcher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Command == "" {
		return nil, errors.New("wlcssh: command is required")
	}

	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec // explicit opt-out via empty known_hosts
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKey = cb
	}

	return &Fetcher{cfg: cfg, hostKey: hostKey}, nil
}

// Fetch implements [collect.Fetcher]. The returned controller identifier
// is the prompt host name when the session got far enough to see one,
// otherwise the device address.
func (f *Fetcher) Fetch(ctx context.Context, dev collect.Device) (collect.Output, error) {
	out := collect.Output{Controller: dev.Address}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	port := dev.Port
	if port == 0 {
		port = f.cfg.Port
	}
	addr := net.JoinHostPort(dev.Address, strconv.Itoa(port))

	client, err := f.dial(ctx, addr, f.credentials(dev))
	if err != nil {
		return out, err
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	raw, err := f.runShell(ctx, client)
	f.cfg.Logger.Log(ctx, config.LevelTrace, "ssh transcript",
		"device", dev.Address,
		"bytes", len(raw),
		"transcript", raw,
	)
	if err != nil {
		return out, fmt.Errorf("run %q: %w", f.cfg.Command, err)
	}

	t, err := ParseTranscript(raw, f.cfg.Command)
	if t.Hostname != "" {
		out.Controller = t.Hostname
	}
	if err != nil {
		return out, err
	}

	out.Text = t.Output
	return out, nil
}

func (f *Fetcher) credentials(dev collect.Device) collect.Credentials {
	c := dev.Credentials
	if c.Username == "" {
		c.Username = f.cfg.Username
	}
	if c.Password == "" {
		c.Password = f.cfg.Password
	}
	return c
}

// dial connects and authenticates. The connection is closed if ctx ends
// during the handshake.
func (f *Fetcher) dial(ctx context.Context, addr string, creds collect.Credentials) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = creds.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: f.hostKey,
		Timeout:         f.cfg.Timeout,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() && err == nil {
		// ctx ended right after the handshake; the conn is closed.
		c.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, ctx.Err())
	}
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ssh handshake %s: %w", addr, ctx.Err())
		}
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// runShell opens an interactive shell, disables paging, runs the
// command, exits, and returns everything the controller printed.
// Controllers running IOS-XE expect a PTY and an interactive shell;
// exec requests are not reliably supported.
func (f *Fetcher) runShell(ctx context.Context, client *ssh.Client) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	if err := session.RequestPty("vt100", 200, 511, ssh.TerminalModes{ssh.ECHO: 1}); err != nil {
		return "", fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	var stdout bytes.Buffer
	session.Stdout = &stdout

	if err := session.Shell(); err != nil {
		return "", fmt.Errorf("start shell: %w", err)
	}

	for _, line := range []string{"terminal length 0", "terminal width 511", f.cfg.Command, "exit"} {
		if _, err := fmt.Fprintf(stdin, "%s\n", line); err != nil {
			return "", fmt.Errorf("send %q: %w", line, err)
		}
	}

	err = session.Wait()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	var exitMissing *ssh.ExitMissingError
	var exitErr *ssh.ExitError
	if err != nil && !errors.As(err, &exitMissing) && !errors.As(err, &exitErr) {
		return stdout.String(), fmt.Errorf("session: %w", err)
	}
	return stdout.String(), nil
}
