package wlcssh

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nugget/apreport/internal/apstats"
	"github.com/nugget/apreport/internal/collect"
)

const testCommand = "show ap ethernet statistics"

const controllerOutput = `AP Name: AP-Lobby
Interface          Status   Speed      Duplex   Rx Packets  Tx Packets
------------------------------------------------------------------------
GigabitEthernet0   UP       100 Mbps   Full     1234        4321

AP Name: AP-Hall
Interface          Status   Speed      Duplex   Rx Packets  Tx Packets
------------------------------------------------------------------------
GigabitEthernet0   UP       1000 Mbps  Full     4321        1234`

// fakeController is an in-process SSH server that behaves like an IOS
// shell: it prints a prompt, echoes each line and answers from replies.
type fakeController struct {
	host    string
	user    string
	pass    string
	signer  ssh.Signer
	replies map[string]string
	hang    bool // never answer, never close
	addr    string
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return &fakeController{
		host:   "WLC-9800",
		user:   "admin",
		pass:   "cisco123",
		signer: signer,
		replies: map[string]string{
			"terminal length 0":  "",
			"terminal width 511": "",
			testCommand:          controllerOutput,
		},
	}
}

func (fc *fakeController) start(t *testing.T) {
	t.Helper()
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == fc.user && string(pass) == fc.pass {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(fc.signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	fc.addr = ln.Addr().String()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fc.serve(conn, cfg)
		}
	}()
}

func (fc *fakeController) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range chReqs {
				switch req.Type {
				case "pty-req":
					req.Reply(true, nil)
				case "shell":
					req.Reply(true, nil)
					go fc.shell(ch)
				default:
					req.Reply(false, nil)
				}
			}
		}()
	}
}

func (fc *fakeController) shell(ch ssh.Channel) {
	prompt := fc.host + "#"
	io.WriteString(ch, "\r\n"+prompt)
	if fc.hang {
		io.Copy(io.Discard, ch)
		return
	}
	sc := bufio.NewScanner(ch)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		io.WriteString(ch, line+"\r\n")
		if line == "exit" {
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			ch.Close()
			return
		}
		reply, ok := fc.replies[line]
		if !ok {
			reply = "                    ^\n% Invalid input detected at '^' marker."
		}
		if reply != "" {
			io.WriteString(ch, strings.ReplaceAll(reply, "\n", "\r\n")+"\r\n")
		}
		io.WriteString(ch, "\r\n"+prompt)
	}
}

func (fc *fakeController) device(t *testing.T) collect.Device {
	t.Helper()
	host, portStr, err := net.SplitHostPort(fc.addr)
	if err != nil {
		t.Fatalf("split %q: %v", fc.addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return collect.Device{Address: host, Port: port}
}

func newTestFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	if cfg.Command == "" {
		cfg.Command = testCommand
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	f, err := NewFetcher(cfg)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return f
}

func TestFetcher_Fetch(t *testing.T) {
	fc := newFakeController(t)
	fc.start(t)

	f := newTestFetcher(t, Config{Username: "admin", Password: "cisco123"})
	out, err := f.Fetch(context.Background(), fc.device(t))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if out.Controller != "WLC-9800" {
		t.Errorf("Controller = %q, want prompt host name", out.Controller)
	}

	records, err := apstats.Parse(out.Text, out.Controller)
	if err != nil {
		t.Fatalf("Parse fetched output: %v\n%s", err, out.Text)
	}
	if len(records) != 1 || records[0].AP != "AP-Lobby" || records[0].Speed != "100 Mbps" {
		t.Errorf("records = %+v", records)
	}
}

func TestFetcher_DeviceCredentialsOverrideDefaults(t *testing.T) {
	fc := newFakeController(t)
	fc.user, fc.pass = "site-admin", "site-pass"
	fc.start(t)

	f := newTestFetcher(t, Config{Username: "admin", Password: "cisco123"})
	dev := fc.device(t)
	dev.Credentials = collect.Credentials{Username: "site-admin", Password: "site-pass"}

	if _, err := f.Fetch(context.Background(), dev); err != nil {
		t.Fatalf("Fetch with device credentials: %v", err)
	}
}

func TestFetcher_AuthFailure(t *testing.T) {
	fc := newFakeController(t)
	fc.start(t)

	f := newTestFetcher(t, Config{Username: "admin", Password: "wrong"})
	dev := fc.device(t)
	out, err := f.Fetch(context.Background(), dev)
	if err == nil {
		t.Fatal("expected authentication error")
	}
	if out.Controller != dev.Address {
		t.Errorf("Controller = %q, want address %q on failure", out.Controller, dev.Address)
	}
	if out.Text != "" {
		t.Errorf("Text = %q, want empty", out.Text)
	}
}

func TestFetcher_CommandRejected(t *testing.T) {
	fc := newFakeController(t)
	delete(fc.replies, testCommand)
	fc.start(t)

	f := newTestFetcher(t, Config{Username: "admin", Password: "cisco123"})
	out, err := f.Fetch(context.Background(), fc.device(t))
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("err = %v, want ErrCommandRejected", err)
	}
	if out.Controller != "WLC-9800" {
		t.Errorf("Controller = %q, want host name even on command failure", out.Controller)
	}
}

func TestFetcher_Timeout(t *testing.T) {
	fc := newFakeController(t)
	fc.hang = true
	fc.start(t)

	f := newTestFetcher(t, Config{Username: "admin", Password: "cisco123", Timeout: 300 * time.Millisecond})
	start := time.Now()
	_, err := f.Fetch(context.Background(), fc.device(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Fetch took %v after a 300ms timeout", elapsed)
	}
}

func TestFetcher_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	f := newTestFetcher(t, Config{Username: "admin", Password: "x"})
	_, err = f.Fetch(context.Background(), collect.Device{Address: "127.0.0.1", Port: addr.Port})
	if err == nil || !strings.Contains(err.Error(), "dial") {
		t.Errorf("err = %v, want dial error", err)
	}
}

func TestFetcher_KnownHosts(t *testing.T) {
	fc := newFakeController(t)
	fc.start(t)

	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{fc.addr}, fc.signer.PublicKey())
	if err := os.WriteFile(path, []byte(line+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	f := newTestFetcher(t, Config{Username: "admin", Password: "cisco123", KnownHostsFile: path})
	if _, err := f.Fetch(context.Background(), fc.device(t)); err != nil {
		t.Fatalf("Fetch with matching host key: %v", err)
	}

	// Same address, different key.
	other := newFakeController(t)
	mismatch := knownhosts.Line([]string{fc.addr}, other.signer.PublicKey())
	if err := os.WriteFile(path, []byte(mismatch+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	f = newTestFetcher(t, Config{Username: "admin", Password: "cisco123", KnownHostsFile: path})
	if _, err := f.Fetch(context.Background(), fc.device(t)); err == nil {
		t.Fatal("Fetch should reject a mismatched host key")
	}
}

func TestNewFetcher_Errors(t *testing.T) {
	if _, err := NewFetcher(Config{}); err == nil {
		t.Error("NewFetcher without a command should fail")
	}
	if _, err := NewFetcher(Config{Command: testCommand, KnownHostsFile: "/nonexistent/known_hosts"}); err == nil {
		t.Error("NewFetcher with a missing known_hosts file should fail")
	}
}

func TestParseTranscript(t *testing.T) {
	raw := "\r\nWLC-9800#terminal length 0\r\n\r\nWLC-9800#" + testCommand + "\r\n" +
		"AP Name: AP-1\r\nInterface Status Speed Duplex\r\nGi0 UP 100 Mbps Full 1\r\n" +
		"\r\nWLC-9800#exit\r\n"

	got, err := ParseTranscript(raw, testCommand)
	if err != nil {
		t.Fatalf("ParseTranscript: %v", err)
	}
	if got.Hostname != "WLC-9800" {
		t.Errorf("Hostname = %q", got.Hostname)
	}
	want := "AP Name: AP-1\nInterface Status Speed Duplex\nGi0 UP 100 Mbps Full 1\n"
	if got.Output != want {
		t.Errorf("Output = %q, want %q", got.Output, want)
	}
}

func TestParseTranscript_Variants(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantHost string
		wantOut  string
		wantErr  error
	}{
		{
			name:     "user exec prompt",
			raw:      "wlc1>" + testCommand + "\nline\nwlc1>",
			wantHost: "wlc1",
			wantOut:  "line",
		},
		{
			name:     "ansi sequences",
			raw:      "\x1b[?2004hwlc1#" + testCommand + "\n\x1b[0mline\nwlc1#",
			wantHost: "wlc1",
			wantOut:  "line",
		},
		{
			name:     "no trailing prompt",
			raw:      "wlc1#" + testCommand + "\nline one\nline two",
			wantHost: "wlc1",
			wantOut:  "line one\nline two",
		},
		{
			name:     "no echo",
			raw:      "wlc1#terminal length 0\nwlc1#",
			wantHost: "wlc1",
			wantErr:  ErrNoEcho,
		},
		{
			name:     "empty",
			raw:      "",
			wantErr:  ErrNoEcho,
		},
		{
			name:     "incomplete command",
			raw:      "wlc1#" + testCommand + "\n% Incomplete command.\nwlc1#",
			wantHost: "wlc1",
			wantErr:  ErrCommandRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTranscript(tt.raw, testCommand)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got.Hostname != tt.wantHost {
				t.Errorf("Hostname = %q, want %q", got.Hostname, tt.wantHost)
			}
			if tt.wantErr == nil && got.Output != tt.wantOut {
				t.Errorf("Output = %q, want %q", got.Output, tt.wantOut)
			}
		})
	}
}

func ExampleParseTranscript() {
	t, _ := ParseTranscript("wlc1#show clock\n*10:00:00.000 UTC Sun Oct 18 2026\nwlc1#", "show clock")
	fmt.Println(t.Hostname)
	fmt.Println(t.Output)
	// Output:
	// wlc1
	// *10:00:00.000 UTC Sun Oct 18 2026
}
