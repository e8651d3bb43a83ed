package driver

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHDriver captures device configurations over SSH. Connection and command
// execution are bounded by timeout; Capture always returns within
// dial timeout + per-command timeout * command count.
type SSHDriver struct {
	Host         string
	Port         int
	Username     string
	Password     string
	EnableSecret string
	Commands     CommandSet

	timeout time.Duration
}

// NewSSHDriver creates a driver for one device.
func NewSSHDriver(host string, port int, username, password, enableSecret string, commands CommandSet) *SSHDriver {
	if port == 0 {
		port = 22
	}
	return &SSHDriver{
		Host:         host,
		Port:         port,
		Username:     username,
		Password:     password,
		EnableSecret: enableSecret,
		Commands:     commands,
		timeout:      30 * time.Second,
	}
}

func (d *SSHDriver) addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d *SSHDriver) clientConfig() *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User: d.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(d.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = d.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.timeout,
	}
	// Older network gear still negotiates legacy algorithms
	cfg.KeyExchanges = append(cfg.KeyExchanges,
		"diffie-hellman-group1-sha1", "diffie-hellman-group14-sha1", "diffie-hellman-group-exchange-sha1")
	cfg.Ciphers = append(cfg.Ciphers, "aes128-cbc", "3des-cbc")
	return cfg
}

// Capture connects, runs the command set and returns the configuration text
// or a typed failure.
func (d *SSHDriver) Capture() CaptureResult {
	start := time.Now()

	client, err := ssh.Dial("tcp", d.addr(), d.clientConfig())
	if err != nil {
		return d.failure(classifyDialError(err), err, start)
	}
	defer client.Close()

	// Devices that need privileged mode are driven through an interactive
	// shell; everything else uses one exec session per command, which gives
	// clean per-command output.
	if d.Commands.EnableCommand != "" && d.EnableSecret != "" {
		return d.captureInteractive(client, start)
	}

	for _, cmd := range d.Commands.Pre {
		// Terminal setup is best-effort; some devices reject it over exec
		d.runCommand(client, cmd)
	}

	var parts []string
	for _, cmd := range d.Commands.Backup {
		out, err := d.runCommand(client, cmd)
		if err != nil {
			kind := FailureOther
			if strings.Contains(err.Error(), "timed out") {
				kind = FailureTimeout
			}
			return d.failure(kind, fmt.Errorf("command %q failed: %v", cmd, err), start)
		}
		parts = append(parts, strings.TrimRight(out, "\r\n"))
	}

	for _, cmd := range d.Commands.Post {
		d.runCommand(client, cmd)
	}

	return CaptureResult{
		Success:    true,
		Config:     strings.Join(parts, "\n"),
		VendorInfo: d.collectVendorInfo(client),
		Duration:   time.Since(start).Seconds(),
	}
}

// runCommand executes one command in its own session with a timeout.
func (d *SSHDriver) runCommand(client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	type execResult struct {
		out []byte
		err error
	}
	done := make(chan execResult, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- execResult{out, err}
	}()

	select {
	case r := <-done:
		return string(r.out), r.err
	case <-time.After(d.timeout):
		session.Close()
		return "", fmt.Errorf("command %q timed out after %s", cmd, d.timeout)
	}
}

// captureInteractive drives a shell with a pty: terminal setup, enable mode,
// then the backup commands. The transcript is cleaned of echoes and prompts.
func (d *SSHDriver) captureInteractive(client *ssh.Client, start time.Time) CaptureResult {
	session, err := client.NewSession()
	if err != nil {
		return d.failure(FailureOther, err, start)
	}
	defer session.Close()

	var out lockedBuffer
	session.Stdout = &out
	session.Stderr = &out

	stdin, err := session.StdinPipe()
	if err != nil {
		return d.failure(FailureOther, err, start)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("vt100", 200, 80, modes); err != nil {
		return d.failure(FailureOther, fmt.Errorf("pty request failed: %v", err), start)
	}
	if err := session.Shell(); err != nil {
		return d.failure(FailureOther, fmt.Errorf("shell request failed: %v", err), start)
	}

	var sent []string
	write := func(line string) {
		fmt.Fprintf(stdin, "%s\n", line)
		sent = append(sent, line)
		time.Sleep(500 * time.Millisecond)
	}

	for _, cmd := range d.Commands.Pre {
		write(cmd)
	}

	write(d.Commands.EnableCommand)
	fmt.Fprintf(stdin, "%s\n", d.EnableSecret)
	time.Sleep(time.Second)

	if enableRejected(out.String()) {
		return d.failure(FailureEnable, errors.New("device rejected enable secret"), start)
	}

	for _, cmd := range d.Commands.Backup {
		write(cmd)
		// Large configs stream for a while after the command echo
		time.Sleep(2 * time.Second)
	}
	for _, cmd := range d.Commands.Post {
		write(cmd)
	}
	write("exit")

	waited := make(chan error, 1)
	go func() { waited <- session.Wait() }()
	select {
	case <-waited:
	case <-time.After(d.timeout):
		session.Close()
	}

	transcript := out.String()
	if enableRejected(transcript) {
		return d.failure(FailureEnable, errors.New("device rejected enable secret"), start)
	}

	return CaptureResult{
		Success:    true,
		Config:     cleanTranscript(transcript, sent),
		VendorInfo: map[string]string{},
		Duration:   time.Since(start).Seconds(),
	}
}

func (d *SSHDriver) collectVendorInfo(client *ssh.Client) map[string]string {
	info := make(map[string]string)
	for field, cmd := range d.Commands.InfoCommands {
		if out, err := d.runCommand(client, cmd); err == nil {
			if line := firstLine(out); line != "" {
				info[field] = line
			}
		}
	}
	return info
}

func (d *SSHDriver) failure(kind FailureKind, err error, start time.Time) CaptureResult {
	return CaptureResult{
		Success:      false,
		ErrorKind:    kind,
		ErrorMessage: err.Error(),
		Duration:     time.Since(start).Seconds(),
	}
}

// ConnectionResult contains the result of a connection test
type ConnectionResult struct {
	Success    bool              `json:"success"`
	IsOnline   bool              `json:"is_online"`
	AuthOK     bool              `json:"auth_ok"`
	ErrorMsg   string            `json:"error,omitempty"`
	DeviceInfo map[string]string `json:"device_info"`
}

// TestConnection checks reachability and authentication without capturing.
func (d *SSHDriver) TestConnection() ConnectionResult {
	result := ConnectionResult{DeviceInfo: make(map[string]string)}

	conn, err := net.DialTimeout("tcp", d.addr(), 5*time.Second)
	if err != nil {
		result.ErrorMsg = fmt.Sprintf("Cannot reach device: %v", err)
		return result
	}
	conn.Close()
	result.IsOnline = true

	client, err := ssh.Dial("tcp", d.addr(), d.clientConfig())
	if err != nil {
		if classifyDialError(err) == FailureAuth {
			result.ErrorMsg = "Authentication failed: invalid username or password"
		} else {
			result.ErrorMsg = fmt.Sprintf("SSH connection failed: %v", err)
		}
		return result
	}
	defer client.Close()

	result.AuthOK = true
	result.Success = true
	result.DeviceInfo = d.collectVendorInfo(client)
	return result
}

func classifyDialError(err error) FailureKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "permission denied") {
		return FailureAuth
	}
	if strings.Contains(msg, "i/o timeout") {
		return FailureTimeout
	}
	return FailureConnection
}

func enableRejected(transcript string) bool {
	lower := strings.ToLower(transcript)
	return strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "bad secrets") ||
		strings.Contains(lower, "invalid password")
}

// cleanTranscript removes command echoes and prompt lines from an
// interactive capture.
func cleanTranscript(transcript string, sentCommands []string) string {
	echoed := make(map[string]bool, len(sentCommands))
	for _, cmd := range sentCommands {
		echoed[cmd] = true
	}

	var kept []string
	for _, line := range strings.Split(transcript, "\n") {
		trimmed := strings.TrimSpace(strings.TrimRight(line, "\r"))
		if trimmed == "" && len(kept) > 0 && kept[len(kept)-1] == "" {
			continue
		}
		if echoed[trimmed] {
			continue
		}
		if isPromptLine(trimmed) {
			continue
		}
		kept = append(kept, strings.TrimRight(line, "\r"))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// isPromptLine matches bare device prompts like "router#" or "switch>".
func isPromptLine(line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasSuffix(line, "#") && !strings.HasSuffix(line, ">") {
		return false
	}
	return !strings.Contains(line, " ")
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// lockedBuffer is an io.Writer safe for the session's output goroutine while
// the driver polls String.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
