// Package sender pushes a single trapper value to the Zabbix server with zabbix_sender.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mit-zabbix/mit-check-cert/internal/execrunner"
)

// MetricKey builds the trapper item key for a checked endpoint
func MetricKey(vhost, port string) string {
	return fmt.Sprintf("mit-check-cert.sh[%s:%s]", vhost, port)
}

// Report is the server summary printed by zabbix_sender
type Report struct {
	Processed int
	Failed    int
	Total     int
	Output    string
}

// SendError reports a zabbix_sender invocation that did not succeed
type SendError struct {
	Cmd      []string
	ExitCode int
	Output   string
	Err      error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("zabbix_sender failed: %v", e.Err)
	}
	return fmt.Sprintf("zabbix_sender exited with code %d", e.ExitCode)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Sender wraps the zabbix_sender binary
type Sender struct {
	path   string
	server string
	runner execrunner.Runner
	logger *slog.Logger
}

// New creates a sender that submits to server
func New(path, server string, runner execrunner.Runner, logger *slog.Logger) *Sender {
	return &Sender{
		path:   path,
		server: server,
		runner: runner,
		logger: logger.With("component", "sender"),
	}
}

// Command returns the argv used to submit value for host under key
func (s *Sender) Command(host, key, value string) []string {
	return []string{s.path, "-z", s.server, "-s", host, "-k", key, "-o", value}
}

// Send submits value for host under key
func (s *Sender) Send(ctx context.Context, host, key, value string) (Report, error) {
	cmd := s.Command(host, key, value)
	s.logger.Debug("Executing zabbix_sender", "cmd", cmd)

	result, err := s.runner.Run(ctx, cmd[0], cmd[1:]...)
	output := strings.TrimSpace(strings.Join([]string{result.Stdout, result.Stderr}, "\n"))
	if err != nil {
		if ctx.Err() != nil {
			return Report{}, err
		}
		return Report{}, &SendError{Cmd: cmd, ExitCode: -1, Output: output, Err: err}
	}
	if result.ExitCode != 0 {
		return Report{}, &SendError{Cmd: cmd, ExitCode: result.ExitCode, Output: output}
	}

	report := ParseReport(result.Stdout)
	s.logger.Debug("Called zabbix_sender",
		"output", report.Output,
		"processed", report.Processed,
		"failed", report.Failed,
	)

	return report, nil
}

var summaryPattern = regexp.MustCompile(`processed: (\d+); failed: (\d+); total: (\d+)`)

// ParseReport extracts the server summary from zabbix_sender output.
// Unknown output leaves the counters at zero.
func ParseReport(output string) Report {
	report := Report{Output: strings.TrimSpace(output)}

	m := summaryPattern.FindStringSubmatch(output)
	if m == nil {
		return report
	}
	report.Processed, _ = strconv.Atoi(m[1])
	report.Failed, _ = strconv.Atoi(m[2])
	report.Total, _ = strconv.Atoi(m[3])
	return report
}
