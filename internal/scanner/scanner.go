// Package scanner runs the external TLS check script against a virtual host.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mit-zabbix/mit-check-cert/internal/execrunner"
)

// TargetURL builds the URL handed to the scanner. vhost and port are used verbatim.
func TargetURL(vhost, port string) string {
	return fmt.Sprintf("https://%s:%s", vhost, port)
}

// Outcome of a successful scan
type Outcome struct {
	Value string
}

// ScanError reports a scan that did not produce a usable result
type ScanError struct {
	URL      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan of %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("scan of %s failed with returncode %d: %s", e.URL, e.ExitCode, e.Stderr)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Scanner invokes the check script
type Scanner struct {
	path   string
	runner execrunner.Runner
	logger *slog.Logger
}

// New creates a scanner for the executable at path
func New(path string, runner execrunner.Runner, logger *slog.Logger) *Scanner {
	return &Scanner{
		path:   path,
		runner: runner,
		logger: logger.With("component", "scanner"),
	}
}

// Scan checks https://vhost:port. The scan only counts as successful when the
// script exits 0 and writes nothing to stderr; stdout is then the result.
func (s *Scanner) Scan(ctx context.Context, vhost, port string) (Outcome, error) {
	url := TargetURL(vhost, port)

	result, err := s.runner.Run(ctx, s.path, url)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, err
		}
		return Outcome{}, &ScanError{URL: url, ExitCode: -1, Stderr: result.Stderr, Err: err}
	}

	if result.ExitCode != 0 || len(result.Stderr) != 0 {
		return Outcome{}, &ScanError{URL: url, ExitCode: result.ExitCode, Stderr: result.Stderr}
	}

	value := strings.TrimSpace(result.Stdout)
	s.logger.Debug("Got scan result", "value", value, "cmd", []string{s.path, url})

	return Outcome{Value: value}, nil
}
