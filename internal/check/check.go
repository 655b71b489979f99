// Package check runs one certificate check for a (host, vhost, port) triple:
// log in to the Zabbix API, scan the endpoint, and push the result with
// zabbix_sender. Scan and send failures are logged and swallowed; only a
// failed login or an aborted run is returned to the caller.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mit-zabbix/mit-check-cert/internal/scanner"
	"github.com/mit-zabbix/mit-check-cert/internal/sender"
)

// Target identifies the endpoint to check and the Zabbix host it reports to
type Target struct {
	Host  string
	VHost string
	Port  string
}

// Session is the part of the Zabbix API client a run needs
type Session interface {
	Login(ctx context.Context, user, password string) error
	APIVersion(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Scanner checks a TLS endpoint
type Scanner interface {
	Scan(ctx context.Context, vhost, port string) (scanner.Outcome, error)
}

// Sender submits a value to the Zabbix server
type Sender interface {
	Send(ctx context.Context, host, key, value string) (sender.Report, error)
}

// Credentials for the Zabbix API
type Credentials struct {
	User     string
	Password string
}

// Checker wires the three collaborators of a run
type Checker struct {
	session     Session
	credentials Credentials
	scanner     Scanner
	sender      Sender
	logger      *slog.Logger
}

// NewChecker creates a checker
func NewChecker(session Session, credentials Credentials, scanner Scanner, sender Sender, logger *slog.Logger) *Checker {
	return &Checker{
		session:     session,
		credentials: credentials,
		scanner:     scanner,
		sender:      sender,
		logger:      logger,
	}
}

// Run performs one scan and at most one send for target
func (c *Checker) Run(ctx context.Context, target Target) error {
	if err := c.session.Login(ctx, c.credentials.User, c.credentials.Password); err != nil {
		return fmt.Errorf("zabbix api login failed: %w", err)
	}
	defer c.logout(ctx)

	if version, err := c.session.APIVersion(ctx); err != nil {
		c.logger.Debug("Could not query Zabbix API version", "error", err)
	} else {
		c.logger.Debug(fmt.Sprintf("Connected to Zabbix API Version %s", version))
	}

	url := scanner.TargetURL(target.VHost, target.Port)
	c.logger.Info(fmt.Sprintf("Checking %s", url), "host", target.Host)

	outcome, err := c.scanner.Scan(ctx, target.VHost, target.Port)
	if err != nil {
		var scanErr *scanner.ScanError
		if !errors.As(err, &scanErr) {
			return err
		}
		msg := fmt.Sprintf("Got returncode %d and stderr='%s' while checking %s via %s",
			scanErr.ExitCode, scanErr.Stderr, target.Host, scanErr.URL)
		if scanErr.Err != nil {
			c.logger.Warn(msg, "error", scanErr.Err)
		} else {
			c.logger.Warn(msg)
		}
		return nil
	}

	key := sender.MetricKey(target.VHost, target.Port)
	if _, err := c.sender.Send(ctx, target.Host, key, outcome.Value); err != nil {
		var sendErr *sender.SendError
		if !errors.As(err, &sendErr) {
			return err
		}
		attrs := []any{"exit_code", sendErr.ExitCode}
		if sendErr.Err != nil {
			attrs = append(attrs, "error", sendErr.Err)
		}
		c.logger.Error(fmt.Sprintf("Got error while executing %v", sendErr.Cmd), attrs...)
		if sendErr.Output != "" {
			c.logger.Error(sendErr.Output)
		}
		return nil
	}

	c.logger.Info(fmt.Sprintf("Transmitted result '%s' for %s to zabbix server", outcome.Value, target.Host),
		"key", key,
	)
	return nil
}

func (c *Checker) logout(ctx context.Context) {
	if err := c.session.Logout(context.WithoutCancel(ctx)); err != nil {
		c.logger.Debug("Zabbix API logout failed", "error", err)
	}
}
