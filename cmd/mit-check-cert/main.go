package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mit-zabbix/mit-check-cert/internal/check"
	"github.com/mit-zabbix/mit-check-cert/internal/config"
	"github.com/mit-zabbix/mit-check-cert/internal/execrunner"
	"github.com/mit-zabbix/mit-check-cert/internal/logging"
	"github.com/mit-zabbix/mit-check-cert/internal/scanner"
	"github.com/mit-zabbix/mit-check-cert/internal/sender"
	"github.com/mit-zabbix/mit-check-cert/internal/zabbixapi"
)

const processName = "mit-check-cert"

// set by -ldflags at build time
var version = "dev"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// errRunFailed marks errors that were already logged
var errRunFailed = errors.New("run failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], config.DefaultPath, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, configPath string, stdout, stderr io.Writer) int {
	level := new(slog.LevelVar)
	logger := logging.New(processName, stdout, stderr, level).With("run_id", uuid.NewString())

	cmd := newRootCommand(configPath, logger, level)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errRunFailed) {
			return exitError
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	return exitOK
}

func newRootCommand(configPath string, logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	return &cobra.Command{
		Use:   processName + " <host> <vhost> <port>",
		Short: "Check the TLS certificate of a virtual host and report the result to Zabbix",
		Long: `Runs the testssl.sh based check script against https://<vhost>:<port> and
submits its output with zabbix_sender as mit-check-cert.sh[<vhost>:<port>]
for <host>. Settings are read from ` + configPath + `.`,
		Version:       version,
		Args:          cobra.ExactArgs(3),
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			target := check.Target{Host: args[0], VHost: args[1], Port: args[2]}
			if err := run(cmd.Context(), configPath, logger, level, target); err != nil {
				logger.Error("Check aborted", "error", err)
				return errRunFailed
			}
			return nil
		},
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger, level *slog.LevelVar, target check.Target) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	level.Set(logging.ParseLevel(cfg.LogLevel))

	checker, err := newChecker(cfg, logger)
	if err != nil {
		return err
	}

	if err := checker.Run(ctx, target); err != nil {
		return err
	}

	logger.Debug("READY.")
	return nil
}

// newChecker builds the API client, scanner and sender described by cfg
func newChecker(cfg *config.Config, logger *slog.Logger) (*check.Checker, error) {
	client, err := zabbixapi.New(zabbixapi.Options{
		URL:                     cfg.APIURL,
		Verify:                  cfg.APIVerify,
		CertificateVerification: cfg.CertificateVerification,
		Proxy:                   cfg.APIProxy,
		Timeout:                 cfg.APITimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create zabbix api client: %w", err)
	}
	if client.Insecure() {
		logger.Warn("Disabled certificate verification - please don't use this in production!")
	}

	tlsScanner := scanner.New(cfg.ScannerPath, execrunner.New(cfg.ScannerTimeout, logger), logger)
	zabbixSender := sender.New(cfg.SenderPath, cfg.ZabbixHost, execrunner.New(cfg.SenderTimeout, logger), logger)

	credentials := check.Credentials{User: cfg.APIUser, Password: cfg.APIPassword}
	return check.NewChecker(client, credentials, tlsScanner, zabbixSender, logger), nil
}
