package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/sms-bridge/bridge"
	"github.com/dhcgn/sms-bridge/cmd"
	"github.com/dhcgn/sms-bridge/config"
	"github.com/dhcgn/sms-bridge/content"
	"github.com/dhcgn/sms-bridge/filter"
	"github.com/dhcgn/sms-bridge/imap"
	"github.com/dhcgn/sms-bridge/inbox"
	"github.com/dhcgn/sms-bridge/mailer"
	"github.com/dhcgn/sms-bridge/mbox"
	"github.com/dhcgn/sms-bridge/progress"
	"github.com/dhcgn/sms-bridge/relay"
	"github.com/dhcgn/sms-bridge/runner"
	"github.com/dhcgn/sms-bridge/stats"
	"github.com/dhcgn/sms-bridge/vault"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sms-bridge",
		Short: "Relay encrypted SMS payloads to email",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting sms-bridge", "inbox", cfg.InboxPath, "workers", cfg.Workers, "dryRun", cfg.DryRun)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewDecodeCommand(), cmd.NewOutboxStatsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	registry, err := loadRegistry(cfg.BridgesPath)
	if err != nil {
		return err
	}

	decrypter, registrar, err := setupVault(cfg, logger)
	if err != nil {
		return err
	}

	policy, err := filter.New(filter.Options{
		IncludeRecipient: cfg.IncludeRecipient,
		IncludeBody:      cfg.IncludeBody,
		ExcludeRecipient: cfg.ExcludeRecipient,
		ExcludeBody:      cfg.ExcludeBody,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	deliverer, closeDeliverers, err := setupDeliverers(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeliverers()

	emailBridge, err := mailer.New(mailer.Options{
		AliasDomain: cfg.AliasDomain,
		AliasPrefix: cfg.AliasPrefix,
		AliasSuffix: cfg.AliasSuffix,
	}, deliverer, logger)
	if err != nil {
		return fmt.Errorf("mailer.New: %w", err)
	}

	service, err := relay.New(relay.Options{MaxContentLength: cfg.MaxContentLength}, relay.Dependencies{
		Registry:   registry,
		Decrypter:  decrypter,
		Registrar:  registrar,
		Publishers: map[string]bridge.Publisher{content.EmailBridge: emailBridge},
		Policy:     policy,
	}, logger)
	if err != nil {
		return fmt.Errorf("relay.New: %w", err)
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	defer func() {
		if closer, ok := r.Tracker().(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Error("close publication ledger", "err", err)
			}
		}
	}()
	setupReporter(cfg, r, logger)

	if _, err := relay.NewPool(service, r, cfg.Workers, logger); err != nil {
		return fmt.Errorf("relay.NewPool: %w", err)
	}
	if _, err := inbox.NewProducer(inbox.Options{Path: cfg.InboxPath, MaxLineBytes: cfg.MaxContentLength * 4}, r, logger); err != nil {
		r.CloseInbox()
		return fmt.Errorf("inbox.NewProducer: %w", err)
	}

	ctx, stop := signal.NotifyContext(r.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return r.Start()
}

func setupReporter(cfg config.Config, r *runner.Runner, logger *slog.Logger) {
	if cfg.LogLevel != "info" || cfg.InboxPath == inbox.Stdin {
		stats.NewReporter(r, logger)
		return
	}
	total, err := progress.CountLines(cfg.InboxPath)
	if err != nil {
		logger.Warn("progress bar disabled", "err", err)
		stats.NewReporter(r, logger)
		return
	}
	progress.NewReporter(r, progress.New(total, cfg.LogLevel), logger)
}

func loadRegistry(path string) (*bridge.Registry, error) {
	if path == "" {
		return bridge.DefaultRegistry()
	}
	registry, err := bridge.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("bridge.LoadRegistry: %w", err)
	}
	return registry, nil
}

func setupVault(cfg config.Config, logger *slog.Logger) (vault.Decrypter, vault.Registrar, error) {
	if cfg.AgeIdentity != "" {
		dec, err := vault.LoadAgeDecrypter(cfg.AgeIdentity)
		if err != nil {
			return nil, nil, fmt.Errorf("vault.LoadAgeDecrypter: %w", err)
		}
		logger.Warn("using local age identity, registrations are disabled", "identity", cfg.AgeIdentity)
		return dec, dec, nil
	}

	client, err := vault.NewClient(vault.Options{
		BaseURL: cfg.VaultURL,
		Token:   cfg.VaultToken,
		Timeout: cfg.VaultTimeout,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("vault.NewClient: %w", err)
	}
	return client, client, nil
}

func setupDeliverers(cfg config.Config, logger *slog.Logger) (mailer.Deliverer, func(), error) {
	if cfg.DryRun {
		return mailer.DryRun{Logger: logger}, func() {}, nil
	}

	var (
		fanout  mailer.Fanout
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close deliverer", "err", err)
			}
		}
	}

	if cfg.IMAPHost != "" {
		uploader, err := imap.NewUploader(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			TargetFolder:       cfg.TargetFolder,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("imap.NewUploader: %w", err)
		}
		fanout = append(fanout, uploader)
		closers = append(closers, uploader)
	}

	if cfg.OutboxMbox != "" {
		writer, err := mbox.NewWriter(cfg.OutboxMbox, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("mbox.NewWriter: %w", err)
		}
		fanout = append(fanout, writer)
		closers = append(closers, writer)
	}

	return fanout, closeAll, nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("sms-bridge-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
