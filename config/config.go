package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to run the relay.
type Config struct {
	InboxPath          string
	BridgesPath        string
	Workers            int
	MaxContentLength   int
	VaultURL           string
	VaultToken         string
	VaultTimeout       time.Duration
	AgeIdentity        string
	AliasDomain        string
	AliasPrefix        string
	AliasSuffix        string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	OutboxMbox         string
	StateDir           string
	DryRun             bool
	LogLevel           string
	LogDir             string
	IncludeRecipient   []string
	IncludeBody        []string
	ExcludeRecipient   []string
	ExcludeBody        []string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("inbox", "", "JSONL file of publish requests, or - for stdin")
	flags.String("bridges", "", "Bridge registry file (YAML or JSON); built-in registry when empty")
	flags.Int("workers", 10, "Number of requests handled concurrently")
	flags.Int("max-content-length", 8192, "Maximum length of the base64 content of a request")
	flags.String("vault-url", "", "Base URL of the vault service")
	flags.String("vault-token", "", "Vault bearer token (falls back to VAULT_TOKEN env var)")
	flags.Duration("vault-timeout", 10*time.Second, "Timeout of a single vault request")
	flags.String("age-identity", "", "age identity file for local decryption instead of the vault")
	flags.String("alias-domain", "relaysms.me", "Domain of the sender alias addresses")
	flags.String("alias-prefix", "", "Prefix of the sender alias local part")
	flags.String("alias-suffix", "", "Suffix of the sender alias local part")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-folder", "Outbox", "IMAP folder receiving composed mail")
	flags.String("outbox-mbox", "", "Also archive composed mail into this mbox file")
	flags.String("state-dir", defaultStateDir, "Directory for the publication ledger")
	flags.Bool("dry-run", false, "Decode and compose without delivering or persisting state")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringArray("include-recipient", nil, "Regex allow-list applied to recipient addresses (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-recipient", nil, "Regex block-list applied to recipient addresses (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	if err := cmd.MarkFlagRequired("inbox"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	var (
		cfg Config
		err error
	)

	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"inbox", &cfg.InboxPath},
		{"bridges", &cfg.BridgesPath},
		{"vault-url", &cfg.VaultURL},
		{"vault-token", &cfg.VaultToken},
		{"age-identity", &cfg.AgeIdentity},
		{"alias-domain", &cfg.AliasDomain},
		{"alias-prefix", &cfg.AliasPrefix},
		{"alias-suffix", &cfg.AliasSuffix},
		{"imap-host", &cfg.IMAPHost},
		{"imap-user", &cfg.IMAPUser},
		{"imap-pass", &cfg.IMAPPass},
		{"target-folder", &cfg.TargetFolder},
		{"outbox-mbox", &cfg.OutboxMbox},
		{"state-dir", &cfg.StateDir},
		{"log-level", &cfg.LogLevel},
		{"log-dir", &cfg.LogDir},
	}
	for _, f := range stringFlags {
		if *f.dst, err = flags.GetString(f.name); err != nil {
			return Config{}, err
		}
	}

	intFlags := []struct {
		name string
		dst  *int
	}{
		{"workers", &cfg.Workers},
		{"max-content-length", &cfg.MaxContentLength},
		{"imap-port", &cfg.IMAPPort},
	}
	for _, f := range intFlags {
		if *f.dst, err = flags.GetInt(f.name); err != nil {
			return Config{}, err
		}
	}

	boolFlags := []struct {
		name string
		dst  *bool
	}{
		{"use-tls", &cfg.UseTLS},
		{"insecure-skip-verify", &cfg.InsecureSkipVerify},
		{"dry-run", &cfg.DryRun},
	}
	for _, f := range boolFlags {
		if *f.dst, err = flags.GetBool(f.name); err != nil {
			return Config{}, err
		}
	}

	arrayFlags := []struct {
		name string
		dst  *[]string
	}{
		{"include-recipient", &cfg.IncludeRecipient},
		{"include-body", &cfg.IncludeBody},
		{"exclude-recipient", &cfg.ExcludeRecipient},
		{"exclude-body", &cfg.ExcludeBody},
	}
	for _, f := range arrayFlags {
		if *f.dst, err = flags.GetStringArray(f.name); err != nil {
			return Config{}, err
		}
	}

	if cfg.VaultTimeout, err = flags.GetDuration("vault-timeout"); err != nil {
		return Config{}, err
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.VaultToken == "" {
		cfg.VaultToken = os.Getenv("VAULT_TOKEN")
	}

	if cfg.StateDir == "" {
		cfg.StateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.InboxPath == "" {
		return fmt.Errorf("--inbox is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be positive")
	}
	if cfg.MaxContentLength <= 0 {
		return fmt.Errorf("--max-content-length must be positive")
	}

	switch {
	case cfg.VaultURL == "" && cfg.AgeIdentity == "":
		return fmt.Errorf("one of --vault-url or --age-identity is required")
	case cfg.VaultURL != "" && cfg.AgeIdentity != "":
		return fmt.Errorf("--vault-url and --age-identity are mutually exclusive")
	}
	if cfg.VaultURL != "" && cfg.VaultTimeout <= 0 {
		return fmt.Errorf("--vault-timeout must be positive")
	}

	if strings.TrimSpace(cfg.AliasDomain) == "" {
		return fmt.Errorf("--alias-domain is required")
	}

	if cfg.IMAPHost == "" && cfg.OutboxMbox == "" && !cfg.DryRun {
		return fmt.Errorf("one of --imap-host or --outbox-mbox is required unless --dry-run is set")
	}
	if cfg.IMAPHost != "" {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}

	includeActive := len(cfg.IncludeRecipient) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeRecipient) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sms-bridge", "state"), nil
}
