// Package wizard provides an interactive generator for snmpbridge poll
// configurations.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/wiremaps/snmpbridge/internal/config"
	"github.com/wiremaps/snmpbridge/internal/oid"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Answers holds everything the wizard collects.
type Answers struct {
	ConfigPath     string
	Timeout        time.Duration
	Retries        int
	Interval       time.Duration
	Rate           float64
	Targets        []config.TargetConfig
	LogLevel       string
	MetricsEnabled bool
	MetricsAddress string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	var a Answers
	var err error

	if a.ConfigPath, err = w.askConfigPath(); err != nil {
		return nil, err
	}
	if a.Timeout, a.Retries, err = w.askEngine(); err != nil {
		return nil, err
	}
	if a.Targets, err = w.askTargets(); err != nil {
		return nil, err
	}
	if a.Interval, a.Rate, err = w.askSchedule(); err != nil {
		return nil, err
	}
	if a.LogLevel, a.MetricsEnabled, a.MetricsAddress, err = w.askMonitoring(); err != nil {
		return nil, err
	}

	cfg := BuildConfig(a)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := writeConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a.ConfigPath, cfg)

	return &Result{Config: cfg, ConfigPath: a.ConfigPath}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render("\n  snmpbridge")

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  SNMP collector - configuration wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askConfigPath() (string, error) {
	path := "./snmpbridge.yaml"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder(path).
				Value(&path).
				Validate(validateConfigPath),
		),
	).WithTheme(w.theme)

	err := form.Run()
	return path, err
}

func (w *Wizard) askEngine() (time.Duration, int, error) {
	timeout := "1s"
	retries := "5"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("SNMP Engine").
				Description("Every request is retransmitted after the timeout\nuntil the retries run out."),

			huh.NewInput().
				Title("Timeout per attempt").
				Placeholder(timeout).
				Value(&timeout).
				Validate(validateDuration),

			huh.NewInput().
				Title("Retries").
				Placeholder(retries).
				Value(&retries).
				Validate(validateNonNegative),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return 0, 0, err
	}

	d, _ := time.ParseDuration(timeout)
	n, _ := strconv.Atoi(retries)
	return d, n, nil
}

func (w *Wizard) askTargets() ([]config.TargetConfig, error) {
	var targets []config.TargetConfig
	for {
		t, err := w.askTarget(len(targets) + 1)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)

		more := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another target?").
					Value(&more),
			),
		).WithTheme(w.theme)
		if err := form.Run(); err != nil {
			return nil, err
		}
		if !more {
			return targets, nil
		}
	}
}

func (w *Wizard) askTarget(n int) (config.TargetConfig, error) {
	var (
		name      string
		host      string
		community = config.DefaultCommunity
		version   = strconv.Itoa(config.DefaultVersion)
		operation = config.DefaultOperation
		oids      = ".1.3.6.1.2.1.1.1.0\n.1.3.6.1.2.1.1.3.0\n.1.3.6.1.2.1.1.5.0"
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Target %d", n)).
				Description("An equipment to poll."),

			huh.NewInput().
				Title("Host").
				Description("host, host:port or [v6addr]:port").
				Value(&host).
				Validate(validateHost),

			huh.NewInput().
				Title("Name").
				Description("Label used in logs and metrics (defaults to host)").
				Value(&name),

			huh.NewInput().
				Title("Community").
				EchoMode(huh.EchoModePassword).
				Value(&community),

			huh.NewSelect[string]().
				Title("SNMP Version").
				Options(
					huh.NewOption("v2c (recommended)", "2"),
					huh.NewOption("v1", "1"),
				).
				Value(&version),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Operation").
				Options(
					huh.NewOption("GET", "get"),
					huh.NewOption("GETNEXT", "getnext"),
					huh.NewOption("GETBULK (v2c only)", "getbulk"),
				).
				Value(&operation),

			huh.NewText().
				Title("OIDs").
				Description("Numeric OIDs, one per line").
				Value(&oids).
				Validate(func(s string) error {
					_, err := ParseOIDList(s)
					return err
				}),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return config.TargetConfig{}, err
	}

	v, _ := strconv.Atoi(version)
	list, _ := ParseOIDList(oids)
	t := config.TargetConfig{
		Name:           strings.TrimSpace(name),
		Host:           strings.TrimSpace(host),
		Community:      community,
		Version:        v,
		Operation:      operation,
		OIDs:           list,
		MaxRepetitions: config.DefaultMaxRepetitions,
	}
	if t.Name == "" {
		t.Name = t.Host
	}
	return t, nil
}

func (w *Wizard) askSchedule() (time.Duration, float64, error) {
	interval := "60s"
	rate := "0"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Schedule").
				Description("How often to poll and how fast to send requests."),

			huh.NewInput().
				Title("Poll interval").
				Placeholder(interval).
				Value(&interval).
				Validate(validateDuration),

			huh.NewInput().
				Title("Requests per second").
				Description("0 sends every request at once").
				Placeholder(rate).
				Value(&rate).
				Validate(func(s string) error {
					f, err := strconv.ParseFloat(s, 64)
					if err != nil || f < 0 {
						return fmt.Errorf("must be a non-negative number")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return 0, 0, err
	}

	d, _ := time.ParseDuration(interval)
	r, _ := strconv.ParseFloat(rate, 64)
	return d, r, nil
}

func (w *Wizard) askMonitoring() (logLevel string, metricsEnabled bool, metricsAddr string, err error) {
	logLevel = "info"
	metricsEnabled = true
	metricsAddr = ":9161"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Monitoring").
				Description("Configure logging and the metrics endpoint."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&logLevel),

			huh.NewConfirm().
				Title("Serve metrics and health endpoints?").
				Description("HTTP endpoint for Prometheus (/metrics, /healthz)").
				Value(&metricsEnabled),

			huh.NewInput().
				Title("Metrics address").
				Value(&metricsAddr).
				Validate(func(s string) error {
					if _, _, err := net.SplitHostPort(s); err != nil {
						return fmt.Errorf("invalid address format (use host:port)")
					}
					return nil
				}),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

// BuildConfig turns wizard answers into a configuration.
func BuildConfig(a Answers) *config.Config {
	cfg := config.Default()

	if a.LogLevel != "" {
		cfg.Log.Level = a.LogLevel
	}
	if a.Timeout > 0 {
		cfg.Engine.Timeout = a.Timeout
	}
	if a.Retries >= 0 {
		cfg.Engine.Retries = a.Retries
	}
	if a.Interval > 0 {
		cfg.Poller.Interval = a.Interval
	}
	cfg.Poller.Rate = a.Rate

	cfg.Metrics.Enabled = a.MetricsEnabled
	if a.MetricsAddress != "" {
		cfg.Metrics.Address = a.MetricsAddress
	}

	cfg.Targets = append([]config.TargetConfig{}, a.Targets...)
	return cfg
}

// ParseOIDList splits text on newlines, commas and spaces and checks each
// entry is a numeric OID.
func ParseOIDList(text string) ([]string, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ',' || r == ' ' || r == '\t' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("at least one OID is required")
	}
	for _, f := range fields {
		if _, err := oid.Parse(f); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 500ms or 2s")
	}
	return nil
}

func validateNonNegative(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}

func validateHost(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("host is required")
	}
	if strings.HasPrefix(s, "[") {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return fmt.Errorf("invalid address format (use [addr]:port)")
		}
	}
	return nil
}

func writeConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# snmpbridge configuration\n# Generated by setup wizard\n\n"

	// Community strings are credentials.
	perm := os.FileMode(0644)
	if cfg.HasSensitiveData() {
		perm = 0600
	}
	if err := os.WriteFile(path, []byte(header+string(data)), perm); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Targets:      %d\n", len(cfg.Targets))
	fmt.Printf("  Interval:     %s\n", cfg.Poller.Interval)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:      http://%s/metrics\n", cfg.Metrics.Address)
	}

	fmt.Println()
	fmt.Println("  To start polling:")
	fmt.Printf("    snmpbridge poll -c %s\n", configPath)
	fmt.Println()
}
