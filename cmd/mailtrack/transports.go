package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/csword/mailtrack/internal/domain"
)

var transportsCmd = &cobra.Command{
	Use:   "transports",
	Short: "Manage SMTP transport configurations",
}

var transportsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or update transport configurations from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransportsImport,
}

var transportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transport configurations",
	RunE:  runTransportsList,
}

func init() {
	transportsCmd.AddCommand(transportsImportCmd)
	transportsCmd.AddCommand(transportsListCmd)
}

// transportFile is the on-disk format accepted by "transports import":
//
//	transports:
//	  - name: primary
//	    host: smtp.example.com
//	    port: 587
//	    username: campaigns@example.com
//	    password_env: PRIMARY_SMTP_PASSWORD
//	    active: true
type transportFile struct {
	Transports []transportEntry `yaml:"transports"`
}

type transportEntry struct {
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	Active      *bool  `yaml:"active"`
	RatePerSec  int    `yaml:"rate_per_sec"`
}

func parseTransportFile(r io.Reader, lookupEnv func(string) (string, bool)) ([]domain.TransportConfig, error) {
	var file transportFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("transport file is empty")
		}
		return nil, fmt.Errorf("parse transport file: %w", err)
	}
	if len(file.Transports) == 0 {
		return nil, fmt.Errorf("transport file declares no transports")
	}

	seen := make(map[string]struct{}, len(file.Transports))
	configs := make([]domain.TransportConfig, 0, len(file.Transports))
	for i, entry := range file.Transports {
		name := strings.TrimSpace(entry.Name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("transport #%d: duplicate name %q", i+1, name)
		}
		seen[name] = struct{}{}

		password := entry.Password
		if entry.PasswordEnv != "" {
			if password != "" {
				return nil, fmt.Errorf("transport %q: password and password_env are mutually exclusive", name)
			}
			value, ok := lookupEnv(entry.PasswordEnv)
			if !ok {
				return nil, fmt.Errorf("transport %q: environment variable %s is not set", name, entry.PasswordEnv)
			}
			password = value
		}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}

		cfg := domain.TransportConfig{
			Name:     name,
			Host:     strings.TrimSpace(entry.Host),
			Port:     entry.Port,
			Username: strings.TrimSpace(entry.Username),
			Password: password,
			IsActive: active,

			SendRatePerSec: entry.RatePerSec,
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("transport #%d: %w", i+1, err)
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}

func runTransportsImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read transport file: %w", err)
	}
	configs, err := parseTransportFile(bytes.NewReader(raw), os.LookupEnv)
	if err != nil {
		return err
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	imported, err := app.emails.ImportTransports(cmd.Context(), configs)
	if err != nil {
		return err
	}
	logger.Info("transport import finished", zap.Int("imported", imported))
	return nil
}

func runTransportsList(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := newApplication(cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	configs, err := app.emails.ListTransports(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, c := range configs {
		state := "inactive"
		if c.IsActive {
			state = "active"
		}
		rate := "default"
		if c.SendRatePerSec > 0 {
			rate = fmt.Sprintf("%d/s", c.SendRatePerSec)
		}
		fmt.Fprintf(out, "%d\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Address(), c.Username, state, rate)
	}
	return nil
}
