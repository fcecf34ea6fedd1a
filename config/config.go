// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/nixxel-company-limited/receipt-bridge/adapter"
	"github.com/nixxel-company-limited/receipt-bridge/escpos"
	"github.com/nixxel-company-limited/receipt-bridge/job"
)

// Config holds every setting of the service.
type Config struct {
	ServerAddress string

	PrinterName      string
	PrinterInterface string
	DriverTimeout    time.Duration
	CodePage         string
	Job              job.Config

	Transports []adapter.Kind
	VendorIDs  []uint16

	RetryMax   int
	RetryDelay time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDRESS", "localhost:8766")
	v.SetDefault("PRINTER_NAME", "")
	v.SetDefault("PRINTER_INTERFACE", "")
	v.SetDefault("PRINTER_TIMEOUT", adapter.DefaultDriverTimeout)
	v.SetDefault("PRINTER_WIDTH", job.DefaultWidth)
	v.SetDefault("PRINTER_FONT_SIZE", 1)
	v.SetDefault("PRINTER_FONT_FAMILY", "A")
	v.SetDefault("PRINTER_CODEPAGE", "")
	v.SetDefault("PRINTER_TRANSPORTS", "vendor-driver,vendor-usb,native-spooler,raw-usb")
	v.SetDefault("USB_VENDOR_IDS", formatVendorIDs(adapter.DefaultVendorIDs))
	v.SetDefault("RETRY_MAX", 3)
	v.SetDefault("RETRY_DELAY", 2*time.Second)
}

// Load reads envFiles (missing files are ignored) into the process
// environment and then builds the config from environment variables.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		log.Printf("Loaded environment from %s", f)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return FromViper(v)
}

// FromViper builds the config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServerAddress:    v.GetString("SERVER_ADDRESS"),
		PrinterName:      v.GetString("PRINTER_NAME"),
		PrinterInterface: v.GetString("PRINTER_INTERFACE"),
		DriverTimeout:    v.GetDuration("PRINTER_TIMEOUT"),
		CodePage:         v.GetString("PRINTER_CODEPAGE"),
		Job: job.Config{
			Width:      v.GetInt("PRINTER_WIDTH"),
			FontSize:   v.GetInt("PRINTER_FONT_SIZE"),
			FontFamily: v.GetString("PRINTER_FONT_FAMILY"),
		}.Normalized(),
		RetryMax:   v.GetInt("RETRY_MAX"),
		RetryDelay: v.GetDuration("RETRY_DELAY"),
	}

	if _, err := escpos.CodePage(cfg.CodePage); err != nil {
		return nil, err
	}

	for _, name := range splitList(v.GetString("PRINTER_TRANSPORTS")) {
		k, err := adapter.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("PRINTER_TRANSPORTS: %w", err)
		}
		cfg.Transports = append(cfg.Transports, k)
	}

	for _, s := range splitList(v.GetString("USB_VENDOR_IDS")) {
		id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("USB_VENDOR_IDS: invalid vendor id %q", s)
		}
		cfg.VendorIDs = append(cfg.VendorIDs, uint16(id))
	}

	if cfg.RetryMax <= 0 {
		return nil, fmt.Errorf("RETRY_MAX must be positive, got %d", cfg.RetryMax)
	}
	return cfg, nil
}

// Enabled reports whether transport k is switched on.
func (c *Config) Enabled(k adapter.Kind) bool {
	for _, t := range c.Transports {
		if t == k {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatVendorIDs(ids []uint16) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%04x", id)
	}
	return strings.Join(parts, ",")
}
