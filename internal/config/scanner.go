package config

import (
    "errors"
    "fmt"
    "os"
    "time"

    "gopkg.in/yaml.v3"
)

// ScannerConfig is the profile of one scanning device.  It is read from
// an optional YAML file, then SCANNER_* environment variables override
// individual fields; command line flags override both.
type ScannerConfig struct {
    ServerURL         string        `yaml:"server_url"`
    Token             string        `yaml:"token"`
    EventID           string        `yaml:"event_id"`
    DeviceID          string        `yaml:"device_id"`
    Latitude          *float64      `yaml:"latitude,omitempty"`
    Longitude         *float64      `yaml:"longitude,omitempty"`
    Keys              string        `yaml:"keys"`
    SupervisorPINHash string        `yaml:"supervisor_pin_hash"`
    OfflineDB         string        `yaml:"offline_db"`
    RequestTimeout    time.Duration `yaml:"request_timeout"`
    DisplayTimeout    time.Duration `yaml:"display_timeout"`
    ScanInterval      time.Duration `yaml:"scan_interval"`
    DecodeTimeout     time.Duration `yaml:"decode_timeout"`
    ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// DefaultScannerConfig returns the built-in device defaults.
func DefaultScannerConfig() ScannerConfig {
    return ScannerConfig{
        ServerURL:         "http://localhost:8080",
        OfflineDB:         "scanner.db",
        RequestTimeout:    5 * time.Second,
        DisplayTimeout:    3 * time.Second,
        ScanInterval:      250 * time.Millisecond,
        DecodeTimeout:     2 * time.Second,
        ReconcileInterval: 10 * time.Second,
    }
}

// LoadScannerConfig reads path (if non-empty) on top of the defaults and
// applies environment overrides.
func LoadScannerConfig(path string) (ScannerConfig, error) {
    cfg := DefaultScannerConfig()
    if path != "" {
        raw, err := os.ReadFile(path)
        if err != nil {
            return cfg, fmt.Errorf("read scanner profile: %w", err)
        }
        if err := yaml.Unmarshal(raw, &cfg); err != nil {
            return cfg, fmt.Errorf("parse scanner profile %s: %w", path, err)
        }
    }
    cfg.ServerURL = envStr("SCANNER_SERVER_URL", cfg.ServerURL)
    cfg.Token = envStr("SCANNER_TOKEN", cfg.Token)
    cfg.EventID = envStr("SCANNER_EVENT_ID", cfg.EventID)
    cfg.DeviceID = envStr("SCANNER_DEVICE_ID", cfg.DeviceID)
    cfg.Keys = envStr("CHECKIN_KEYS", cfg.Keys)
    cfg.SupervisorPINHash = envStr("SUPERVISOR_PIN_HASH", cfg.SupervisorPINHash)
    cfg.OfflineDB = envStr("SCANNER_OFFLINE_DB", cfg.OfflineDB)
    cfg.RequestTimeout = envDur("SCANNER_REQUEST_TIMEOUT", cfg.RequestTimeout)
    cfg.ReconcileInterval = envDur("SCANNER_RECONCILE_INTERVAL", cfg.ReconcileInterval)
    return cfg, nil
}

// Validate reports the first missing required field.
func (c ScannerConfig) Validate() error {
    switch {
    case c.ServerURL == "":
        return errors.New("scanner: server_url is required")
    case c.EventID == "":
        return errors.New("scanner: event_id is required")
    case c.DeviceID == "":
        return errors.New("scanner: device_id is required")
    case c.Keys == "":
        return errors.New("scanner: keys are required for offline validation")
    case (c.Latitude == nil) != (c.Longitude == nil):
        return errors.New("scanner: latitude and longitude must be set together")
    }
    return nil
}
