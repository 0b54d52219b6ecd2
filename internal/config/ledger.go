package config

import (
    "fmt"
    "strings"
    "time"
)

// Ledger backends.
const (
    LedgerMySQL  = "mysql"
    LedgerRedis  = "redis"
    LedgerMemory = "memory"
)

// LedgerConfig selects and tunes the redemption ledger and the
// validator in front of it.
type LedgerConfig struct {
    Backend        string
    AttemptTimeout time.Duration
    Attempts       int
    MaxTicketQty   int
    ClockSkew      time.Duration
}

// LoadLedgerConfig reads LEDGER_* and VALIDATOR_* variables.
func LoadLedgerConfig() (LedgerConfig, error) {
    cfg := LedgerConfig{
        Backend:        strings.ToLower(envStr("LEDGER_BACKEND", LedgerMySQL)),
        AttemptTimeout: envDur("LEDGER_ATTEMPT_TIMEOUT", 2*time.Second),
        Attempts:       envInt("LEDGER_ATTEMPTS", 3),
        MaxTicketQty:   envInt("VALIDATOR_MAX_TICKETS", 50),
        ClockSkew:      envDur("VALIDATOR_CLOCK_SKEW", 5*time.Minute),
    }
    switch cfg.Backend {
    case LedgerMySQL, LedgerRedis, LedgerMemory:
    default:
        return cfg, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.Backend)
    }
    if cfg.Attempts < 1 { cfg.Attempts = 1 }
    return cfg, nil
}
