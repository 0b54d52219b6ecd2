package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestLoadScannerConfig(t *testing.T) {
    path := filepath.Join(t.TempDir(), "gate.yaml")
    require.NoError(t, os.WriteFile(path, []byte(`
server_url: https://checkin.example.com
event_id: E1
device_id: gate-1
latitude: 52.52
longitude: 13.405
keys: k1:00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff
display_timeout: 5s
`), 0o600))
    t.Setenv("SCANNER_DEVICE_ID", "gate-7")

    cfg, err := LoadScannerConfig(path)
    require.NoError(t, err)
    assert.Equal(t, "https://checkin.example.com", cfg.ServerURL)
    assert.Equal(t, "E1", cfg.EventID)
    assert.Equal(t, "gate-7", cfg.DeviceID, "env wins over the profile")
    assert.Equal(t, 5*time.Second, cfg.DisplayTimeout)
    assert.Equal(t, 250*time.Millisecond, cfg.ScanInterval, "defaults survive")
    require.NotNil(t, cfg.Latitude)
    assert.InDelta(t, 52.52, *cfg.Latitude, 1e-9)
    assert.NoError(t, cfg.Validate())
}

func TestScannerConfigValidate(t *testing.T) {
    cfg := DefaultScannerConfig()
    assert.ErrorContains(t, cfg.Validate(), "event_id")
    cfg.EventID, cfg.DeviceID, cfg.Keys = "E1", "gate-1", "k1:00"
    lat := 1.0
    cfg.Latitude = &lat
    assert.ErrorContains(t, cfg.Validate(), "together")
}

func TestLoadScannerConfig_BadYAML(t *testing.T) {
    path := filepath.Join(t.TempDir(), "bad.yaml")
    require.NoError(t, os.WriteFile(path, []byte("event_id: [unterminated"), 0o600))
    _, err := LoadScannerConfig(path)
    assert.ErrorContains(t, err, "parse scanner profile")
}

func TestLoadLedgerConfig(t *testing.T) {
    t.Setenv("LEDGER_BACKEND", "Redis")
    t.Setenv("LEDGER_ATTEMPTS", "0")
    cfg, err := LoadLedgerConfig()
    require.NoError(t, err)
    assert.Equal(t, LedgerRedis, cfg.Backend)
    assert.Equal(t, 1, cfg.Attempts)
    assert.Equal(t, 2*time.Second, cfg.AttemptTimeout)

    t.Setenv("LEDGER_BACKEND", "etcd")
    _, err = LoadLedgerConfig()
    assert.Error(t, err)
}

func TestLoadRateLimitConfig(t *testing.T) {
    t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
    t.Setenv("RATE_LIMIT_TTL", "1s")
    cfg := LoadRateLimitConfig()
    assert.Equal(t, "device_route", cfg.KeyStrategy)
    assert.Equal(t, 1, cfg.RefillTokens)
    assert.Equal(t, 2*time.Second, cfg.RefillInterval)
    assert.Equal(t, 10*time.Second, cfg.TTL, "ttl is at least five refill intervals")
}

func TestBrokerAndPubNub(t *testing.T) {
    t.Setenv("RABBITMQ_URL", "")
    t.Setenv("AMQP_URL", "amqp://u:p@mq:5672/")
    b := LoadBrokerConfig()
    assert.Equal(t, "amqp://u:p@mq:5672/", b.URL)
    assert.Equal(t, "checkin.recorded", b.Queue)

    t.Setenv("PUBNUB_PUBLISH_KEY", "pub-c-1")
    assert.False(t, LoadPubNubConfig().Enabled())
    t.Setenv("PUBNUB_SUBSCRIBE_KEY", "sub-c-1")
    assert.True(t, LoadPubNubConfig().Enabled())
}

func TestLoadCacheConfig(t *testing.T) {
    t.Setenv("CACHE_METHODS", "get, head")
    t.Setenv("CACHE_TTL", "10m")
    cfg := LoadCacheConfig()
    assert.True(t, cfg.Methods["GET"])
    assert.True(t, cfg.Methods["HEAD"])
    assert.Equal(t, time.Minute, cfg.TTL)
}
