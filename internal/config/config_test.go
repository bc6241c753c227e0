package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weathercover.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "keeper"
log_level = "debug"

[keeper]
interval = "30s"
batch_size = 10

[marketplace]
expert_fee_bps = 250
lock_ttl = "2m"
`), 0o600))

	t.Setenv("WEATHERCOVER_KEEPER_IDENTITY", "0xKeeper")
	t.Setenv("WEATHERCOVER_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("WEATHERCOVER_MARKETPLACE_LOCK_WAIT", "750ms")
	t.Setenv("WEATHERCOVER_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, 10, cfg.Keeper.BatchSize)
	assert.Equal(t, "0xKeeper", cfg.Keeper.Identity)
	assert.Equal(t, uint64(250), cfg.Marketplace.ExpertFeeBps)
	assert.Equal(t, 2*time.Minute, cfg.Marketplace.LockTTL.Duration)
	assert.Equal(t, 750*time.Millisecond, cfg.Marketplace.LockWait.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable overrides are ignored")
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
}

func TestLoadBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Ledger.Backend = "erc20"
	cfg.Store.Backend = "postgres"
	cfg.Postgres.Host = ""
	cfg.Marketplace.ExpertFeeBps = 20_000
	cfg.Server.AuthMode = "none"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"wallet: private_key or encrypted_key_path",
		"chain: rpc_url",
		"chain: token_address",
		"postgres: host",
		"expert_fee_bps must be <= 10000",
		`unknown auth_mode "none"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateSeedBalance(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.SeedBalance = "1.0000001"
	assert.ErrorContains(t, cfg.Validate(), "seed_balance")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Oracle.Secret = "shh"
	cfg.Postgres.DSN = "postgres://u:p@h/db"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Wallet.PrivateKey)
	assert.Equal(t, redacted, out.Oracle.Secret)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Empty(t, out.Wallet.KeyPassword, "empty secrets stay empty")
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)

	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}
