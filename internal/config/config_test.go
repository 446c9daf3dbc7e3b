package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func setRequiredEnv(t *testing.T) {
	t.Setenv("PAYMENT_WALLET", testWallet)
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, uint64(1_000_000), cfg.PriceLamports)
	assert.Equal(t, time.Hour, cfg.VerificationTTL)
	assert.Equal(t, 3, cfg.BreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, 5*time.Minute, cfg.ExploitCacheTTL)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_MissingWallet(t *testing.T) {
	t.Setenv("PAYMENT_WALLET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYMENT_WALLET")
}

func TestLoad_BadWalletLength(t *testing.T) {
	t.Setenv("PAYMENT_WALLET", "tooshort")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base58")
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRICE_LAMPORTS", "2000000")
	t.Setenv("BREAKER_COOLDOWN", "30s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(2_000_000), cfg.PriceLamports)
	assert.Equal(t, 30*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRouterTable_FromFile(t *testing.T) {
	setRequiredEnv(t)

	table := map[string]string{"0xabc": "testswap"}
	data, err := json.Marshal(table)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "routers.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("ROUTER_TABLE_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	loaded, err := cfg.LoadRouterTable(map[string]string{"built": "in"})
	require.NoError(t, err)
	assert.Equal(t, table, loaded)
}

func TestLoadRouterTable_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	defaults := map[string]string{"0xdef": "builtin"}
	loaded, err := cfg.LoadRouterTable(defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, loaded)
}

func TestLoadDenyList_BadFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "deny.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	t.Setenv("DENY_LIST_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	_, err = cfg.LoadDenyList(nil)
	require.Error(t, err)
}
