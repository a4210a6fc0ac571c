package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Service.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Service.RevalidateInterval)
	assert.Equal(t, int64(1), cfg.Chain.ChainID)
	assert.Equal(t, []int64{1}, cfg.Chain.SupportedChains)
	assert.Equal(t, "50000000000000000", cfg.Payment.AmountWei)
	assert.False(t, cfg.Payment.Verify)
	assert.Equal(t, 50, cfg.Marketplace.Limit)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "WALLET_ADDRESS=anarueda.eth\nREVALIDATE_SECONDS=0\nSUPPORTED_CHAIN_IDS=1, 5\nVERIFY_PAYMENTS=true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ENV_FILE", path)

	// godotenv never overrides variables that are already set.
	t.Setenv("API_HTTP_PORT", "8081")

	cfg, err := Load()
	require.NoError(t, err)

	// Load exported the file into the process environment; undo that for other tests.
	t.Cleanup(func() {
		for _, key := range []string{"WALLET_ADDRESS", "REVALIDATE_SECONDS", "SUPPORTED_CHAIN_IDS", "VERIFY_PAYMENTS"} {
			_ = os.Unsetenv(key)
		}
	})

	assert.Equal(t, "anarueda.eth", cfg.Payment.Recipient)
	assert.Equal(t, time.Duration(0), cfg.Service.RevalidateInterval)
	assert.Equal(t, []int64{1, 5}, cfg.Chain.SupportedChains)
	assert.True(t, cfg.Payment.Verify)
	assert.Equal(t, 8081, cfg.Service.HTTPPort)
}

func TestLoadRejectsBadChainList(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SUPPORTED_CHAIN_IDS", "1,mainnet")

	_, err := Load()
	require.Error(t, err)
}
