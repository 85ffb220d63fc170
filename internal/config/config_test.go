package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "api_key: ${API_KEY}\nsecret: ${SECRET_KEY}",
			envVars: map[string]string{
				"API_KEY":    "key_value",
				"SECRET_KEY": "secret_value",
			},
			expected: "api_key: key_value\nsecret: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:  "mixed static and env vars",
			input: "static_value: 123\napi_key: ${TEST_KEY}",
			envVars: map[string]string{
				"TEST_KEY": "dynamic_key",
			},
			expected: "static_value: 123\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `venue:
  api_key: "${TEST_OKX_API_KEY}"
  secret_key: "${TEST_OKX_SECRET_KEY}"
  passphrase: "${TEST_OKX_PASSPHRASE}"

trading:
  trading_pairs: ["BTC-USDT", "ETH-USDT"]
  reconcile_interval: 15
  leverage: 5

system:
  log_level: "INFO"
  cancel_on_exit: true
`

	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	tmpFile.Close()

	os.Setenv("TEST_OKX_API_KEY", "test_api_key_from_env")
	os.Setenv("TEST_OKX_SECRET_KEY", "test_secret_key_from_env")
	os.Setenv("TEST_OKX_PASSPHRASE", "test_passphrase_from_env")
	defer os.Unsetenv("TEST_OKX_API_KEY")
	defer os.Unsetenv("TEST_OKX_SECRET_KEY")
	defer os.Unsetenv("TEST_OKX_PASSPHRASE")

	config, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	assert.Equal(t, Secret("test_api_key_from_env"), config.Venue.APIKey)
	assert.Equal(t, Secret("test_secret_key_from_env"), config.Venue.SecretKey)
	assert.Equal(t, Secret("test_passphrase_from_env"), config.Venue.Passphrase)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, config.Trading.TradingPairs)
	assert.Equal(t, 15, config.Trading.ReconcileInterval)
	assert.Equal(t, 5, config.Trading.Leverage)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Trading.ReconcileInterval)
	assert.Equal(t, 120, cfg.Trading.FundingPollInterval)
	assert.Equal(t, []string{"USDT", "USDC"}, cfg.Trading.CollateralAssets)
	assert.Equal(t, 3, cfg.Trading.LostOrderThreshold)
	assert.Equal(t, "okc", cfg.Venue.BrokerID)
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venue.Passphrase = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue.passphrase")
}

func TestValidateTradingPairFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.TradingPairs = []string{"BTCUSDT"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BASE-QUOTE")
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venue.APIKey = Secret("my_super_secret_api_key")
	cfg.Venue.SecretKey = Secret("my_super_secret_secret_key")
	cfg.Venue.Passphrase = Secret("my_super_secret_passphrase")

	output := cfg.String()

	assert.Contains(t, output, "[REDACTED]", "output should contain the redaction marker")
	assert.NotContains(t, output, "my_super_secret_api_key", "output should NOT contain the API key")
	assert.NotContains(t, output, "my_super_secret_secret_key", "output should NOT contain the secret key")
	assert.NotContains(t, output, "my_super_secret_passphrase", "output should NOT contain the passphrase")
	assert.NotContains(t, output, "my_s", "output should NOT contain partial secret parts")
}
