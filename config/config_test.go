package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargets(t *testing.T) {
	in := "\ufeffSymbol,Exchange,Title,Filename\n" +
		"SBIN, NSE, State Bank, sbin\n" +
		",,,\n" +
		"BTC/USD,,Bitcoin,btc\n"

	got, err := ParseTargets(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SBIN", got[0].Symbol)
	assert.Equal(t, "NSE", got[0].Exchange)
	assert.Equal(t, "State Bank", got[0].Title)
	assert.Equal(t, "btc", got[1].FileBase())
}

func TestParseTargets_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty file", "", "no targets"},
		{"header only", "Symbol,Exchange,Title,Filename\n", "no targets"},
		{"missing column", "Symbol,Exchange,Title\nA,B,C\n", `"Filename"`},
		{"duplicate", "Symbol,Exchange,Title,Filename\nsbin,NSE,a,a\nSBIN,NSE,b,b\n", "duplicate"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTargets(strings.NewReader(tc.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadTargets_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.csv")
	require.NoError(t, os.WriteFile(path, []byte("Filename,Title,Exchange,Symbol\neth,Ether,,ETH/USD\n"), 0o644))

	got, err := LoadTargets(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ETH/USD", got[0].Symbol)
	assert.Equal(t, "Ether", got[0].Title)

	_, err = LoadTargets(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MARKET_PROVIDER", "TwelveData")
	t.Setenv("FETCH_BARS", "not-a-number")
	t.Setenv("MARKET_HOURS", "false")
	t.Setenv("REDIS_ADDR", "")

	cfg := Load()
	assert.Equal(t, "twelvedata", cfg.Provider)
	assert.Equal(t, 240, cfg.FetchBars)
	assert.False(t, cfg.MarketHours)
	assert.Equal(t, "config/targets.csv", cfg.TargetsFile)
	assert.Empty(t, cfg.RedisAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"twelvedata ok", Config{Provider: "twelvedata", FetchBars: 240, ProviderCreds: ProviderCreds{TwelveDataKey: "k"}}, ""},
		{"alpaca missing secret", Config{Provider: "alpaca", FetchBars: 240, ProviderCreds: ProviderCreds{AlpacaKey: "k"}}, "APCA_API_SECRET_KEY"},
		{"smartapi missing all", Config{Provider: "smartapi", FetchBars: 240}, "ANGEL_TOTP_SECRET"},
		{"unknown provider", Config{Provider: "yahoo", FetchBars: 240}, "unknown MARKET_PROVIDER"},
		{"bad fetch bars", Config{Provider: "twelvedata", ProviderCreds: ProviderCreds{TwelveDataKey: "k"}}, "FETCH_BARS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
