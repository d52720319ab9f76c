package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONDefaults(t *testing.T) {
	cfg, err := FromJSON(`{}`)
	require.NoError(t, err)

	assert.Equal(t, NetworkBitcoin, cfg.Network)
	assert.Equal(t, uint32(20), cfg.GapLimit)
	assert.Equal(t, uint32(100), cfg.InitialImportSize)
	assert.Equal(t, 5*time.Second, cfg.PollInterval.Duration())
}

func TestFromJSONRejectsUnknownFields(t *testing.T) {
	_, err := FromJSON(`{"no_such_option": true}`)
	require.Error(t, err)
}

func TestFromJSONRejectsGarbage(t *testing.T) {
	_, err := FromJSON(`{"network": `)
	require.Error(t, err)
}

func TestValidateNetwork(t *testing.T) {
	cfg := Default()
	cfg.Network = "mainnet"
	require.Error(t, cfg.Validate())

	cfg.Network = NetworkRegtest
	require.NoError(t, cfg.Validate())
}

func TestValidateRequireAddresses(t *testing.T) {
	cfg := Default()
	cfg.RequireAddresses = true
	require.Error(t, cfg.Validate())

	cfg.Xpubs = []XpubEntry{{Xpub: "xpub123"}}
	require.NoError(t, cfg.Validate())
}

func TestBitcoindRPCURLDefaults(t *testing.T) {
	tests := []struct {
		network Network
		wallet  string
		want    string
	}{
		{NetworkBitcoin, "", "http://127.0.0.1:8332"},
		{NetworkTestnet, "", "http://127.0.0.1:18332"},
		{NetworkRegtest, "", "http://127.0.0.1:18443"},
		{NetworkBitcoin, "tracker", "http://127.0.0.1:8332/wallet/tracker"},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Network = tt.network
		cfg.BitcoindWallet = tt.wallet
		assert.Equal(t, tt.want, cfg.BitcoindRPCURL())
	}
}

func TestServerAddrDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:50001", cfg.ElectrumRPCAddr())
	assert.Equal(t, "127.0.0.1:3060", cfg.HTTPServerAddr())

	cfg.Network = NetworkRegtest
	assert.Equal(t, "127.0.0.1:60401", cfg.ElectrumRPCAddr())

	cfg.ElectrumAddr = "0.0.0.0:1234"
	assert.Equal(t, "0.0.0.0:1234", cfg.ElectrumRPCAddr())
}

func TestBitcoindAuthCred(t *testing.T) {
	cfg := Default()
	cfg.BitcoindCred = "satoshi:hunter2"
	user, pass, err := cfg.BitcoindAuth()
	require.NoError(t, err)
	assert.Equal(t, "satoshi", user)
	assert.Equal(t, "hunter2", pass)
}

func TestParseRescanSince(t *testing.T) {
	tests := []struct {
		in      string
		want    RescanSince
		wantErr bool
	}{
		{"now", RescanNow, false},
		{"none", RescanNow, false},
		{"1578000000", RescanSince{Timestamp: 1578000000}, false},
		{"2020-01-02", RescanSince{Timestamp: 1577923200}, false},
		{"yesterday", RescanSince{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRescanSince(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestXpubEntryForms(t *testing.T) {
	cfg, err := FromJSON(`{"xpubs": ["xpubAAA", "xpubBBB:now", ["xpubCCC", 1578000000]]}`)
	require.NoError(t, err)
	require.Len(t, cfg.Xpubs, 3)

	assert.Equal(t, XpubEntry{Xpub: "xpubAAA"}, cfg.Xpubs[0])
	assert.Equal(t, XpubEntry{Xpub: "xpubBBB", Rescan: RescanNow}, cfg.Xpubs[1])
	assert.Equal(t, XpubEntry{Xpub: "xpubCCC", Rescan: RescanSince{Timestamp: 1578000000}}, cfg.Xpubs[2])
}

func TestRescanRPCValue(t *testing.T) {
	assert.Equal(t, "now", RescanNow.RPCValue())
	assert.Equal(t, uint64(0), RescanSince{}.RPCValue())
	assert.Equal(t, uint64(123), RescanSince{Timestamp: 123}.RPCValue())
}
