// Package config defines the runtime configuration shared by the gobwt
// library entry point and the bwtd daemon. The JSON field names form the
// contract of the document accepted by gobwt.Start and libbwt's bwt_start.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/joho/godotenv"
)

// Network identifies the bitcoin network the tracked wallets live on.
type Network string

const (
	NetworkBitcoin Network = "bitcoin"
	NetworkTestnet Network = "testnet"
	NetworkRegtest Network = "regtest"
)

// Params returns the chain parameters for the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case NetworkTestnet:
		return &chaincfg.TestNet3Params
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

func (n Network) valid() bool {
	switch n {
	case NetworkBitcoin, NetworkTestnet, NetworkRegtest:
		return true
	}
	return false
}

// Seconds is a duration expressed in the config document as a plain number
// of seconds.
type Seconds time.Duration

// Duration returns the value as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// UnmarshalJSON accepts an integer or fractional number of seconds.
func (s *Seconds) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s: %w", b, err)
	}
	if secs < 0 {
		return fmt.Errorf("negative duration %s", b)
	}
	*s = Seconds(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON encodes the duration back into whole seconds.
func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(s).Seconds())
}

// Config holds every user-facing knob. Zero values are filled in with
// defaults by FromJSON/Default, keyed off the selected network where the
// default is network dependent.
type Config struct {
	Network   Network `json:"network"`
	Verbose   int     `json:"verbose"`
	Timestamp bool    `json:"timestamp"`

	BitcoindURL    string `json:"bitcoind_url"`
	BitcoindWallet string `json:"bitcoind_wallet"`
	BitcoindDir    string `json:"bitcoind_dir"`
	BitcoindCred   string `json:"bitcoind_cred"`
	BitcoindCookie string `json:"bitcoind_cookie"`

	Xpubs     []XpubEntry `json:"xpubs"`
	BareXpubs []XpubEntry `json:"bare_xpubs"`

	GapLimit          uint32  `json:"gap_limit"`
	InitialImportSize uint32  `json:"initial_import_size"`
	PollInterval      Seconds `json:"poll_interval"`

	ElectrumAddr    string `json:"electrum_rpc_addr"`
	DisableElectrum bool   `json:"disable_electrum"`

	HTTPAddr    string `json:"http_server_addr"`
	HTTPCors    string `json:"http_cors"`
	DisableHTTP bool   `json:"disable_http"`

	UnixListenerPath string   `json:"unix_listener_path"`
	WebhookURLs      []string `json:"webhook_urls"`

	// DBPath enables the sqlite checkpoint store when set, letting restarts
	// skip the initial import and rescan.
	DBPath string `json:"db_path"`

	// Exclusive makes Start refuse to run alongside another exclusive
	// session in the same process.
	Exclusive bool `json:"exclusive"`

	// RequireAddresses rejects configs that track nothing.
	RequireAddresses bool `json:"require_addresses"`
}

// Default returns a config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Network:           NetworkBitcoin,
		GapLimit:          20,
		InitialImportSize: 100,
		PollInterval:      Seconds(5 * time.Second),
	}
}

// FromJSON parses a config document and applies defaults. Unknown fields
// are rejected so that typos fail loudly at start time rather than being
// silently ignored.
func FromJSON(doc string) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the config that can be verified without
// touching the environment. Xpub syntax is verified separately when the
// wallets are constructed, before any background activity starts.
func (c *Config) Validate() error {
	if !c.Network.valid() {
		return fmt.Errorf("invalid network %q, expected one of bitcoin, testnet or regtest", c.Network)
	}
	if c.GapLimit == 0 {
		return fmt.Errorf("gap_limit must be positive")
	}
	if c.InitialImportSize < c.GapLimit {
		// a smaller initial batch than the gap limit only causes extra rescans
		c.InitialImportSize = c.GapLimit
	}
	if c.PollInterval.Duration() <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.RequireAddresses && len(c.Xpubs)+len(c.BareXpubs) == 0 {
		return fmt.Errorf("no addresses to track, provide at least one xpub")
	}
	for _, addr := range []string{c.ElectrumAddr, c.HTTPAddr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
	}
	for _, u := range c.WebhookURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("invalid webhook url %q", u)
		}
	}
	return nil
}

// BitcoindRPCURL returns the full bitcoind RPC endpoint, including the
// wallet path when a dedicated wallet is configured.
func (c *Config) BitcoindRPCURL() string {
	url := c.BitcoindURL
	if url == "" {
		port := 8332
		switch c.Network {
		case NetworkTestnet:
			port = 18332
		case NetworkRegtest:
			port = 18443
		}
		url = fmt.Sprintf("http://localhost:%d", port)
	}
	url = strings.TrimRight(url, "/")
	if c.BitcoindWallet != "" {
		url = fmt.Sprintf("%s/wallet/%s", url, c.BitcoindWallet)
	}
	return url
}

// BitcoindAuth resolves the RPC credentials, preferring explicit
// user:password credentials and falling back to the cookie file.
func (c *Config) BitcoindAuth() (user, pass string, err error) {
	if c.BitcoindCred != "" {
		parts := strings.SplitN(c.BitcoindCred, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("invalid bitcoind_cred, expected <username>:<password>")
		}
		return parts[0], parts[1], nil
	}
	cookie := c.BitcoindCookie
	if cookie == "" {
		cookie = c.defaultCookiePath()
	}
	raw, err := os.ReadFile(cookie)
	if err != nil {
		return "", "", fmt.Errorf("no available authentication for the bitcoind rpc, specify bitcoind_cred or a cookie file: %w", err)
	}
	parts := strings.SplitN(strings.TrimSpace(string(raw)), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed cookie file %s", cookie)
	}
	return parts[0], parts[1], nil
}

func (c *Config) defaultCookiePath() string {
	dir := c.BitcoindDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, ".bitcoin")
		}
	}
	switch c.Network {
	case NetworkTestnet:
		dir = filepath.Join(dir, "testnet3")
	case NetworkRegtest:
		dir = filepath.Join(dir, "regtest")
	}
	return filepath.Join(dir, ".cookie")
}

// ElectrumRPCAddr returns the electrum listen address, defaulting to the
// conventional per-network port.
func (c *Config) ElectrumRPCAddr() string {
	if c.ElectrumAddr != "" {
		return c.ElectrumAddr
	}
	switch c.Network {
	case NetworkTestnet:
		return "127.0.0.1:60001"
	case NetworkRegtest:
		return "127.0.0.1:60401"
	default:
		return "127.0.0.1:50001"
	}
}

// HTTPServerAddr returns the http api listen address.
func (c *Config) HTTPServerAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return "127.0.0.1:3060"
}

// LoadDotEnv loads ~/bwt.env into the process environment if it exists,
// so that BWT_* variables can be picked up by the daemon flags.
func LoadDotEnv() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	// missing file is fine
	_ = godotenv.Load(filepath.Join(home, "bwt.env"))
}
