// Command bwtd runs the tracker as a standalone daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	gobwt "github.com/bwt-dev/gobwt"
	"github.com/bwt-dev/gobwt/config"
	"github.com/bwt-dev/gobwt/progress"
)

type options struct {
	Network   string `short:"n" long:"network" env:"BWT_NETWORK" default:"bitcoin" description:"one of bitcoin, testnet or regtest"`
	Verbose   []bool `short:"v" long:"verbose" description:"increase log verbosity (repeatable)"`
	Timestamp bool   `long:"timestamp" env:"BWT_TIMESTAMP" description:"prefix log lines with a timestamp"`

	BitcoindURL    string `long:"bitcoind-url" env:"BWT_BITCOIND_URL" description:"bitcoind rpc url"`
	BitcoindDir    string `long:"bitcoind-dir" env:"BWT_BITCOIND_DIR" description:"bitcoind data dir, used to locate the rpc cookie"`
	BitcoindWallet string `long:"bitcoind-wallet" env:"BWT_BITCOIND_WALLET" description:"bitcoind wallet to load"`
	BitcoindCred   string `long:"bitcoind-cred" env:"BWT_BITCOIND_CRED" description:"rpc credentials as user:pass"`
	BitcoindCookie string `long:"bitcoind-cookie" env:"BWT_BITCOIND_COOKIE" description:"path to the rpc cookie file"`

	Xpubs     []string `short:"x" long:"xpub" env:"BWT_XPUBS" env-delim:";" description:"xpub to track, as <xpub> or <xpub>:<rescan>"`
	BareXpubs []string `long:"bare-xpub" env:"BWT_BARE_XPUBS" env-delim:";" description:"xpub to track without the external/internal chain split"`

	GapLimit          uint32  `short:"g" long:"gap-limit" env:"BWT_GAP_LIMIT" description:"address gap limit"`
	InitialImportSize uint32  `long:"initial-import-size" env:"BWT_INITIAL_IMPORT_SIZE" description:"initial address import window"`
	PollInterval      float64 `short:"i" long:"poll-interval" env:"BWT_POLL_INTERVAL" description:"sync interval in seconds"`

	ElectrumAddr string `short:"e" long:"electrum-addr" env:"BWT_ELECTRUM_ADDR" description:"electrum server listen address"`
	NoElectrum   bool   `long:"no-electrum" env:"BWT_NO_ELECTRUM" description:"disable the electrum server"`

	HTTPAddr string `long:"http-addr" env:"BWT_HTTP_ADDR" description:"http api listen address"`
	HTTPCors string `long:"http-cors" env:"BWT_HTTP_CORS" description:"allowed cors origin"`
	NoHTTP   bool   `long:"no-http" env:"BWT_NO_HTTP" description:"disable the http api"`

	UnixListenerPath string   `long:"unix-listener-path" env:"BWT_UNIX_LISTENER_PATH" description:"unix socket accepting sync triggers"`
	WebhookURLs      []string `long:"webhook-url" env:"BWT_WEBHOOK_URLS" env-delim:";" description:"url to POST index changes to (repeatable)"`
	DBPath           string   `long:"db-path" env:"BWT_DB_PATH" description:"sqlite file persisting sync checkpoints across restarts"`
}

func main() {
	config.LoadDotEnv()

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}

	doc, err := buildConfig(&opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	rep := progress.NewBarReporter()
	notify := func(category string, progressVal float32, detailN uint32, detailS string) {
		switch category {
		case "progress:sync":
			rep.Report(progress.Event{Kind: progress.KindSync, Progress: progressVal, Tip: uint64(detailN)})
		case "progress:scan":
			rep.Report(progress.Event{Kind: progress.KindScan, Progress: progressVal, ETA: uint64(detailN)})
		case "ready":
			rep.Done()
		case "error":
			fmt.Fprintln(os.Stderr, "bwtd error:", detailS)
		}
	}

	handle, err := gobwt.Start(doc, notify, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	if err := gobwt.Shutdown(handle); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown failed:", err)
		os.Exit(1)
	}
}

// buildConfig assembles the JSON config document from the parsed flags.
func buildConfig(opts *options) (string, error) {
	cfg := config.Default()
	cfg.Network = config.Network(opts.Network)
	cfg.Verbose = len(opts.Verbose)
	cfg.Timestamp = opts.Timestamp
	cfg.BitcoindURL = opts.BitcoindURL
	cfg.BitcoindDir = opts.BitcoindDir
	cfg.BitcoindWallet = opts.BitcoindWallet
	cfg.BitcoindCred = opts.BitcoindCred
	cfg.BitcoindCookie = opts.BitcoindCookie
	cfg.HTTPCors = opts.HTTPCors
	cfg.DisableElectrum = opts.NoElectrum
	cfg.DisableHTTP = opts.NoHTTP
	cfg.UnixListenerPath = opts.UnixListenerPath
	cfg.WebhookURLs = opts.WebhookURLs
	cfg.DBPath = opts.DBPath
	if opts.GapLimit > 0 {
		cfg.GapLimit = opts.GapLimit
	}
	if opts.InitialImportSize > 0 {
		cfg.InitialImportSize = opts.InitialImportSize
	}
	if opts.PollInterval > 0 {
		cfg.PollInterval = config.Seconds(opts.PollInterval * 1e9)
	}
	if opts.ElectrumAddr != "" {
		cfg.ElectrumAddr = opts.ElectrumAddr
	}
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}

	for _, raw := range opts.Xpubs {
		entry, err := config.ParseXpubEntry(raw)
		if err != nil {
			return "", err
		}
		cfg.Xpubs = append(cfg.Xpubs, entry)
	}
	for _, raw := range opts.BareXpubs {
		entry, err := config.ParseXpubEntry(raw)
		if err != nil {
			return "", err
		}
		cfg.BareXpubs = append(cfg.BareXpubs, entry)
	}

	doc, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return string(doc), nil
}
