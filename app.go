package gobwt

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/chain"
	"github.com/bwt-dev/gobwt/config"
	"github.com/bwt-dev/gobwt/electrum"
	"github.com/bwt-dev/gobwt/httpd"
	"github.com/bwt-dev/gobwt/index"
	"github.com/bwt-dev/gobwt/listener"
	"github.com/bwt-dev/gobwt/progress"
	"github.com/bwt-dev/gobwt/query"
	"github.com/bwt-dev/gobwt/wallet"
	"github.com/bwt-dev/gobwt/webhook"
)

// triggerDebounce batches bursts of external sync triggers into one pass.
const triggerDebounce = 500 * time.Millisecond

// App wires the tracker together: the rpc client, the index, the query
// layer and the configured servers, plus the sync loop driving them.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	rpc     *chain.Client
	indexer *index.Indexer
	query   *query.Query

	electrum   *electrum.Server
	http       *httpd.Server
	webhook    *webhook.Notifier
	listener   *listener.Listener
	checkpoint *index.CheckpointStore

	trigger chan struct{}
	wg      sync.WaitGroup
}

// newApp boots the tracker: connects to bitcoind, waits for it to sync,
// imports the watched addresses, runs the initial index sync and starts
// the configured servers. Blocks until everything is operational; rep
// receives the progress along the way.
func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, rep progress.Reporter) (*App, error) {
	user, pass, err := cfg.BitcoindAuth()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		log:     log,
		rpc:     chain.NewClient(cfg.BitcoindRPCURL(), user, pass, log),
		trigger: make(chan struct{}, 1),
	}
	if err := a.boot(ctx, rep); err != nil {
		a.Shutdown()
		return nil, err
	}
	return a, nil
}

func (a *App) boot(ctx context.Context, rep progress.Reporter) error {
	cfg := a.cfg
	interval := cfg.PollInterval.Duration()

	if cfg.BitcoindWallet != "" {
		if err := a.rpc.LoadWallet(ctx, cfg.BitcoindWallet); err != nil {
			return err
		}
	}
	if _, err := progress.WaitBlockSync(ctx, a.rpc, rep, interval, true); err != nil {
		return err
	}

	watcher, err := wallet.NewWatcher(cfg, a.log)
	if err != nil {
		return err
	}
	a.indexer = index.New(a.rpc, watcher, cfg.Network, a.log)

	if cfg.DBPath != "" {
		store, err := index.OpenCheckpointStore(cfg.DBPath, a.log)
		if err != nil {
			return err
		}
		a.checkpoint = store
		cp, states, err := store.Load()
		if err != nil {
			return err
		}
		watcher.RestoreStates(states)
		a.indexer.RestoreCheckpoint(cp)
	}

	// The initial sync imports addresses as it discovers usage, and each
	// import batch may trigger a wallet rescan. Iterate until the watch
	// windows stop growing.
	for {
		_, imported, err := a.indexer.Sync(ctx, false)
		if err != nil {
			return err
		}
		if imported == 0 {
			break
		}
		if _, err := progress.WaitWalletScan(ctx, a.rpc, rep, interval); err != nil {
			return err
		}
	}
	rep.Done()

	a.query = query.New(a.rpc, a.indexer, a.log)

	if !cfg.DisableElectrum {
		srv := electrum.NewServer(a.query, a.log)
		if err := srv.Listen(cfg.ElectrumRPCAddr()); err != nil {
			return err
		}
		a.electrum = srv
	}
	if !cfg.DisableHTTP {
		srv := httpd.NewServer(a.query, cfg, a.TriggerSync, a.log)
		if err := srv.Listen(cfg.HTTPServerAddr()); err != nil {
			return err
		}
		a.http = srv
	}
	if len(cfg.WebhookURLs) > 0 {
		a.webhook = webhook.NewNotifier(cfg.WebhookURLs, a.log)
	}
	if cfg.UnixListenerPath != "" {
		l, err := listener.Listen(cfg.UnixListenerPath, a.TriggerSync, a.log)
		if err != nil {
			return err
		}
		a.listener = l
	}
	return nil
}

// Start launches the sync loop. The loop stops when ctx is canceled.
func (a *App) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.syncLoop(ctx)
}

// TriggerSync requests an immediate sync pass. Safe to call from any
// goroutine; redundant triggers collapse into one.
func (a *App) TriggerSync() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

func (a *App) syncLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.PollInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.trigger:
			if !a.debounce(ctx) {
				return
			}
		}
		a.syncOnce(ctx)
	}
}

// debounce absorbs trigger bursts, reporting false when ctx ended.
func (a *App) debounce(ctx context.Context) bool {
	timer := time.NewTimer(triggerDebounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-a.trigger:
		case <-timer.C:
			return true
		}
	}
}

func (a *App) syncOnce(ctx context.Context) {
	changes, _, err := a.indexer.Sync(ctx, true)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Warn("sync pass failed", zap.Error(err))
		}
		return
	}
	if len(changes) > 0 {
		if a.electrum != nil {
			a.electrum.Notify(changes)
		}
		if a.http != nil {
			a.http.Notify(changes)
		}
		if a.webhook != nil {
			a.webhook.Notify(changes)
		}
	}
	a.saveCheckpoint()
}

func (a *App) saveCheckpoint() {
	if a.checkpoint == nil {
		return
	}
	cp := a.indexer.ExportCheckpoint()
	states := a.indexer.Watcher().ExportStates()
	if err := a.checkpoint.Save(cp, states); err != nil {
		a.log.Warn("checkpoint save failed", zap.Error(err))
	}
}

// ElectrumAddr returns the bound electrum address, or empty when disabled.
func (a *App) ElectrumAddr() string {
	if a.electrum == nil {
		return ""
	}
	return a.electrum.Addr()
}

// HTTPAddr returns the bound http api address, or empty when disabled.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// Shutdown releases everything the app holds. The caller must have
// canceled the Start context first; Shutdown waits for the sync loop, then
// stops the servers and persists a final checkpoint.
func (a *App) Shutdown() {
	a.wg.Wait()
	if a.listener != nil {
		a.listener.Close()
	}
	if a.electrum != nil {
		a.electrum.Shutdown()
	}
	if a.http != nil {
		a.http.Shutdown()
	}
	if a.webhook != nil {
		a.webhook.Shutdown()
	}
	if a.checkpoint != nil {
		if a.indexer != nil {
			a.saveCheckpoint()
		}
		a.checkpoint.Close()
	}
	a.log.Info("tracker stopped")
}
