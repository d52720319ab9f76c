package wallet

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bwt-dev/gobwt/chain"
	"github.com/bwt-dev/gobwt/config"
)

// Watcher owns the set of tracked wallets and keeps bitcoind's watch-only
// imports in step with their gap-limit windows.
type Watcher struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
	order   []string
	log     *zap.Logger
}

// NewWatcher builds the watcher for the configured xpubs.
func NewWatcher(cfg *config.Config, log *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		wallets: make(map[string]*Wallet),
		log:     log.Named("watcher"),
	}
	for _, entry := range cfg.Xpubs {
		wallets, err := FromXpub(entry, cfg)
		if err != nil {
			return nil, err
		}
		for _, wallet := range wallets {
			w.add(wallet)
		}
	}
	for _, entry := range cfg.BareXpubs {
		wallet, err := FromBareXpub(entry, cfg)
		if err != nil {
			return nil, err
		}
		w.add(wallet)
	}
	return w, nil
}

func (w *Watcher) add(wallet *Wallet) {
	if _, dup := w.wallets[wallet.fingerprint]; dup {
		return
	}
	w.wallets[wallet.fingerprint] = wallet
	w.order = append(w.order, wallet.fingerprint)
}

// Get returns the wallet for a chain-key fingerprint.
func (w *Watcher) Get(fingerprint string) (*Wallet, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	wallet, ok := w.wallets[fingerprint]
	return wallet, ok
}

// Summaries lists the wallets in configuration order.
func (w *Watcher) Summaries() []Summary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Summary, 0, len(w.order))
	for _, fp := range w.order {
		out = append(out, w.wallets[fp].Summarize())
	}
	return out
}

// MarkFunded records usage of a derived address, widening the watch window
// of its wallet.
func (w *Watcher) MarkFunded(origin KeyOrigin) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if wallet, ok := w.wallets[origin.Fingerprint]; ok {
		wallet.markFunded(origin.Index)
	}
}

// Watch imports any addresses that entered a wallet's watch window since
// the last call and returns the number of imported addresses. The first
// batch per wallet carries the user's rescan policy; follow-up batches are
// imported without a rescan, since their history can only be in new blocks.
func (w *Watcher) Watch(ctx context.Context, rpc *chain.Client) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var reqs []chain.ImportRequest
	var pending []pendingImport
	needRescan := false

	for _, fp := range w.order {
		wallet := w.wallets[fp]
		watchIndex := wallet.watchIndex()
		if int64(watchIndex) > wallet.maxImportedIndex {
			start := uint32(wallet.maxImportedIndex + 1)
			rescan := config.RescanNow
			if !wallet.doneInitialImport {
				rescan = wallet.rescan
			}
			if !rescan.Now {
				needRescan = true
			}
			w.log.Debug("importing range",
				zap.String("fingerprint", fp),
				zap.Uint32("start", start),
				zap.Uint32("end", watchIndex),
				zap.Any("rescan", rescan.RPCValue()))

			batch, err := wallet.makeImports(start, watchIndex, rescan)
			if err != nil {
				return 0, err
			}
			reqs = append(reqs, batch...)
			pending = append(pending, pendingImport{wallet, watchIndex})
		} else if !wallet.doneInitialImport {
			w.log.Debug("done initial import",
				zap.String("fingerprint", fp),
				zap.Int64("max_imported", wallet.maxImportedIndex))
			wallet.doneInitialImport = true
		}
	}

	if len(reqs) == 0 {
		return 0, nil
	}

	w.log.Info("importing address batch", zap.Int("count", len(reqs)))
	importFn := rpc.ImportMulti
	if needRescan {
		importFn = rpc.ImportMultiRescan
	}
	results, err := importFn(ctx, reqs)
	if err != nil {
		return 0, err
	}
	for i, result := range results {
		if !result.Success {
			return 0, fmt.Errorf("importmulti entry %d failed: %v", i, result.Error)
		}
	}

	for _, p := range pending {
		p.wallet.maxImportedIndex = int64(p.watchIndex)
	}
	return len(reqs), nil
}

type pendingImport struct {
	wallet     *Wallet
	watchIndex uint32
}

// ExportStates snapshots all wallet states for the checkpoint store.
func (w *Watcher) ExportStates() []State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]State, 0, len(w.order))
	for _, fp := range w.order {
		out = append(out, w.wallets[fp].ExportState())
	}
	return out
}

// RestoreStates reapplies checkpointed wallet states.
func (w *Watcher) RestoreStates(states []State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range states {
		if wallet, ok := w.wallets[s.Fingerprint]; ok {
			wallet.RestoreState(s)
		}
	}
}

// Empty reports whether the watcher tracks no wallets at all.
func (w *Watcher) Empty() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.wallets) == 0
}
