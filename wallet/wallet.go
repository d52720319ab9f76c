package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/bwt-dev/gobwt/chain"
	"github.com/bwt-dev/gobwt/config"
)

// Wallet watches one derivation chain of an extended public key. A regular
// xpub expands into two wallets (external and internal chains); a bare xpub
// into a single one derived directly off the key.
type Wallet struct {
	chainKey    *hdkeychain.ExtendedKey
	fingerprint string
	parent      string // the user-supplied xpub this chain came from
	chainIndex  *uint32
	network     config.Network
	scriptType  ScriptType
	gapLimit    uint32
	initialGap  uint32
	rescan      config.RescanSince

	doneInitialImport bool
	maxUsedIndex      int64 // -1 when no address was ever funded
	maxImportedIndex  int64 // -1 when nothing was imported yet
}

// FromXpub expands an xpub entry into its external (0) and internal (1)
// chain wallets.
func FromXpub(entry config.XpubEntry, cfg *config.Config) ([]*Wallet, error) {
	xpub, err := ParseXPub(entry.Xpub, cfg.Network)
	if err != nil {
		return nil, err
	}
	wallets := make([]*Wallet, 0, 2)
	for chainIndex := uint32(0); chainIndex <= 1; chainIndex++ {
		chainKey, err := xpub.Key.Derive(chainIndex)
		if err != nil {
			return nil, fmt.Errorf("deriving chain %d of %s: %w", chainIndex, xpub, err)
		}
		w, err := newWallet(chainKey, xpub, entry.Rescan, cfg)
		if err != nil {
			return nil, err
		}
		ci := chainIndex
		w.chainIndex = &ci
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// FromBareXpub creates a wallet deriving addresses directly off the key,
// without the external/internal chain split.
func FromBareXpub(entry config.XpubEntry, cfg *config.Config) (*Wallet, error) {
	xpub, err := ParseXPub(entry.Xpub, cfg.Network)
	if err != nil {
		return nil, err
	}
	return newWallet(xpub.Key, xpub, entry.Rescan, cfg)
}

func newWallet(chainKey *hdkeychain.ExtendedKey, parent *XPub, rescan config.RescanSince, cfg *config.Config) (*Wallet, error) {
	fp, err := fingerprint(chainKey)
	if err != nil {
		return nil, err
	}
	initialGap := cfg.InitialImportSize
	if initialGap < cfg.GapLimit {
		initialGap = cfg.GapLimit
	}
	return &Wallet{
		chainKey:         chainKey,
		fingerprint:      fp,
		parent:           parent.String(),
		network:          cfg.Network,
		scriptType:       parent.ScriptType,
		gapLimit:         cfg.GapLimit,
		initialGap:       initialGap,
		rescan:           rescan,
		maxUsedIndex:     -1,
		maxImportedIndex: -1,
	}, nil
}

// Fingerprint identifies the wallet's chain-level key.
func (w *Wallet) Fingerprint() string { return w.fingerprint }

// DeriveAddress derives the watch address at the given index.
func (w *Wallet) DeriveAddress(index uint32) (btcutil.Address, error) {
	return deriveAddress(w.chainKey, index, w.scriptType, w.network)
}

// watchIndex returns the highest derivation index that should currently be
// imported: the gap limit past the highest used index, or the initial
// import window when nothing was used yet.
func (w *Wallet) watchIndex() uint32 {
	gap := w.gapLimit
	if !w.doneInitialImport {
		gap = w.initialGap
	}
	if w.maxUsedIndex < 0 {
		return gap - 1
	}
	return uint32(w.maxUsedIndex) + gap
}

// markFunded records that the address at index received funds, extending
// the watched window.
func (w *Wallet) markFunded(index uint32) {
	if int64(index) > w.maxImportedIndex {
		w.maxImportedIndex = int64(index)
	}
	if int64(index) > w.maxUsedIndex {
		w.maxUsedIndex = int64(index)
	}
}

// makeImports builds the importmulti requests for indexes start..end
// (inclusive).
func (w *Wallet) makeImports(start, end uint32, rescan config.RescanSince) ([]chain.ImportRequest, error) {
	reqs := make([]chain.ImportRequest, 0, end-start+1)
	for index := start; index <= end; index++ {
		addr, err := w.DeriveAddress(index)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, chain.ImportRequest{
			ScriptPubKey: chain.ImportScript{Address: addr.EncodeAddress()},
			Timestamp:    rescan.RPCValue(),
			WatchOnly:    true,
			Label:        KeyOrigin{Fingerprint: w.fingerprint, Index: index}.Label(),
		})
	}
	return reqs, nil
}

// Summary is the wallet's public description, exposed over the HTTP API.
type Summary struct {
	Xpub             string `json:"xpub"`
	Fingerprint      string `json:"fingerprint"`
	Chain            *uint32 `json:"chain,omitempty"`
	ScriptType       string `json:"script_type"`
	GapLimit         uint32 `json:"gap_limit"`
	MaxFundedIndex   *uint32 `json:"max_funded_index"`
	MaxImportedIndex *uint32 `json:"max_imported_index"`
	Ready            bool   `json:"done_initial_import"`
}

// Summarize builds the wallet summary.
func (w *Wallet) Summarize() Summary {
	s := Summary{
		Xpub:        w.parent,
		Fingerprint: w.fingerprint,
		Chain:       w.chainIndex,
		ScriptType:  w.scriptType.String(),
		GapLimit:    w.gapLimit,
		Ready:       w.doneInitialImport,
	}
	if w.maxUsedIndex >= 0 {
		v := uint32(w.maxUsedIndex)
		s.MaxFundedIndex = &v
	}
	if w.maxImportedIndex >= 0 {
		v := uint32(w.maxImportedIndex)
		s.MaxImportedIndex = &v
	}
	return s
}

// State is the persistable part of a wallet, used by the checkpoint store.
type State struct {
	Fingerprint       string
	MaxUsedIndex      int64
	MaxImportedIndex  int64
	DoneInitialImport bool
}

// ExportState snapshots the mutable wallet state.
func (w *Wallet) ExportState() State {
	return State{
		Fingerprint:       w.fingerprint,
		MaxUsedIndex:      w.maxUsedIndex,
		MaxImportedIndex:  w.maxImportedIndex,
		DoneInitialImport: w.doneInitialImport,
	}
}

// RestoreState reapplies a snapshot taken by ExportState.
func (w *Wallet) RestoreState(s State) {
	if s.Fingerprint != w.fingerprint {
		return
	}
	w.maxUsedIndex = s.MaxUsedIndex
	w.maxImportedIndex = s.MaxImportedIndex
	w.doneInitialImport = s.DoneInitialImport
}
