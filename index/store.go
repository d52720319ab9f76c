package index

import (
	"sort"
	"sync"

	"github.com/bwt-dev/gobwt/wallet"
)

// ScriptInfo describes a tracked scripthash.
type ScriptInfo struct {
	ScriptHash ScriptHash       `json:"scripthash"`
	Address    string           `json:"address"`
	Origin     wallet.KeyOrigin `json:"-"`
}

type scriptEntry struct {
	address string
	origin  wallet.KeyOrigin
	history map[string]TxStatus // txid -> status at last index
}

type txEntry struct {
	status  TxStatus
	fee     uint64                // sats, 0 when unknown
	funding map[uint32]ScriptHash // vout -> tracked scripthash
	spent   map[OutPoint]ScriptHash
	scripts map[ScriptHash]struct{} // scripthashes with this tx in their history
}

// MemoryStore is the in-memory index. A single writer (the sync loop)
// updates it while the servers read concurrently.
type MemoryStore struct {
	mu      sync.RWMutex
	scripts map[ScriptHash]*scriptEntry
	txs     map[string]*txEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scripts: make(map[ScriptHash]*scriptEntry),
		txs:     make(map[string]*txEntry),
	}
}

// TrackScriptHash registers a scripthash as tracked. Reports whether it was
// newly added.
func (s *MemoryStore) TrackScriptHash(sh ScriptHash, address string, origin wallet.KeyOrigin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scripts[sh]; ok {
		return false
	}
	s.scripts[sh] = &scriptEntry{
		address: address,
		origin:  origin,
		history: make(map[string]TxStatus),
	}
	return true
}

func (s *MemoryStore) tx(txid string) *txEntry {
	entry, ok := s.txs[txid]
	if !ok {
		entry = &txEntry{
			funding: make(map[uint32]ScriptHash),
			spent:   make(map[OutPoint]ScriptHash),
			scripts: make(map[ScriptHash]struct{}),
		}
		s.txs[txid] = entry
	}
	return entry
}

// IndexTx records a transaction's status and fee, propagating a status
// change to the history entries referencing it. Reports whether the status
// changed (including first sight).
func (s *MemoryStore) IndexTx(txid string, status TxStatus, fee uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, seen := s.txs[txid]
	entry := s.tx(txid)
	if fee > 0 {
		entry.fee = fee
	}
	if seen && existing.status == status {
		return false
	}
	entry.status = status
	for sh := range entry.scripts {
		if script, ok := s.scripts[sh]; ok {
			script.history[txid] = status
		}
	}
	return true
}

// IndexFunding records that tx output vout pays to a tracked scripthash.
// Reports whether the txo is new. Adds the tx to the scripthash history.
func (s *MemoryStore) IndexFunding(txid string, vout uint32, sh ScriptHash) (newTxo, newHistory bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.tx(txid)
	if _, ok := entry.funding[vout]; !ok {
		entry.funding[vout] = sh
		newTxo = true
	}
	newHistory = s.addHistory(entry, txid, sh)
	return newTxo, newHistory
}

// IndexSpending records that tx spends a previously funded outpoint.
// Reports whether the spend is new.
func (s *MemoryStore) IndexSpending(txid string, prevout OutPoint, sh ScriptHash) (newSpend, newHistory bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.tx(txid)
	if _, ok := entry.spent[prevout]; !ok {
		entry.spent[prevout] = sh
		newSpend = true
	}
	newHistory = s.addHistory(entry, txid, sh)
	return newSpend, newHistory
}

func (s *MemoryStore) addHistory(entry *txEntry, txid string, sh ScriptHash) bool {
	script, ok := s.scripts[sh]
	if !ok {
		return false
	}
	entry.scripts[sh] = struct{}{}
	if _, ok := script.history[txid]; ok {
		return false
	}
	script.history[txid] = entry.status
	return true
}

// PurgeTx drops a transaction and its traces from the affected histories.
// Reports whether anything was removed.
func (s *MemoryStore) PurgeTx(txid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.txs[txid]
	if !ok {
		return false
	}
	for sh := range entry.scripts {
		if script, ok := s.scripts[sh]; ok {
			delete(script.history, txid)
		}
	}
	delete(s.txs, txid)
	return true
}

// GetFundedScriptHash resolves an outpoint to the tracked scripthash it
// pays, if any.
func (s *MemoryStore) GetFundedScriptHash(op OutPoint) (ScriptHash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.txs[op.Txid]
	if !ok {
		return ScriptHash{}, false
	}
	sh, ok := entry.funding[op.Vout]
	return sh, ok
}

// HasScriptHash reports whether the scripthash is tracked.
func (s *MemoryStore) HasScriptHash(sh ScriptHash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.scripts[sh]
	return ok
}

// GetScriptInfo returns the tracked script's address and key origin.
func (s *MemoryStore) GetScriptInfo(sh ScriptHash) (ScriptInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.scripts[sh]
	if !ok {
		return ScriptInfo{}, false
	}
	return ScriptInfo{ScriptHash: sh, Address: entry.address, Origin: entry.origin}, true
}

// GetHistory returns the scripthash history in electrum order: confirmed
// entries by height, then unconfirmed, ties broken by txid.
func (s *MemoryStore) GetHistory(sh ScriptHash) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.scripts[sh]
	if !ok {
		return nil
	}
	out := make([]HistoryEntry, 0, len(entry.history))
	for txid, status := range entry.history {
		out = append(out, HistoryEntry{Txid: txid, Status: status})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return statusLess(out[i].Status, out[j].Status)
		}
		return out[i].Txid < out[j].Txid
	})
	return out
}

// GetTxStatus looks up an indexed transaction's status.
func (s *MemoryStore) GetTxStatus(txid string) (TxStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.txs[txid]
	if !ok {
		return StatusUnconfirmed, false
	}
	return entry.status, true
}

// GetTxFee returns the recorded fee in satoshis, 0 when unknown.
func (s *MemoryStore) GetTxFee(txid string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.txs[txid]; ok {
		return entry.fee
	}
	return 0
}

// Scripts lists all tracked scripthashes.
func (s *MemoryStore) Scripts() []ScriptInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScriptInfo, 0, len(s.scripts))
	for sh, entry := range s.scripts {
		out = append(out, ScriptInfo{ScriptHash: sh, Address: entry.address, Origin: entry.origin})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
