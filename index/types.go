// Package index maintains the in-memory index of wallet activity: which
// scripthashes are tracked, their transaction history, and which outputs
// fund or spend them. It is fed by bitcoind's listsinceblock and emits a
// changelog consumed by the electrum server, the http streams and the
// webhook notifier.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bwt-dev/gobwt/config"
)

// ScriptHash is the sha256 of an output script, the key under which
// electrum-style wallets look up their addresses.
type ScriptHash [32]byte

// NewScriptHash hashes a raw output script.
func NewScriptHash(script []byte) ScriptHash {
	return sha256.Sum256(script)
}

// ScriptHashFromAddress hashes the canonical output script of an address.
func ScriptHashFromAddress(addr string, network config.Network) (ScriptHash, error) {
	decoded, err := btcutil.DecodeAddress(addr, network.Params())
	if err != nil {
		return ScriptHash{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return ScriptHash{}, err
	}
	return NewScriptHash(script), nil
}

// ParseScriptHash decodes the hex form.
func ParseScriptHash(s string) (ScriptHash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return ScriptHash{}, fmt.Errorf("invalid scripthash %q", s)
	}
	var sh ScriptHash
	copy(sh[:], raw)
	return sh, nil
}

func (sh ScriptHash) String() string { return hex.EncodeToString(sh[:]) }

func (sh ScriptHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(sh.String())
}

func (sh *ScriptHash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseScriptHash(s)
	if err != nil {
		return err
	}
	*sh = parsed
	return nil
}

// BlockID pins a block by height and hash.
type BlockID struct {
	Height uint32 `json:"height"`
	Hash   string `json:"hash"`
}

// TxStatus encodes a transaction's confirmation state: a positive value is
// the confirmation height, zero means unconfirmed, negative means the tx
// conflicts with the best chain (was double-spent).
type TxStatus int32

const (
	StatusUnconfirmed TxStatus = 0
	StatusConflicted  TxStatus = -1
)

// NewTxStatus derives the status from a confirmation count and the tip
// height the count was measured against.
func NewTxStatus(confirmations int, tipHeight uint32) TxStatus {
	switch {
	case confirmations > 0:
		return TxStatus(int64(tipHeight) - int64(confirmations) + 1)
	case confirmations == 0:
		return StatusUnconfirmed
	default:
		return StatusConflicted
	}
}

// Viable reports whether the transaction can still confirm.
func (s TxStatus) Viable() bool { return s >= 0 }

// Confirmed reports whether the transaction is in the best chain.
func (s TxStatus) Confirmed() bool { return s > 0 }

// Height returns the confirmation height, or 0 when unconfirmed. Electrum
// uses the same convention.
func (s TxStatus) Height() uint32 {
	if s > 0 {
		return uint32(s)
	}
	return 0
}

// statusLess orders history entries the way electrum expects them:
// confirmed first in block order, then unconfirmed.
func statusLess(a, b TxStatus) bool {
	switch {
	case a.Confirmed() && b.Confirmed():
		return a < b
	case a.Confirmed():
		return true
	default:
		return false
	}
}

// HistoryEntry is one transaction touching a scripthash.
type HistoryEntry struct {
	Txid   string   `json:"txid"`
	Status TxStatus `json:"-"`
}

// Utxo is an unspent output owned by a tracked scripthash.
type Utxo struct {
	Txid   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  uint64   `json:"value"`
	Status TxStatus `json:"-"`
	Height uint32   `json:"block_height"`
}

// OutPoint references a specific transaction output.
type OutPoint struct {
	Txid string
	Vout uint32
}

func (o OutPoint) String() string { return fmt.Sprintf("%s:%d", o.Txid, o.Vout) }
