// Package wallet tracks HD wallets by their extended public keys: deriving
// watch addresses, importing them into bitcoind as watch-only entries with
// origin-encoding labels, and extending the watched range as addresses get
// used.
package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bwt-dev/gobwt/config"
)

// ScriptType selects the address encoding derived keys are watched under,
// following the SLIP-132 version prefix of the xpub.
type ScriptType int

const (
	ScriptP2PKH ScriptType = iota
	ScriptP2SHP2WPKH
	ScriptP2WPKH
)

func (s ScriptType) String() string {
	switch s {
	case ScriptP2PKH:
		return "p2pkh"
	case ScriptP2SHP2WPKH:
		return "p2sh-p2wpkh"
	case ScriptP2WPKH:
		return "p2wpkh"
	default:
		return "unknown"
	}
}

// XPub is a parsed extended public key with its script type.
type XPub struct {
	Key        *hdkeychain.ExtendedKey
	ScriptType ScriptType
	mainnet    bool
	raw        string
}

// ParseXPub parses an xpub/ypub/zpub (or their testnet t/u/v forms) and
// checks it against the configured network.
func ParseXPub(s string, network config.Network) (*XPub, error) {
	if s == "" {
		return nil, fmt.Errorf("missing xpub")
	}
	var scriptType ScriptType
	var mainnet bool
	switch s[0] {
	case 'x':
		scriptType, mainnet = ScriptP2PKH, true
	case 'y':
		scriptType, mainnet = ScriptP2SHP2WPKH, true
	case 'z':
		scriptType, mainnet = ScriptP2WPKH, true
	case 't':
		scriptType, mainnet = ScriptP2PKH, false
	case 'u':
		scriptType, mainnet = ScriptP2SHP2WPKH, false
	case 'v':
		scriptType, mainnet = ScriptP2WPKH, false
	default:
		return nil, fmt.Errorf("unrecognized extended key prefix in %q", s)
	}

	if wantMainnet := network == config.NetworkBitcoin; mainnet != wantMainnet {
		return nil, fmt.Errorf("xpub network mismatch, %s is not valid on %s", s, network)
	}

	key, err := hdkeychain.NewKeyFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid xpub %q: %w", s, err)
	}
	if key.IsPrivate() {
		return nil, fmt.Errorf("expected a public key, got a private one")
	}
	return &XPub{Key: key, ScriptType: scriptType, mainnet: mainnet, raw: s}, nil
}

func (x *XPub) String() string { return x.raw }

// fingerprint is the first four bytes of HASH160 of the key's compressed
// public key, hex encoded.
func fingerprint(key *hdkeychain.ExtendedKey) (string, error) {
	pub, err := key.ECPubKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(btcutil.Hash160(pub.SerializeCompressed())[:4]), nil
}

// deriveAddress derives the child at index and encodes it per the script
// type.
func deriveAddress(key *hdkeychain.ExtendedKey, index uint32, scriptType ScriptType, network config.Network) (btcutil.Address, error) {
	child, err := key.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("deriving child %d: %w", index, err)
	}
	pub, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}
	pkHash := btcutil.Hash160(pub.SerializeCompressed())
	params := network.Params()

	switch scriptType {
	case ScriptP2PKH:
		return btcutil.NewAddressPubKeyHash(pkHash, params)
	case ScriptP2WPKH:
		return btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	case ScriptP2SHP2WPKH:
		witness, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
		if err != nil {
			return nil, err
		}
		redeem, err := txscript.PayToAddrScript(witness)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(redeem, params)
	default:
		return nil, fmt.Errorf("unsupported script type %d", scriptType)
	}
}
