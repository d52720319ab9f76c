package wallet

import (
	"fmt"
	"strconv"
	"strings"
)

// labelPrefix namespaces the bitcoind labels the tracker owns. Addresses
// labeled by other software are ignored by the indexer.
const labelPrefix = "bwt"

// KeyOrigin identifies where a watched address was derived from: the
// fingerprint of its chain-level key and the derivation index.
type KeyOrigin struct {
	Fingerprint string
	Index       uint32
}

// Label encodes the origin into the bitcoind label attached on import.
func (o KeyOrigin) Label() string {
	return fmt.Sprintf("%s/%s/%d", labelPrefix, o.Fingerprint, o.Index)
}

func (o KeyOrigin) String() string { return o.Label() }

// OriginFromLabel decodes a bitcoind label back into a key origin.
// Labels not written by the tracker return ok=false.
func OriginFromLabel(label string) (KeyOrigin, bool) {
	parts := strings.Split(label, "/")
	if len(parts) != 3 || parts[0] != labelPrefix {
		return KeyOrigin{}, false
	}
	index, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil || parts[1] == "" {
		return KeyOrigin{}, false
	}
	return KeyOrigin{Fingerprint: parts[1], Index: uint32(index)}, true
}
