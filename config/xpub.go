package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RescanSince controls how far back bitcoind rescans for historical wallet
// activity when an xpub is first imported. The zero value rescans from
// genesis (timestamp 0), matching the behavior when no rescan hint is given.
type RescanSince struct {
	// Now skips the rescan entirely and only picks up future activity.
	Now bool
	// Timestamp is the unix time to rescan from when Now is false.
	Timestamp uint64
}

// RescanNow is the "don't rescan" sentinel.
var RescanNow = RescanSince{Now: true}

// ParseRescanSince accepts a unix epoch, a yyyy-mm-dd date, or "now"/"none".
func ParseRescanSince(s string) (RescanSince, error) {
	switch s {
	case "now", "none":
		return RescanNow, nil
	}
	if ts, err := strconv.ParseUint(s, 10, 64); err == nil {
		return RescanSince{Timestamp: ts}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return RescanSince{}, fmt.Errorf("invalid rescan value %q, expected a unix epoch, yyyy-mm-dd or 'now'", s)
	}
	return RescanSince{Timestamp: uint64(t.Unix())}, nil
}

// UnmarshalJSON accepts a number, "now", a yyyy-mm-dd string, or null.
func (r *RescanSince) UnmarshalJSON(b []byte) error {
	switch {
	case string(b) == "null":
		*r = RescanNow
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseRescanSince(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	default:
		var ts uint64
		if err := json.Unmarshal(b, &ts); err != nil {
			return fmt.Errorf("invalid rescan value %s", b)
		}
		*r = RescanSince{Timestamp: ts}
		return nil
	}
}

// MarshalJSON encodes to the bitcoind importmulti "timestamp" convention.
func (r RescanSince) MarshalJSON() ([]byte, error) {
	if r.Now {
		return json.Marshal("now")
	}
	return json.Marshal(r.Timestamp)
}

// RPCValue returns the importmulti timestamp argument.
func (r RescanSince) RPCValue() any {
	if r.Now {
		return "now"
	}
	return r.Timestamp
}

// XpubEntry pairs an extended public key with its rescan policy.
type XpubEntry struct {
	Xpub   string
	Rescan RescanSince
}

// UnmarshalJSON accepts "xpub", "xpub:<rescan>" or ["xpub", <rescan>].
func (e *XpubEntry) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty xpub entry")
	}
	if b[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(b, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("xpub entry pair must have exactly two elements")
		}
		if err := json.Unmarshal(pair[0], &e.Xpub); err != nil {
			return err
		}
		return json.Unmarshal(pair[1], &e.Rescan)
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid xpub entry %s", b)
	}
	parsed, err := ParseXpubEntry(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// MarshalJSON encodes as the ["xpub", <rescan>] pair form.
func (e XpubEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Xpub, e.Rescan})
}

// ParseXpubEntry parses the "<xpub>" / "<xpub>:<rescan>" CLI form.
func ParseXpubEntry(s string) (XpubEntry, error) {
	if s == "" {
		return XpubEntry{}, fmt.Errorf("missing xpub")
	}
	parts := strings.SplitN(s, ":", 2)
	entry := XpubEntry{Xpub: parts[0]}
	if len(parts) == 2 {
		rescan, err := ParseRescanSince(parts[1])
		if err != nil {
			return XpubEntry{}, err
		}
		entry.Rescan = rescan
	}
	return entry, nil
}
