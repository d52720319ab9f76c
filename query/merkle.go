package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MerkleProof is a transaction's inclusion proof in electrum's
// get_merkle format.
type MerkleProof struct {
	Merkle      []string `json:"merkle"`
	BlockHeight uint32   `json:"block_height"`
	Pos         int      `json:"pos"`
}

// GetMerkleProof proves a confirmed transaction's inclusion in the block at
// the given height.
func (q *Query) GetMerkleProof(ctx context.Context, txid string, height uint32) (*MerkleProof, error) {
	hash, err := q.rpc.GetBlockHash(ctx, uint64(height))
	if err != nil {
		return nil, err
	}
	block, err := q.rpc.GetBlockTxids(ctx, hash)
	if err != nil {
		return nil, err
	}

	pos := -1
	for i, id := range block.Txids {
		if id == txid {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("tx %s not found in block %d", txid, height)
	}

	branch, err := merkleBranch(block.Txids, pos)
	if err != nil {
		return nil, err
	}
	return &MerkleProof{Merkle: branch, BlockHeight: height, Pos: pos}, nil
}

// merkleBranch computes the sibling hashes along the path from leaf pos to
// the merkle root. Txids are hex in display order (reversed), internal
// hashing runs over the natural byte order, and the branch is returned in
// display order again.
func merkleBranch(txids []string, pos int) ([]string, error) {
	hashes := make([][]byte, len(txids))
	for i, id := range txids {
		raw, err := hex.DecodeString(id)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("invalid txid %q", id)
		}
		hashes[i] = reverse(raw)
	}

	var branch []string
	idx := pos
	for len(hashes) > 1 {
		if len(hashes)%2 == 1 {
			hashes = append(hashes, hashes[len(hashes)-1])
		}
		branch = append(branch, hex.EncodeToString(reverse(hashes[idx^1])))

		next := make([][]byte, 0, len(hashes)/2)
		for i := 0; i < len(hashes); i += 2 {
			next = append(next, sha256d(hashes[i], hashes[i+1]))
		}
		hashes = next
		idx /= 2
	}
	return branch, nil
}

func sha256d(left, right []byte) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left...)
	buf = append(buf, right...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second[:]
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
