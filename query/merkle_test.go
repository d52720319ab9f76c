package query

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var blockTxids = []string{
	strings.Repeat("11", 32),
	strings.Repeat("22", 32),
	strings.Repeat("33", 32),
	strings.Repeat("44", 32),
	strings.Repeat("55", 32),
}

// merkleRoot folds the whole tree, duplicating the odd leaf at each level,
// as an independent check against the branch computation.
func merkleRoot(t *testing.T, txids []string) []byte {
	level := make([][]byte, len(txids))
	for i, id := range txids {
		raw, err := hex.DecodeString(id)
		require.NoError(t, err)
		level[i] = reverse(raw)
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, sha256d(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// walkBranch hashes a leaf up through its branch to the implied root.
func walkBranch(t *testing.T, txid string, pos int, branch []string) []byte {
	raw, err := hex.DecodeString(txid)
	require.NoError(t, err)
	node := reverse(raw)
	idx := pos
	for _, sibling := range branch {
		sib, err := hex.DecodeString(sibling)
		require.NoError(t, err)
		sib = reverse(sib)
		if idx%2 == 0 {
			node = sha256d(node, sib)
		} else {
			node = sha256d(sib, node)
		}
		idx /= 2
	}
	return node
}

func TestMerkleBranchReachesRoot(t *testing.T) {
	root := merkleRoot(t, blockTxids)
	for pos, txid := range blockTxids {
		branch, err := merkleBranch(blockTxids, pos)
		require.NoError(t, err)
		require.Len(t, branch, 3)
		assert.Equal(t, root, walkBranch(t, txid, pos, branch), "pos %d", pos)
	}
}

func TestMerkleBranchSingleTx(t *testing.T) {
	branch, err := merkleBranch(blockTxids[:1], 0)
	require.NoError(t, err)
	assert.Empty(t, branch)
}

func TestMerkleBranchRejectsBadTxid(t *testing.T) {
	_, err := merkleBranch([]string{"zz"}, 0)
	require.Error(t, err)
}

func TestGetMerkleProof(t *testing.T) {
	node := newFakeBitcoind(t)
	node.handle("getblockhash", func([]json.RawMessage) any { return "blockhash" })
	node.handle("getblock", func(params []json.RawMessage) any {
		var hash string
		require.NoError(t, json.Unmarshal(params[0], &hash))
		assert.Equal(t, "blockhash", hash)
		return map[string]any{"hash": "blockhash", "height": 100, "tx": blockTxids}
	})
	q, _ := testQuery(t, node)

	proof, err := q.GetMerkleProof(context.Background(), blockTxids[2], 100)
	require.NoError(t, err)
	assert.Equal(t, 2, proof.Pos)
	assert.Equal(t, uint32(100), proof.BlockHeight)
	assert.Len(t, proof.Merkle, 3)

	_, err = q.GetMerkleProof(context.Background(), strings.Repeat("ff", 32), 100)
	require.Error(t, err)
}
