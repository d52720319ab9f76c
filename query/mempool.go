package query

import (
	"context"
	"sort"
)

// vsizeBinWidth is the histogram bin size in vbytes.
const vsizeBinWidth = 50_000

// FeeHistogram builds the electrum mempool.get_fee_histogram reply: pairs of
// [feerate sat/vB, vsize] where each entry covers about 50k vbytes of
// mempool transactions, ordered from the highest feerate down.
func (q *Query) FeeHistogram(ctx context.Context) ([][2]float64, error) {
	entries, err := q.rpc.GetRawMempoolVerbose(ctx)
	if err != nil {
		return nil, err
	}

	type weighted struct {
		feerate float64
		vsize   uint64
	}
	txs := make([]weighted, 0, len(entries))
	for _, e := range entries {
		if e.VSize == 0 {
			continue
		}
		txs = append(txs, weighted{
			feerate: e.Fees.Base * 1e8 / float64(e.VSize),
			vsize:   e.VSize,
		})
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].feerate > txs[j].feerate })

	histogram := make([][2]float64, 0)
	var binSize uint64
	var lastRate float64
	for _, tx := range txs {
		binSize += tx.vsize
		lastRate = tx.feerate
		if binSize > vsizeBinWidth {
			histogram = append(histogram, [2]float64{lastRate, float64(binSize)})
			binSize = 0
		}
	}
	if binSize > 0 {
		histogram = append(histogram, [2]float64{lastRate, float64(binSize)})
	}
	return histogram, nil
}
