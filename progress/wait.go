package progress

import (
	"context"
	"time"

	"github.com/bwt-dev/gobwt/chain"
)

// WaitBlockSync polls bitcoind until it is warmed up and, when
// waitBlockSync is set, until the initial block download completes.
// Progress is delivered to rep (which may be nil).
func WaitBlockSync(ctx context.Context, rpc *chain.Client, rep Reporter, interval time.Duration, waitBlockSync bool) (*chain.BlockchainInfo, error) {
	for {
		info, err := rpc.GetBlockchainInfo(ctx)
		switch {
		case err == nil:
			if info.Synced() || !waitBlockSync {
				report(rep, Event{Kind: KindSync, Progress: 1.0, Tip: info.MedianTime})
				return info, nil
			}
			report(rep, Event{
				Kind:     KindSync,
				Progress: float32(info.VerificationProgress),
				Tip:      info.MedianTime,
			})
		case chain.IsWarmingUp(err):
			// keep polling, the node is up but not serving yet
		default:
			return nil, err
		}

		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// WaitWalletScan polls getwalletinfo until the wallet rescan triggered by
// the initial import finishes.
func WaitWalletScan(ctx context.Context, rpc *chain.Client, rep Reporter, interval time.Duration) (*chain.WalletInfo, error) {
	for {
		info, err := rpc.GetWalletInfo(ctx)
		if err != nil {
			return nil, err
		}
		scanning := info.Scanning
		if scanning == nil || !scanning.Active {
			report(rep, Event{Kind: KindScan, Progress: 1.0})
			return info, nil
		}

		var eta uint64
		if scanning.Progress > 0.1 {
			total := float64(scanning.Duration) / scanning.Progress
			eta = uint64(total) - scanning.Duration
		}
		report(rep, Event{
			Kind:     KindScan,
			Progress: float32(scanning.Progress),
			ETA:      eta,
		})

		if err := sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

func report(rep Reporter, e Event) {
	if rep != nil {
		rep.Report(e)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
