package index

import (
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bwt-dev/gobwt/wallet"
)

// Checkpoint is the persisted sync cursor. Restoring it lets a restarted
// session skip the full-history listsinceblock walk and the initial address
// import rescan.
type Checkpoint struct {
	LastBlock string
	Tip       *BlockID
}

// ExportCheckpoint snapshots the indexer's cursor.
func (ix *Indexer) ExportCheckpoint() Checkpoint {
	return Checkpoint{LastBlock: ix.lastBlock, Tip: ix.Tip()}
}

// RestoreCheckpoint reapplies a cursor snapshot. Must be called before the
// first Sync.
func (ix *Indexer) RestoreCheckpoint(cp Checkpoint) {
	ix.lastBlock = cp.LastBlock
	if cp.Tip != nil {
		t := *cp.Tip
		ix.tip = &t
	}
}

type checkpointRow struct {
	ID        uint `gorm:"primaryKey"`
	LastBlock string
	TipHeight uint32
	TipHash   string
	UpdatedAt time.Time
}

type walletStateRow struct {
	Fingerprint       string `gorm:"primaryKey"`
	MaxUsedIndex      int64
	MaxImportedIndex  int64
	DoneInitialImport bool
	UpdatedAt         time.Time
}

func (checkpointRow) TableName() string  { return "checkpoints" }
func (walletStateRow) TableName() string { return "wallet_states" }

// CheckpointStore persists sync cursors and wallet watch windows in a local
// sqlite database.
type CheckpointStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenCheckpointStore opens (creating if needed) the database at path.
func OpenCheckpointStore(path string, log *zap.Logger) (*CheckpointStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&checkpointRow{}, &walletStateRow{}); err != nil {
		return nil, err
	}
	return &CheckpointStore{db: db, log: log.Named("checkpoint")}, nil
}

// Load reads the stored checkpoint and wallet states. A fresh database
// returns a zero checkpoint and no states.
func (c *CheckpointStore) Load() (Checkpoint, []wallet.State, error) {
	var row checkpointRow
	err := c.db.First(&row, 1).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Checkpoint{}, nil, err
	}
	cp := Checkpoint{LastBlock: row.LastBlock}
	if row.TipHash != "" {
		cp.Tip = &BlockID{Height: row.TipHeight, Hash: row.TipHash}
	}

	var stateRows []walletStateRow
	if err := c.db.Find(&stateRows).Error; err != nil {
		return Checkpoint{}, nil, err
	}
	states := make([]wallet.State, 0, len(stateRows))
	for _, r := range stateRows {
		states = append(states, wallet.State{
			Fingerprint:       r.Fingerprint,
			MaxUsedIndex:      r.MaxUsedIndex,
			MaxImportedIndex:  r.MaxImportedIndex,
			DoneInitialImport: r.DoneInitialImport,
		})
	}
	return cp, states, nil
}

// Save writes the checkpoint and wallet states, overwriting previous rows.
func (c *CheckpointStore) Save(cp Checkpoint, states []wallet.State) error {
	row := checkpointRow{ID: 1, LastBlock: cp.LastBlock}
	if cp.Tip != nil {
		row.TipHeight = cp.Tip.Height
		row.TipHash = cp.Tip.Hash
	}
	if err := c.db.Save(&row).Error; err != nil {
		return err
	}
	for _, s := range states {
		r := walletStateRow{
			Fingerprint:       s.Fingerprint,
			MaxUsedIndex:      s.MaxUsedIndex,
			MaxImportedIndex:  s.MaxImportedIndex,
			DoneInitialImport: s.DoneInitialImport,
		}
		if err := c.db.Save(&r).Error; err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (c *CheckpointStore) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
