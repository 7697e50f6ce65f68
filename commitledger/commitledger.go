package commitledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/commitledger/migrations"
	"github.com/dmrl789/ippan-bridge/db"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/dmrl789/ippan-bridge/log"
	"github.com/dmrl789/ippan-bridge/proofverifier"
	"github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/keccak256"
	"github.com/russross/meddler"
)

// Commit is an accepted state commitment of an L2 network at an epoch.
// Commits are append only, they are never mutated after acceptance.
type Commit struct {
	ID         common.Hash `meddler:"id,hash"`
	NetworkID  string      `meddler:"network_id"`
	Epoch      uint64      `meddler:"epoch"`
	StateRoot  common.Hash `meddler:"state_root,hash"`
	DAHash     common.Hash `meddler:"da_hash,hash"`
	Proof      []byte      `meddler:"proof"`
	InlineData []byte      `meddler:"inline_data"`
	AcceptedAt time.Time   `meddler:"accepted_at,timeus"`
}

// Hash returns the deterministic content identifier of the commit
func (c *Commit) Hash() common.Hash {
	return common.BytesToHash(keccak256.Hash(
		[]byte(c.NetworkID),
		bridgeCommon.Uint64ToBytes(c.Epoch),
		c.StateRoot.Bytes(),
		c.DAHash.Bytes(),
	))
}

// Registry is the subset of the network registry the ledger depends on
type Registry interface {
	GetNetwork(ctx context.Context, id string) (l2registry.Network, error)
	SetStatus(ctx context.Context, id string, status l2registry.Status) error
}

// CommitLedger accepts and orders state commitments per network per epoch
type CommitLedger struct {
	logger      *log.Logger
	db          *sql.DB
	registry    Registry
	cfg         Config
	verifierCfg proofverifier.Config

	// serializes SubmitCommit per network id to preserve the strictly
	// increasing epoch invariant under concurrent submitters
	networkLocks bridgeCommon.KeyedMutex
}

// New returns a ledger backed by the SQLite DB at cfg.DBPath
func New(logger *log.Logger, cfg Config, verifierCfg proofverifier.Config, registry Registry) (*CommitLedger, error) {
	if err := migrations.RunMigrations(cfg.DBPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &CommitLedger{
		logger:      logger,
		db:          database,
		registry:    registry,
		cfg:         cfg,
		verifierCfg: verifierCfg,
	}, nil
}

// SubmitCommit validates and persists a state commitment. On success the
// commit becomes the canonical state root of the network at its epoch and the
// returned Commit carries the assigned id and acceptance timestamp.
func (l *CommitLedger) SubmitCommit(ctx context.Context, c Commit) (Commit, error) {
	if c.NetworkID == "" {
		return Commit{}, bridgeCommon.NewValidationError("network id is empty")
	}
	if c.StateRoot == (common.Hash{}) {
		return Commit{}, bridgeCommon.NewValidationError("state root is empty")
	}
	if l.cfg.MaxCommitSize > 0 && len(c.InlineData) > l.cfg.MaxCommitSize {
		return Commit{}, bridgeCommon.NewValidationError(
			"inline data is %d bytes, the maximum commit size is %d", len(c.InlineData), l.cfg.MaxCommitSize)
	}

	unlock := l.networkLocks.Lock(c.NetworkID)
	defer unlock()

	network, err := l.registry.GetNetwork(ctx, c.NetworkID)
	if err != nil {
		return Commit{}, err
	}
	if network.Status != l2registry.StatusActive {
		return Commit{}, bridgeCommon.NewValidationError("network %s is %s, not accepting commits",
			network.ID, network.Status)
	}

	head, err := l.GetLastCommit(ctx, c.NetworkID)
	if err != nil && !bridgeCommon.IsKind(err, bridgeCommon.KindNotFound) {
		return Commit{}, err
	}
	if err == nil {
		if c.Epoch <= head.Epoch {
			return Commit{}, bridgeCommon.NewOrderingError(
				"stale epoch %d, the last accepted epoch of %s is %d", c.Epoch, c.NetworkID, head.Epoch)
		}
		if l.cfg.MinEpochGap.Duration > 0 && time.Since(head.AcceptedAt) < l.cfg.MinEpochGap.Duration {
			return Commit{}, bridgeCommon.NewOrderingError(
				"commit arrived %s after the previous one, the minimum epoch gap is %s",
				time.Since(head.AcceptedAt).Round(time.Millisecond), l.cfg.MinEpochGap.Duration)
		}
	}

	if err := checkDataAvailability(network, c); err != nil {
		return Commit{}, err
	}

	verifier, err := proofverifier.ForNetwork(network)
	if err != nil {
		if errors.Is(err, proofverifier.ErrUnknownProofType) {
			// configuration error: the network is unusable for further
			// commits until corrected
			if stErr := l.registry.SetStatus(ctx, network.ID, l2registry.StatusInactive); stErr != nil {
				l.logger.Errorf("failed to deactivate misconfigured network %s: %v", network.ID, stErr)
			}
			return Commit{}, bridgeCommon.NewValidationError(
				"network %s has an unknown proof type %q and has been deactivated", network.ID, network.ProofType)
		}
		return Commit{}, err
	}

	in := proofverifier.CommitInput{
		NetworkID: c.NetworkID,
		Epoch:     c.Epoch,
		StateRoot: c.StateRoot,
		Proof:     c.Proof,
	}
	if err := proofverifier.VerifyWithTimeout(ctx, verifier, network, in, l.verifierCfg.VerifyTimeout.Duration); err != nil {
		if bridgeCommon.IsKind(err, bridgeCommon.KindTimeout) {
			l.logger.Warnf("verifier timed out on commit for %s epoch %d: %v", c.NetworkID, c.Epoch, err)
		}
		return Commit{}, err
	}

	c.ID = c.Hash()
	c.AcceptedAt = time.Now().UTC()
	if err := l.insertCommit(ctx, &c); err != nil {
		return Commit{}, err
	}
	l.logger.Infof("accepted commit %s for network %s at epoch %d", c.ID, c.NetworkID, c.Epoch)
	return c, nil
}

func checkDataAvailability(network l2registry.Network, c Commit) error {
	switch network.DAMode {
	case l2registry.DAModeInline:
		if len(c.InlineData) == 0 {
			return bridgeCommon.NewValidationError("network %s uses inline DA, inline data is required", network.ID)
		}
		if common.BytesToHash(keccak256.Hash(c.InlineData)) != c.DAHash {
			return bridgeCommon.NewValidationError("inline data does not hash to the committed DA hash")
		}
	case l2registry.DAModeExternal:
		// availability itself is attested out of band
		if c.DAHash == (common.Hash{}) {
			return bridgeCommon.NewValidationError("network %s uses external DA, the DA hash is required", network.ID)
		}
	}
	return nil
}

func (l *CommitLedger) insertCommit(ctx context.Context, c *Commit) error {
	tx, err := db.NewTx(ctx, l.db)
	if err != nil {
		return err
	}
	if err := meddler.Insert(tx, "l2_commit", c); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			l.logger.Errorf("error while rolling back tx: %v", rbErr)
		}
		if sqliteErr, ok := db.SQLiteErr(err); ok && sqliteErr.ExtendedCode == db.UniqueConstrain {
			return bridgeCommon.NewConflictError(
				"a commit for network %s at epoch %d raced this one", c.NetworkID, c.Epoch)
		}
		return err
	}
	return tx.Commit()
}

// GetCommit returns the accepted commit of a network at the given epoch
func (l *CommitLedger) GetCommit(ctx context.Context, networkID string, epoch uint64) (Commit, error) {
	var c Commit
	err := db.ReturnErrNotFound(meddler.QueryRow(l.db, &c,
		`SELECT * FROM l2_commit WHERE network_id = $1 AND epoch = $2;`, networkID, epoch))
	if errors.Is(err, db.ErrNotFound) {
		return Commit{}, bridgeCommon.NewNotFoundError("network %s has no accepted commit at epoch %d", networkID, epoch)
	}
	if err != nil {
		return Commit{}, err
	}
	return c, nil
}

// GetCommits returns all accepted commits of a network in epoch order
func (l *CommitLedger) GetCommits(ctx context.Context, networkID string) ([]Commit, error) {
	commits := []*Commit{}
	if err := meddler.QueryAll(l.db, &commits,
		`SELECT * FROM l2_commit WHERE network_id = $1 ORDER BY epoch ASC;`, networkID); err != nil {
		return nil, err
	}
	return db.SlicePtrsToSlice(commits).([]Commit), nil
}

// GetLastCommit returns the commit with the highest accepted epoch of a network
func (l *CommitLedger) GetLastCommit(ctx context.Context, networkID string) (Commit, error) {
	var c Commit
	err := db.ReturnErrNotFound(meddler.QueryRow(l.db, &c,
		`SELECT * FROM l2_commit WHERE network_id = $1 ORDER BY epoch DESC LIMIT 1;`, networkID))
	if errors.Is(err, db.ErrNotFound) {
		return Commit{}, bridgeCommon.NewNotFoundError("network %s has no accepted commits", networkID)
	}
	if err != nil {
		return Commit{}, err
	}
	return c, nil
}

// HasCommits implements l2registry.CommitCounter
func (l *CommitLedger) HasCommits(ctx context.Context, networkID string) (bool, error) {
	var count int
	if err := l.db.QueryRow(
		`SELECT COUNT(*) FROM l2_commit WHERE network_id = $1;`, networkID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
