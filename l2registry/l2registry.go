package l2registry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/db"
	"github.com/dmrl789/ippan-bridge/l2registry/migrations"
	"github.com/dmrl789/ippan-bridge/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// ProofType identifies the proof system a network commits under
type ProofType string

const (
	// ProofTypeGroth16 zk proof checked synchronously at commit time
	ProofTypeGroth16 = ProofType("zk-groth16")
	// ProofTypeOptimistic accept on submission, fraud proofs during the challenge window
	ProofTypeOptimistic = ProofType("optimistic")
	// ProofTypeExternal commit carries an attestor signature instead of a proof
	ProofTypeExternal = ProofType("external")
)

// DAMode identifies how the data behind a commit is made available
type DAMode string

const (
	// DAModeInline data blob attached to the commit
	DAModeInline = DAMode("inline")
	// DAModeExternal data referenced by hash, attested out of band
	DAModeExternal = DAMode("external")
)

// Status is the lifecycle status of a registered network
type Status string

const (
	StatusActive     = Status("active")
	StatusInactive   = Status("inactive")
	StatusChallenged = Status("challenged")
)

// Network is the registered configuration of an L2 rollup
type Network struct {
	ID              string         `meddler:"id"`
	ProofType       ProofType      `meddler:"proof_type"`
	DAMode          DAMode         `meddler:"da_mode"`
	ChallengeWindow time.Duration  `meddler:"challenge_window_ns"`
	Status          Status         `meddler:"status"`
	AttestorAddr    common.Address `meddler:"attestor_addr,address"`
	VerifyingKey    []byte         `meddler:"verifying_key"`
	CreatedAt       time.Time      `meddler:"created_at,timeus"`
}

// CommitCounter is implemented by the commit ledger. The registry consults it
// to freeze proof type and DA mode once a network has accepted commits.
type CommitCounter interface {
	HasCommits(ctx context.Context, networkID string) (bool, error)
}

// L2Registry holds per network configuration
type L2Registry struct {
	logger  *log.Logger
	db      *sql.DB
	cfg     Config
	commits CommitCounter
}

// New returns a registry backed by the SQLite DB at cfg.DBPath, running
// migrations if needed
func New(logger *log.Logger, cfg Config) (*L2Registry, error) {
	if err := migrations.RunMigrations(cfg.DBPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &L2Registry{
		logger: logger,
		db:     database,
		cfg:    cfg,
	}, nil
}

// SetCommitCounter wires the commit ledger dependency. Must be called before
// UpdateNetwork is used.
func (r *L2Registry) SetCommitCounter(c CommitCounter) {
	r.commits = c
}

func (pt ProofType) valid() bool {
	switch pt {
	case ProofTypeGroth16, ProofTypeOptimistic, ProofTypeExternal:
		return true
	}
	return false
}

func (dm DAMode) valid() bool {
	return dm == DAModeInline || dm == DAModeExternal
}

func (r *L2Registry) validate(n Network) error {
	if n.ID == "" {
		return bridgeCommon.NewValidationError("network id is empty")
	}
	if !n.ProofType.valid() {
		return bridgeCommon.NewValidationError("unknown proof type %q", n.ProofType)
	}
	if !n.DAMode.valid() {
		return bridgeCommon.NewValidationError("unknown DA mode %q", n.DAMode)
	}
	switch n.ProofType {
	case ProofTypeGroth16:
		if len(n.VerifyingKey) == 0 {
			return bridgeCommon.NewValidationError("zk networks need a verifying key")
		}
	case ProofTypeOptimistic:
		if n.ChallengeWindow <= 0 {
			return bridgeCommon.NewValidationError("optimistic networks need a positive challenge window")
		}
		if n.AttestorAddr == (common.Address{}) {
			return bridgeCommon.NewValidationError("optimistic networks need a fraud watcher address")
		}
	case ProofTypeExternal:
		if n.AttestorAddr == (common.Address{}) {
			return bridgeCommon.NewValidationError("external networks need an attestor address")
		}
	}
	return nil
}

// AddNetwork registers a new network. The initial status is always active.
func (r *L2Registry) AddNetwork(ctx context.Context, n Network) error {
	if err := r.validate(n); err != nil {
		return err
	}
	n.Status = StatusActive
	n.CreatedAt = time.Now().UTC()

	tx, err := db.NewTx(ctx, r.db)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			if errRllbck := tx.Rollback(); errRllbck != nil && !errors.Is(errRllbck, sql.ErrTxDone) {
				r.logger.Errorf("error while rolling back tx: %v", errRllbck)
			}
		}
	}()

	if r.cfg.MaxNetworks > 0 {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM network;`).Scan(&count); err != nil {
			return err
		}
		if count >= r.cfg.MaxNetworks {
			return bridgeCommon.NewValidationError("maximum number of networks (%d) reached", r.cfg.MaxNetworks)
		}
	}

	if err := meddler.Insert(tx, "network", &n); err != nil {
		if sqliteErr, ok := db.SQLiteErr(err); ok && sqliteErr.ExtendedCode == db.UniqueConstrain {
			return bridgeCommon.NewConflictError("network %s already registered", n.ID)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	r.logger.Infof("registered network %s (proof type %s, DA mode %s)", n.ID, n.ProofType, n.DAMode)
	return nil
}

// GetNetwork returns the network with the given id
func (r *L2Registry) GetNetwork(ctx context.Context, id string) (Network, error) {
	var n Network
	err := db.ReturnErrNotFound(meddler.QueryRow(r.db, &n, `SELECT * FROM network WHERE id = $1;`, id))
	if errors.Is(err, db.ErrNotFound) {
		return Network{}, bridgeCommon.NewNotFoundError("network %s is not registered", id)
	}
	if err != nil {
		return Network{}, err
	}
	return n, nil
}

// GetNetworks returns all registered networks
func (r *L2Registry) GetNetworks(ctx context.Context) ([]Network, error) {
	networks := []*Network{}
	if err := meddler.QueryAll(r.db, &networks, `SELECT * FROM network ORDER BY created_at ASC;`); err != nil {
		return nil, err
	}
	return db.SlicePtrsToSlice(networks).([]Network), nil
}

// UpdateNetwork updates the mutable fields of a network. Proof type and DA
// mode become immutable once the network has accepted at least one commit:
// changing them would invalidate the proofs of historical commits.
func (r *L2Registry) UpdateNetwork(ctx context.Context, n Network) error {
	if err := r.validate(n); err != nil {
		return err
	}
	current, err := r.GetNetwork(ctx, n.ID)
	if err != nil {
		return err
	}
	if n.ProofType != current.ProofType || n.DAMode != current.DAMode {
		if r.commits == nil {
			return errors.New("commit counter not wired, cannot verify proof type immutability")
		}
		hasCommits, err := r.commits.HasCommits(ctx, n.ID)
		if err != nil {
			return err
		}
		if hasCommits {
			return bridgeCommon.NewValidationError(
				"proof type and DA mode of %s are immutable, the network already has commits", n.ID)
		}
	}
	_, err = r.db.Exec(
		`UPDATE network SET proof_type = $1, da_mode = $2, challenge_window_ns = $3,
			attestor_addr = $4, verifying_key = $5 WHERE id = $6;`,
		string(n.ProofType), string(n.DAMode), int64(n.ChallengeWindow),
		n.AttestorAddr.Hex(), n.VerifyingKey, n.ID,
	)
	return err
}

// SetStatus updates the status of a network
func (r *L2Registry) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := r.db.Exec(`UPDATE network SET status = $1 WHERE id = $2;`, string(status), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return bridgeCommon.NewNotFoundError("network %s is not registered", id)
	}
	r.logger.Infof("network %s status set to %s", id, status)
	return nil
}

// ClearChallenge moves a challenged network back to active. This is the entry
// point for the governance/ops collaborator, a successful Challenge is the
// only thing that sets the challenged status.
func (r *L2Registry) ClearChallenge(ctx context.Context, id string) error {
	n, err := r.GetNetwork(ctx, id)
	if err != nil {
		return err
	}
	if n.Status != StatusChallenged {
		return bridgeCommon.NewValidationError("network %s is not challenged", id)
	}
	return r.SetStatus(ctx, id, StatusActive)
}
