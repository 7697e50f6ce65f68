package exitprocessor

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"time"

	bridgeCommon "github.com/dmrl789/ippan-bridge/common"
	"github.com/dmrl789/ippan-bridge/commitledger"
	"github.com/dmrl789/ippan-bridge/db"
	"github.com/dmrl789/ippan-bridge/exitprocessor/migrations"
	"github.com/dmrl789/ippan-bridge/l2registry"
	"github.com/dmrl789/ippan-bridge/log"
	"github.com/dmrl789/ippan-bridge/proofverifier"
	"github.com/dmrl789/ippan-bridge/tree"
	treeTypes "github.com/dmrl789/ippan-bridge/tree/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/iden3/go-iden3-crypto/keccak256"
	"github.com/russross/meddler"
)

// ExitStatus is the lifecycle state of an exit request
type ExitStatus string

const (
	// StatusPending initial transient state of a submitted exit
	StatusPending = ExitStatus("pending")
	// StatusChallengeWindow the exit waits out its fraud challenge window
	StatusChallengeWindow = ExitStatus("challenge_window")
	// StatusFinalized terminal, the settlement layer may credit the account
	StatusFinalized = ExitStatus("finalized")
	// StatusRejected terminal, the exit was refused and the reason recorded
	StatusRejected = ExitStatus("rejected")
)

const rejectionFraudProofAccepted = "fraud proof accepted"

// ExitRequest is a withdrawal request against a committed state root
type ExitRequest struct {
	NetworkID string
	Epoch     uint64
	Account   common.Address
	Amount    *big.Int
	Nonce     uint64
	LeafIndex uint32
	Proof     treeTypes.Proof
}

// ExitRecord is the persisted state of an exit. Records are never deleted,
// they are kept as an audit trail; only the state machine mutates them.
type ExitRecord struct {
	ID                common.Hash     `meddler:"id,hash"`
	NetworkID         string          `meddler:"network_id"`
	Epoch             uint64          `meddler:"epoch"`
	Account           common.Address  `meddler:"account,address"`
	Amount            *big.Int        `meddler:"amount,bigint"`
	Nonce             uint64          `meddler:"nonce"`
	LeafIndex         uint32          `meddler:"leaf_index"`
	Proof             treeTypes.Proof `meddler:"proof,merkleproof"`
	Status            ExitStatus      `meddler:"status"`
	SubmittedAt       time.Time       `meddler:"submitted_at,timeus"`
	ChallengeDeadline time.Time       `meddler:"challenge_deadline,timeus"`
	FinalizedAt       time.Time       `meddler:"finalized_at,timeus"`
	RejectionReason   string          `meddler:"rejection_reason"`
}

// ExitLeafHash is the state tree leaf an inclusion proof must open:
// keccak256(account || amount || nonce)
func ExitLeafHash(account common.Address, amount *big.Int, nonce uint64) common.Hash {
	if amount == nil {
		amount = big.NewInt(0)
	}
	var amountBuf [32]byte
	return common.BytesToHash(keccak256.Hash(
		account.Bytes(),
		amount.FillBytes(amountBuf[:]),
		bridgeCommon.Uint64ToBytes(nonce),
	))
}

// ExitID is the deterministic identifier of an exit request
func ExitID(networkID string, epoch uint64, account common.Address, amount *big.Int, nonce uint64) common.Hash {
	if amount == nil {
		amount = big.NewInt(0)
	}
	var amountBuf [32]byte
	return common.BytesToHash(keccak256.Hash(
		[]byte(networkID),
		bridgeCommon.Uint64ToBytes(epoch),
		account.Bytes(),
		amount.FillBytes(amountBuf[:]),
		bridgeCommon.Uint64ToBytes(nonce),
	))
}

// Registry is the subset of the network registry the processor depends on
type Registry interface {
	GetNetwork(ctx context.Context, id string) (l2registry.Network, error)
	SetStatus(ctx context.Context, id string, status l2registry.Status) error
}

// Ledger is the subset of the commit ledger the processor depends on
type Ledger interface {
	GetCommit(ctx context.Context, networkID string, epoch uint64) (commitledger.Commit, error)
}

// SettlementNotifier is notified exactly once per finalized exit so the
// settlement ledger (an external collaborator) can credit the account.
type SettlementNotifier interface {
	ExitFinalized(ctx context.Context, exit ExitRecord)
}

// LogNotifier is a SettlementNotifier that only logs. Used when no settlement
// collaborator is wired.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) ExitFinalized(ctx context.Context, exit ExitRecord) {
	n.Logger.Infof("exit %s finalized: credit %s to account %s on network %s",
		exit.ID, exit.Amount, exit.Account, exit.NetworkID)
}

// ExitProcessor drives the exit lifecycle through challenge windows to
// finality
type ExitProcessor struct {
	logger   *log.Logger
	db       *sql.DB
	registry Registry
	ledger   Ledger
	notifier SettlementNotifier
	cfg      Config

	// serializes the nonce compare-and-increment per (network, account)
	accountLocks bridgeCommon.KeyedMutex
	optimistic   *proofverifier.OptimisticVerifier
}

// New returns a processor backed by the SQLite DB at cfg.DBPath
func New(
	logger *log.Logger,
	cfg Config,
	registry Registry,
	ledger Ledger,
	notifier SettlementNotifier,
) (*ExitProcessor, error) {
	if err := migrations.RunMigrations(cfg.DBPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	return &ExitProcessor{
		logger:     logger,
		db:         database,
		registry:   registry,
		ledger:     ledger,
		notifier:   notifier,
		cfg:        cfg,
		optimistic: &proofverifier.OptimisticVerifier{},
	}, nil
}

// SubmitExit validates an exit request against the committed state root it
// references and opens its lifecycle. For optimistic networks the exit enters
// the challenge window, for zk and external networks it finalizes
// immediately: their roots were proof verified at commit time and the
// inclusion proof is checked synchronously here.
func (p *ExitProcessor) SubmitExit(ctx context.Context, req ExitRequest) (ExitRecord, error) {
	if req.NetworkID == "" {
		return ExitRecord{}, bridgeCommon.NewValidationError("network id is empty")
	}
	if req.Account == (common.Address{}) {
		return ExitRecord{}, bridgeCommon.NewValidationError("account is empty")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return ExitRecord{}, bridgeCommon.NewValidationError("amount must be positive")
	}

	network, err := p.registry.GetNetwork(ctx, req.NetworkID)
	if err != nil {
		return ExitRecord{}, err
	}
	commit, err := p.ledger.GetCommit(ctx, req.NetworkID, req.Epoch)
	if err != nil {
		return ExitRecord{}, err
	}

	leaf := ExitLeafHash(req.Account, req.Amount, req.Nonce)
	if !tree.VerifyProof(commit.StateRoot, leaf, req.Proof, req.LeafIndex) {
		return ExitRecord{}, bridgeCommon.NewProofError("inclusion proof invalid")
	}

	unlock := p.accountLocks.Lock(req.NetworkID + "|" + req.Account.Hex())
	defer unlock()

	record := ExitRecord{
		ID:          ExitID(req.NetworkID, req.Epoch, req.Account, req.Amount, req.Nonce),
		NetworkID:   req.NetworkID,
		Epoch:       req.Epoch,
		Account:     req.Account,
		Amount:      req.Amount,
		Nonce:       req.Nonce,
		LeafIndex:   req.LeafIndex,
		Proof:       req.Proof,
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	if network.ProofType == l2registry.ProofTypeOptimistic {
		record.Status = StatusChallengeWindow
		record.ChallengeDeadline = record.SubmittedAt.Add(network.ChallengeWindow)
	} else {
		record.Status = StatusFinalized
		record.FinalizedAt = record.SubmittedAt
	}

	if err := p.acceptExit(ctx, &record); err != nil {
		return ExitRecord{}, err
	}
	p.logger.Infof("accepted exit %s for account %s on network %s with status %s",
		record.ID, record.Account, record.NetworkID, record.Status)
	return record, nil
}

// acceptExit persists the record and consumes the account nonce in a single
// transaction. The nonce update is guarded so that two submissions racing on
// the same nonce cannot both succeed, even across processes. The settlement
// notification of an immediately finalized exit is a commit callback: it
// fires once the record is durable and never on a rolled back write.
func (p *ExitProcessor) acceptExit(ctx context.Context, record *ExitRecord) error {
	tx, err := db.NewTx(ctx, p.db)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				p.logger.Errorf("error while rolling back tx: %v", rbErr)
			}
		}
	}()
	if record.Status == StatusFinalized {
		tx.AddCommitCallback(func() { p.notifier.ExitFinalized(ctx, *record) })
	}
	tx.AddRollbackCallback(func() {
		p.logger.Debugf("exit %s not accepted, nonce %d of %s stays free",
			record.ID, record.Nonce, record.Account)
	})

	lastNonce, err := lastNonce(tx, record.NetworkID, record.Account)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	if record.Nonce <= lastNonce {
		return bridgeCommon.NewOrderingError("stale nonce %d, the last used nonce of %s on %s is %d",
			record.Nonce, record.Account, record.NetworkID, lastNonce)
	}
	if record.Nonce != lastNonce+1 {
		return bridgeCommon.NewOrderingError("nonce gap: got %d, expected %d", record.Nonce, lastNonce+1)
	}

	res, err := tx.Exec(
		`INSERT INTO account_nonce (network_id, account, last_nonce) VALUES ($1, $2, $3)
			ON CONFLICT (network_id, account) DO UPDATE SET last_nonce = excluded.last_nonce
			WHERE account_nonce.last_nonce = excluded.last_nonce - 1;`,
		record.NetworkID, record.Account.Hex(), record.Nonce,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return bridgeCommon.NewConflictError("a concurrent exit consumed nonce %d first", record.Nonce)
	}

	if err := meddler.Insert(tx, "exit", record); err != nil {
		if sqliteErr, ok := db.SQLiteErr(err); ok && sqliteErr.ExtendedCode == db.UniqueConstrain {
			return bridgeCommon.NewConflictError("exit %s already submitted", record.ID)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

// Challenge applies a fraud proof against an exit inside its challenge
// window. On success the exit is rejected, the consumed nonce stays consumed
// (a fresh exit needs a fresh nonce) and the network is flagged as challenged
// until an operator clears it.
func (p *ExitProcessor) Challenge(ctx context.Context, exitID common.Hash, fraudProof []byte) (ExitRecord, error) {
	exit, err := p.GetExit(ctx, exitID)
	if err != nil {
		return ExitRecord{}, err
	}
	if exit.Status != StatusChallengeWindow {
		return ExitRecord{}, bridgeCommon.NewValidationError(
			"exit %s is %s, only exits in the challenge window can be challenged", exitID, exit.Status)
	}
	if !time.Now().Before(exit.ChallengeDeadline) {
		return ExitRecord{}, bridgeCommon.NewOrderingError(
			"the challenge window of exit %s closed at %s", exitID, exit.ChallengeDeadline.Format(time.RFC3339))
	}

	network, err := p.registry.GetNetwork(ctx, exit.NetworkID)
	if err != nil {
		return ExitRecord{}, err
	}
	in := proofverifier.FraudInput{
		NetworkID:  exit.NetworkID,
		Epoch:      exit.Epoch,
		ExitID:     exit.ID,
		FraudProof: fraudProof,
	}
	if err := p.optimistic.VerifyFraud(ctx, network, in); err != nil {
		return ExitRecord{}, err
	}

	// compare-and-swap on status so a concurrent finalize-sweep cannot be
	// overwritten
	res, err := p.db.Exec(
		`UPDATE exit SET status = $1, rejection_reason = $2 WHERE id = $3 AND status = $4;`,
		string(StatusRejected), rejectionFraudProofAccepted,
		exitID.Hex(), string(StatusChallengeWindow),
	)
	if err != nil {
		return ExitRecord{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ExitRecord{}, err
	}
	if affected == 0 {
		return ExitRecord{}, bridgeCommon.NewConflictError("exit %s left the challenge window concurrently", exitID)
	}

	if err := p.registry.SetStatus(ctx, exit.NetworkID, l2registry.StatusChallenged); err != nil {
		p.logger.Errorf("failed to flag network %s as challenged: %v", exit.NetworkID, err)
	}
	p.logger.Warnf("exit %s rejected by fraud proof, network %s flagged as challenged", exitID, exit.NetworkID)
	return p.GetExit(ctx, exitID)
}

// GetExit returns the exit with the given id
func (p *ExitProcessor) GetExit(ctx context.Context, exitID common.Hash) (ExitRecord, error) {
	var exit ExitRecord
	err := db.ReturnErrNotFound(meddler.QueryRow(p.db, &exit, `SELECT * FROM exit WHERE id = $1;`, exitID.Hex()))
	if errors.Is(err, db.ErrNotFound) {
		return ExitRecord{}, bridgeCommon.NewNotFoundError("exit %s is not known", exitID)
	}
	if err != nil {
		return ExitRecord{}, err
	}
	return exit, nil
}

// GetExits returns exits filtered by network and/or account, newest first.
// Zero values disable the corresponding filter.
func (p *ExitProcessor) GetExits(ctx context.Context, networkID string, account common.Address) ([]ExitRecord, error) {
	query := `SELECT * FROM exit`
	args := []interface{}{}
	clauses := []string{}
	if networkID != "" {
		args = append(args, networkID)
		clauses = append(clauses, "network_id = $1")
	}
	if account != (common.Address{}) {
		args = append(args, account.Hex())
		if len(args) == 1 {
			clauses = append(clauses, "account = $1")
		} else {
			clauses = append(clauses, "account = $2")
		}
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY submitted_at DESC;"

	exits := []*ExitRecord{}
	if err := meddler.QueryAll(p.db, &exits, query, args...); err != nil {
		return nil, err
	}
	return db.SlicePtrsToSlice(exits).([]ExitRecord), nil
}

// LastNonce returns the last consumed nonce of an account on a network, zero
// when the account never exited
func (p *ExitProcessor) LastNonce(ctx context.Context, networkID string, account common.Address) (uint64, error) {
	nonce, err := lastNonce(p.db, networkID, account)
	if errors.Is(err, db.ErrNotFound) {
		return 0, nil
	}
	return nonce, err
}

// lastNonce runs against the DB or an open transaction
func lastNonce(q db.Querier, networkID string, account common.Address) (uint64, error) {
	var nonce uint64
	err := q.QueryRow(
		`SELECT last_nonce FROM account_nonce WHERE network_id = $1 AND account = $2;`,
		networkID, account.Hex(),
	).Scan(&nonce)
	return nonce, db.ReturnErrNotFound(err)
}
