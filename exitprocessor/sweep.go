package exitprocessor

import (
	"context"
	"time"

	"github.com/russross/meddler"
)

// Start runs the finalize sweep until ctx is cancelled. Each pass promotes
// exits whose challenge window elapsed without an accepted fraud proof.
func (p *ExitProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			finalized, err := p.SweepOnce(ctx)
			if err != nil {
				p.logger.Errorf("finalize sweep failed: %v", err)
				continue
			}
			if finalized > 0 {
				p.logger.Infof("finalize sweep promoted %d exits", finalized)
			}
		}
	}
}

// SweepOnce finalizes every exit whose challenge deadline has passed and
// returns how many were promoted. A deadline that falls exactly on the sweep
// instant counts as elapsed.
func (p *ExitProcessor) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	due := []*ExitRecord{}
	err := meddler.QueryAll(p.db, &due,
		`SELECT * FROM exit WHERE status = $1 AND challenge_deadline <= $2;`,
		string(StatusChallengeWindow), now.UnixMicro(),
	)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, exit := range due {
		// compare-and-swap on status: a challenge landing between the read
		// and the update wins and the sweep skips the exit
		res, err := p.db.Exec(
			`UPDATE exit SET status = $1, finalized_at = $2 WHERE id = $3 AND status = $4;`,
			string(StatusFinalized), now.UnixMicro(),
			exit.ID.Hex(), string(StatusChallengeWindow),
		)
		if err != nil {
			return finalized, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return finalized, err
		}
		if affected == 0 {
			continue
		}
		exit.Status = StatusFinalized
		exit.FinalizedAt = now
		p.notifier.ExitFinalized(ctx, *exit)
		finalized++
	}
	return finalized, nil
}
