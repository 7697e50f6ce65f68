package exitprocessor

import (
	"github.com/dmrl789/ippan-bridge/config/types"
)

// Config of the exit processor
type Config struct {
	// DBPath path of the DB
	DBPath string `mapstructure:"DBPath"`
	// SweepInterval is the period between finalize sweeps over exits whose
	// challenge window has elapsed
	SweepInterval types.Duration `mapstructure:"SweepInterval"`
}
