package commitledger

import "github.com/dmrl789/ippan-bridge/config/types"

type Config struct {
	// DBPath path of the DB
	DBPath string `mapstructure:"DBPath"`
	// MaxCommitSize is the maximum size in bytes of the inline data of a
	// commit. Zero means no limit
	MaxCommitSize int `mapstructure:"MaxCommitSize"`
	// MinEpochGap is the minimum time between two accepted commits of the
	// same network. Zero disables the check
	MinEpochGap types.Duration `mapstructure:"MinEpochGap"`
}
