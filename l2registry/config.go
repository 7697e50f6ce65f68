package l2registry

type Config struct {
	// DBPath path of the DB
	DBPath string `mapstructure:"DBPath"`
	// MaxNetworks is the maximum number of networks that can be registered.
	// Zero or negative means no limit
	MaxNetworks int `mapstructure:"MaxNetworks"`
}
