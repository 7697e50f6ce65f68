package common

const (
	// RPC name to identify the rpc component (the bridge API boundary)
	RPC = "rpc"
	// REGISTRY name to identify the L2 network registry component
	REGISTRY = "registry"
	// COMMIT_LEDGER name to identify the commit ledger component
	COMMIT_LEDGER = "commit-ledger" //nolint:stylecheck
	// EXIT_PROCESSOR name to identify the exit processor component
	EXIT_PROCESSOR = "exit-processor" //nolint:stylecheck
	// SWEEPER name to identify the exit finalize-sweep component
	SWEEPER = "sweeper"
)
