package config

// DefaultValues is the default configuration
const DefaultValues = `
# PathRWData is the directory where the node stores its databases
PathRWData = "/tmp/ippan-bridge"

[Log]
  Environment = "development" # "production" or "development"
  Level = "info"
  Outputs = ["stderr"]

[RPC]
  # Host defines the network adapter that will be used to serve the HTTP requests
  Host = "0.0.0.0"
  # Port defines the port to serve the endpoints via HTTP
  Port = 5576
  # ReadTimeout is the HTTP server read timeout
  ReadTimeout = "2s"
  # WriteTimeout is the HTTP server write timeout
  WriteTimeout = "2s"
  # MaxRequestsPerIPAndSecond defines how many requests a single IP can
  # send within a single second
  MaxRequestsPerIPAndSecond = 500

[Registry]
  DBPath = "{{PathRWData}}/l2registry.sqlite"
  # MaxNetworks limits how many L2 networks can be registered, 0 means no limit
  MaxNetworks = 0

[CommitLedger]
  DBPath = "{{PathRWData}}/commitledger.sqlite"
  # MaxCommitSize limits the byte size of the inline DA payload, 0 means no limit
  MaxCommitSize = 1048576
  # MinEpochGap is the minimum elapsed time between two accepted commits of
  # the same network, "0s" disables rate limiting
  MinEpochGap = "0s"

[ExitProcessor]
  DBPath = "{{PathRWData}}/exitprocessor.sqlite"
  # SweepInterval is the period between finalize sweeps
  SweepInterval = "5s"

[Verifier]
  # VerifyTimeout bounds a single proof verification
  VerifyTimeout = "10s"
`
