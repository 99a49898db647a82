package config

// Centralized default values for configuration

const (
	DefaultBaseDir    = ".notary"
	DefaultConfigFile = "config.yml"
	DefaultDataDir    = "data"
	DefaultLogLevel   = "info"

	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 8090

	DefaultLedgerBackend      = LedgerBackendSimnet
	DefaultLedgerDepth        = 3
	DefaultMinWeightMagnitude = 14
	DefaultLedgerTag          = "NOTARY"

	DefaultContentBackend = ContentBackendLocal
	DefaultIPFSAPIURL     = "http://127.0.0.1:5001"

	DefaultCacheMaxItems = 10000

	// EnvPrefix prefixes environment overrides, e.g. NOTARY_API_PORT.
	EnvPrefix = "NOTARY"
)

const (
	LedgerBackendSimnet = "simnet"

	ContentBackendLocal = "local"
	ContentBackendIPFS  = "ipfs"
)

// Files under the data directory.
const (
	StateDBFile  = "notary.db"
	LedgerDBFile = "ledger.db"
)
