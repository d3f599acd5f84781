package config

const (
	defaultDataDir          = "~/.local/share/miner-ipfs-service"
	defaultIPFSAPIURL       = "http://127.0.0.1:5001"
	defaultChainRPCURL      = "ws://127.0.0.1:9944"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultPollingInterval  = 60
	defaultMaxPinRetries    = 5
	defaultGCTriggerLoops   = 10
	defaultDialRetrySeconds = 5
	defaultChainCallTimeout = 30
	defaultHandshakeMS      = 10000

	defaultPinTimeout       = 60
	defaultUnpinTimeout     = 60
	defaultListTimeout      = 30
	defaultFetchTimeout     = 30
	defaultGCTimeout        = 300
	defaultMaxFetchBytes    = 2 << 20
	defaultConnectTimeout   = 10
	defaultSwarmConnTimeout = 10

	defaultPeersBlockInterval = 20
	defaultPeersBatchSize     = 10
	defaultPeersBatchInterval = 2
	defaultPeersPollSeconds   = 6

	defaultMetricsBind = "127.0.0.1:9615"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		IPFS: IPFS{
			APIURL:           defaultIPFSAPIURL,
			PinTimeout:       defaultPinTimeout,
			UnpinTimeout:     defaultUnpinTimeout,
			ListTimeout:      defaultListTimeout,
			FetchTimeout:     defaultFetchTimeout,
			GCTimeout:        defaultGCTimeout,
			MaxFetchBytes:    defaultMaxFetchBytes,
			ConnectTimeout:   defaultConnectTimeout,
			SwarmConnTimeout: defaultSwarmConnTimeout,
		},
		Chain: Chain{
			RPCURL:             defaultChainRPCURL,
			DialRetrySeconds:   defaultDialRetrySeconds,
			CallTimeout:        defaultChainCallTimeout,
			HandshakeTimeoutMS: defaultHandshakeMS,
			IdentityMethod:     "system_localPeerId",
			HeaderMethod:       "chain_getHeader",
			BlockHashMethod:    "chain_getBlockHash",
			ProfileMethod:      "ipfs_minerProfile",
			RegisteredMethod:   "registration_registeredNodes",
		},
		Service: Service{
			PollingIntervalSeconds: defaultPollingInterval,
			MaxPinRetries:          defaultMaxPinRetries,
			GCTriggerIntervalLoops: defaultGCTriggerLoops,
		},
		Peers: Peers{
			Enabled:       true,
			BlockInterval: defaultPeersBlockInterval,
			BatchSize:     defaultPeersBatchSize,
			BatchInterval: defaultPeersBatchInterval,
			PollSeconds:   defaultPeersPollSeconds,
		},
		Metrics: Metrics{
			Enabled: false,
			Bind:    defaultMetricsBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
