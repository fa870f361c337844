package main

import (
	"time"
)

type config struct {
	Log       logConfig
	Database  databaseConfig
	API       apiConfig
	Lotus     lotusConfig
	Directory directoryConfig
	Finder    finderConfig
	Scheduler schedulerConfig
	Bms       bmsConfig
}

type logConfig struct {
	Pretty bool
	Level  string
}

type databaseConfig struct {
	ConnectionString string
}

type apiConfig struct {
	ListenAddr           string
	AuthenticationTokens []string
}

type lotusConfig struct {
	URL   string
	Token string
}

type directoryConfig struct {
	URL     string
	Timeout time.Duration
}

type finderConfig struct {
	SampleCap        int
	MaxConcurrency   int64
	MinContentLength int64
	ProbeTimeout     time.Duration
	QueueSize        int
	PeerIDMaxAge     time.Duration
}

type schedulerConfig struct {
	Enabled                bool
	DiscoveryInterval      time.Duration
	DiscoveryCheckInterval time.Duration
	DiscoveryBatchSize     int
	ProviderSyncInterval   time.Duration
	PeerRefreshInterval    time.Duration
	PeerRefreshBatchSize   int
}

type bmsConfig struct {
	Enabled       bool
	URL           string
	RoutingKey    string
	Timeout       time.Duration
	WorkerCount   int64
	TestInterval  time.Duration
	CheckInterval time.Duration
	PollInterval  time.Duration
	BatchSize     int
}
