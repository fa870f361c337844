package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/module/bms"
	"github.com/fidlabs/provider-sample-url-finder/module/deals"
	"github.com/fidlabs/provider-sample-url-finder/module/endpoints"
	"github.com/fidlabs/provider-sample-url-finder/module/labels"
	"github.com/fidlabs/provider-sample-url-finder/module/urltest"
	"github.com/fidlabs/provider-sample-url-finder/role"
	"github.com/fidlabs/provider-sample-url-finder/role/discovery"
	"github.com/fidlabs/provider-sample-url-finder/role/scheduler"
	"github.com/fidlabs/provider-sample-url-finder/role/tracker"

	"github.com/filecoin-project/lotus/api"
	"github.com/filecoin-project/lotus/api/client"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log3 "github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.uber.org/dig"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//nolint:gomnd
func setConfig(configPath string) (*config, error) {
	log := log3.With().Str("role", "main").Caller().Logger()
	defaultConnectionString := "host=localhost port=5432 user=postgres password=postgres dbname=postgres"

	cfg := config{
		Log: logConfig{
			Pretty: true,
			Level:  "debug",
		},
		Database: databaseConfig{
			ConnectionString: defaultConnectionString,
		},
		API: apiConfig{
			ListenAddr:           ":8000",
			AuthenticationTokens: []string{},
		},
		Lotus: lotusConfig{
			URL:   "https://api.node.glif.io/",
			Token: "",
		},
		Directory: directoryConfig{
			URL:     "https://cid.contact",
			Timeout: 30 * time.Second,
		},
		Finder: finderConfig{
			SampleCap:        deals.DefaultSampleCap,
			MaxConcurrency:   urltest.DefaultMaxConcurrency,
			MinContentLength: urltest.DefaultMinContentLength,
			ProbeTimeout:     urltest.DefaultProbeTimeout,
			QueueSize:        discovery.DefaultQueueSize,
			PeerIDMaxAge:     7 * 24 * time.Hour,
		},
		Scheduler: schedulerConfig{
			Enabled:                true,
			DiscoveryInterval:      24 * time.Hour,
			DiscoveryCheckInterval: time.Minute,
			DiscoveryBatchSize:     50,
			ProviderSyncInterval:   time.Hour,
			PeerRefreshInterval:    time.Hour,
			PeerRefreshBatchSize:   100,
		},
		Bms: bmsConfig{
			Enabled:       false,
			URL:           "",
			RoutingKey:    bms.DefaultRoutingKey,
			Timeout:       30 * time.Second,
			WorkerCount:   1,
			TestInterval:  24 * time.Hour,
			CheckInterval: 5 * time.Minute,
			PollInterval:  time.Minute,
			BatchSize:     20,
		},
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Warn().Str("config_path", configPath).Msg("config file does not exist, creating new one")

		cfgStr, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "cannot marshal config to yaml")
		}

		err = os.WriteFile(configPath, cfgStr, 0o600)
		if err != nil {
			return nil, errors.Wrap(err, "cannot create an empty config file")
		}
	}

	viper.SetConfigFile(configPath)
	log.Debug().Str("config_path", configPath).Msg("reading config file")

	err := viper.ReadInConfig()
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config file")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal config")
	}

	return &cfg, nil
}

//nolint:wrapcheck,funlen,cyclop
func setupDependencies(ctx context.Context, container *dig.Container, configPath string) (*config, error) {
	log := log3.With().Str("role", "main").Caller().Logger()

	cfg, err := setConfig(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "cannot set config")
	}

	if cfg.Log.Pretty {
		log3.Logger = log3.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse log level")
	}

	zerolog.SetGlobalLevel(level)

	// DI: api.Gateway
	err = container.Provide(
		func() (api.Gateway, error) {
			var header http.Header
			if cfg.Lotus.Token != "" {
				header = http.Header{
					"Authorization": []string{"Bearer " + cfg.Lotus.Token},
				}
			}

			lotusAPI, _, err := client.NewGatewayRPCV1(ctx, cfg.Lotus.URL, header)
			return lotusAPI, err
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide lotus api")
	}

	// DI: gorm.DB
	err = container.Provide(
		func() (*gorm.DB, error) {
			dblogger := role.GormLogger{
				Log: log3.With().Str("role", "sql").Logger(),
			}

			db, err := gorm.Open(postgres.Open(cfg.Database.ConnectionString), &gorm.Config{Logger: dblogger})
			if err != nil {
				return nil, errors.Wrap(err, "cannot open database connection")
			}

			return db, nil
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide database")
	}

	// DI: deals.Sampler
	err = container.Provide(
		func(db *gorm.DB) deals.Sampler {
			return deals.NewDealSampler(db, cfg.Finder.SampleCap)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide deal sampler")
	}

	// DI: endpoints.PeerIDSource
	err = container.Provide(
		func(lotusAPI api.Gateway) endpoints.PeerIDSource {
			return endpoints.NewLotusPeerIDSource(lotusAPI)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide peer id source")
	}

	// DI: endpoints.Directory
	err = container.Provide(
		func() endpoints.Directory {
			return endpoints.NewCidContactDirectory(cfg.Directory.URL, cfg.Directory.Timeout)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide provider directory")
	}

	// DI: tracker.Tracker
	err = container.Provide(
		func(db *gorm.DB) (*tracker.Tracker, error) {
			return tracker.NewTracker(db, cfg.Scheduler.DiscoveryInterval, cfg.Bms.TestInterval)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide tracker")
	}

	// DI: endpoints.Resolver
	err = container.Provide(
		func(source endpoints.PeerIDSource, directory endpoints.Directory, trk *tracker.Tracker) *endpoints.Resolver {
			return endpoints.NewResolver(source, directory, trk, cfg.Finder.PeerIDMaxAge)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide endpoint resolver")
	}

	// DI: urltest.Tester
	err = container.Provide(
		func() *urltest.Tester {
			return urltest.NewTester(urltest.Config{
				MaxConcurrency:   cfg.Finder.MaxConcurrency,
				MinContentLength: cfg.Finder.MinContentLength,
				ProbeTimeout:     cfg.Finder.ProbeTimeout,
			})
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide url tester")
	}

	// DI: discovery.JobStore
	err = container.Provide(
		func(db *gorm.DB) (*discovery.JobStore, error) {
			return discovery.NewJobStore(db)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide job store")
	}

	// DI: labels.Cache
	err = container.Provide(
		func(db *gorm.DB) (*labels.Cache, error) {
			return labels.NewCache(db)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide label cache")
	}

	// DI: discovery.Finder
	err = container.Provide(
		func(
			resolver *endpoints.Resolver,
			sampler deals.Sampler,
			tester *urltest.Tester,
			labelCache *labels.Cache,
		) *discovery.Finder {
			return discovery.NewFinder(resolver, sampler, tester, labelCache)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide finder")
	}

	// DI: discovery.Discovery
	err = container.Provide(
		func(
			finder *discovery.Finder,
			sampler deals.Sampler,
			jobs *discovery.JobStore,
			trk *tracker.Tracker,
		) *discovery.Discovery {
			return discovery.NewDiscovery(finder, sampler, jobs, trk, cfg.Finder.QueueSize)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide discovery")
	}

	// DI: bms.Client and bms.Store, nil when the bandwidth subsystem is off
	err = container.Provide(
		func() *bms.Client {
			if !cfg.Bms.Enabled {
				return nil
			}

			return bms.NewClient(cfg.Bms.URL, cfg.Bms.RoutingKey, cfg.Bms.Timeout)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide bms client")
	}

	err = container.Provide(
		func(db *gorm.DB) (*bms.Store, error) {
			if !cfg.Bms.Enabled {
				return nil, nil
			}

			return bms.NewStore(db)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide bms store")
	}

	// DI: scheduler.Scheduler
	err = container.Provide(
		func(
			disc *discovery.Discovery,
			trk *tracker.Tracker,
			sampler deals.Sampler,
			bmsClient *bms.Client,
			bmsStore *bms.Store,
			source endpoints.PeerIDSource,
		) *scheduler.Scheduler {
			return scheduler.NewScheduler(
				scheduler.Config{
					DiscoveryCheckInterval: cfg.Scheduler.DiscoveryCheckInterval,
					DiscoveryBatchSize:     cfg.Scheduler.DiscoveryBatchSize,
					BmsCheckInterval:       cfg.Bms.CheckInterval,
					BmsBatchSize:           cfg.Bms.BatchSize,
					BmsPollInterval:        cfg.Bms.PollInterval,
					BmsWorkerCount:         cfg.Bms.WorkerCount,
					ProviderSyncInterval:   cfg.Scheduler.ProviderSyncInterval,
					PeerRefreshInterval:    cfg.Scheduler.PeerRefreshInterval,
					PeerMaxAge:             cfg.Finder.PeerIDMaxAge,
					PeerRefreshBatchSize:   cfg.Scheduler.PeerRefreshBatchSize,
				},
				disc,
				trk,
				sampler,
				bmsClient,
				bmsStore,
				source,
			)
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot provide scheduler")
	}

	return cfg, nil
}
