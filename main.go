package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/numbleroot/pgas/comm"
	"github.com/numbleroot/pgas/config"
	"github.com/numbleroot/pgas/crypto"
	"github.com/numbleroot/pgas/distribution"
	"github.com/numbleroot/pgas/rmi"
	"github.com/pkg/errors"
)

// Structs

// location bundles everything one location of a
// deployment runs.
type location struct {
	logger log.Logger
	rt     *rmi.Runtime
	svc    distribution.Service[int64]
}

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// newLocation starts the runtime of one location on tr
// and creates the workload container on it, wrapped in
// logging and metrics.
func newLocation(ctx context.Context, logger log.Logger, conf *config.Config, m *DistributionMetrics, tr comm.Transport, wg *sync.WaitGroup) (*location, error) {

	logger = log.With(logger, "location", tr.Here())

	rt := rmi.New(logger, tr)

	wg.Add(1)
	go func() {

		defer wg.Done()

		if err := rt.Run(ctx); err != nil && err != context.Canceled {
			level.Error(logger).Log("msg", "runtime stopped", "err", err)
		}
	}()

	d, err := distribution.New[int64](logger, rt, distribution.Config{
		CacheSize:      conf.Container.DirectoryCacheSize,
		SplitThreshold: conf.Container.SplitThreshold,
		Instruments:    m.Instruments(),
	}, 0, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create container")
	}

	var svc distribution.Service[int64] = d
	svc = distribution.NewLoggingService[int64](svc, logger)
	svc = distribution.NewMetricsService[int64](svc, m.Mutations, m.Duration)

	return &location{
		logger: logger,
		rt:     rt,
		svc:    svc,
	}, nil
}

// run executes the workload on every given location
// concurrently, fences and returns the sum of all size
// changes made by these locations.
func run(ctx context.Context, locs []*location, n int, seed int64) (int64, error) {

	var lock sync.Mutex
	var delta int64
	var firstErr error

	wg := &sync.WaitGroup{}

	for _, loc := range locs {

		wg.Add(1)
		go func(loc *location) {

			defer wg.Done()

			stats, err := runWorkload(ctx, loc.logger, loc.svc, loc.rt.Here(), n, seed)

			lock.Lock()
			defer lock.Unlock()

			delta += stats.Delta()
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(loc)
	}

	wg.Wait()

	if firstErr != nil {
		return delta, firstErr
	}

	for _, loc := range locs {

		wg.Add(1)
		go func(loc *location) {

			defer wg.Done()

			if err := loc.svc.Fence(ctx); err != nil {

				lock.Lock()
				if firstErr == nil {
					firstErr = err
				}
				lock.Unlock()
			}
		}(loc)
	}

	wg.Wait()

	return delta, firstErr
}

func main() {

	var err error

	// Set CPUs usable by pgas to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command-line flag that defines a config path.
	configFlag := flag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	envFlag := flag.String("env", ".env", "Provide path to an optional .env file overriding location and log level.")
	locationFlag := flag.Int("location", -1, "If running on the gRPC fabric, specify which of the configured peers this process is.")
	loglevelFlag := flag.String("loglevel", "", "This flag sets the default logging level.")
	workloadFlag := flag.Int("workload", 0, "Number of mutations each location issues before printing the final size.")
	pkiFlag := flag.Bool("generate-pki", false, "Generate the internal PKI for all configured peers next to GRPC.RootCertLoc and exit.")
	flag.Parse()

	env, err := config.LoadEnv(*envFlag)
	if err != nil {
		initLogger("error").Log("msg", "failed to load the environment", "err", err)
		os.Exit(1)
	}

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		initLogger("error").Log("msg", "failed to load the config", "err", err)
		os.Exit(1)
	}

	loglevel := conf.Runtime.LogLevel
	if env.LogLevel != "" {
		loglevel = env.LogLevel
	}
	if *loglevelFlag != "" {
		loglevel = *loglevelFlag
	}

	logger := log.With(initLogger(loglevel), "run", uuid.NewString())

	if *pkiFlag {

		peers, err := conf.PeerList()
		if err != nil {
			level.Error(logger).Log("msg", "cannot generate PKI without peers", "err", err)
			os.Exit(2)
		}

		pki := &crypto.PKI{
			Dir:   filepath.Dir(conf.GRPC.RootCertLoc),
			Peers: peers,
		}

		if err := pki.Generate(logger); err != nil {
			level.Error(logger).Log("msg", "failed to generate PKI", "err", err)
			os.Exit(2)
		}

		return
	}

	m := NewPgasMetrics(conf.Runtime.PrometheusAddr)
	go runPromHTTP(logger, conf.Runtime.PrometheusAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := &sync.WaitGroup{}
	locs := []*location{}
	var closeTransport func()

	switch conf.Runtime.Transport {

	case config.TransportGRPC:

		here := env.Location
		if *locationFlag >= 0 {
			here = *locationFlag
		}

		peers, err := conf.PeerList()
		if err != nil {
			level.Error(logger).Log("msg", "invalid peers", "err", err)
			os.Exit(3)
		}

		internal, err := NewInternalConnection(conf, here, 500*time.Millisecond, 20)
		if err != nil {
			level.Error(logger).Log("msg", "failed to load internal TLS config", "err", err)
			os.Exit(3)
		}

		g, err := internal.Transport(logger, here, peers)
		if err != nil {
			level.Error(logger).Log("msg", "failed to start gRPC fabric", "err", err)
			os.Exit(3)
		}
		closeTransport = func() { g.Close() }

		loc, err := newLocation(ctx, logger, conf, m.Distribution, g, wg)
		if err != nil {
			level.Error(logger).Log("msg", "failed to initialize location", "err", err)
			os.Exit(4)
		}
		locs = append(locs, loc)

	default:

		f := comm.NewFabric(conf.Runtime.Locations)
		closeTransport = f.Close

		for _, ep := range f.Endpoints() {

			loc, err := newLocation(ctx, logger, conf, m.Distribution, ep, wg)
			if err != nil {
				level.Error(logger).Log("msg", "failed to initialize location", "err", err)
				os.Exit(4)
			}
			locs = append(locs, loc)
		}
	}

	delta, err := run(ctx, locs, *workloadFlag, time.Now().UnixNano())
	if err != nil {
		level.Error(logger).Log("msg", "workload failed", "err", err)
		os.Exit(5)
	}

	size := locs[0].svc.Size()
	level.Info(logger).Log("msg", "workload finished", "size", size, "delta", delta)
	fmt.Println(size)

	cancel()
	closeTransport()
	wg.Wait()
}
