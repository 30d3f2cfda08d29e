package config

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Constants

// Transports a runtime may run on.
const (
	TransportLocal = "local"
	TransportGRPC  = "grpc"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Runtime   Runtime
	Container Container
	GRPC      GRPC
	Peers     map[string]string
}

// Runtime is the part of the TOML config file
// shared by every location of one deployment.
type Runtime struct {
	Locations      int
	Transport      string
	LogLevel       string
	PrometheusAddr string
}

// Container tunes every container created by
// the runtime.
type Container struct {
	DirectoryCacheSize int
	SplitThreshold     int
}

// GRPC describes how locations reach each other
// when running on the gRPC fabric.
type GRPC struct {
	CertLoc     string
	KeyLoc      string
	RootCertLoc string
	Insecure    bool
}

// Functions

// LoadConfig takes in the path to the main config
// file of pgas in TOML syntax and places the values
// from the file in the corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := &Config{
		Runtime: Runtime{
			Locations: 1,
			Transport: TransportLocal,
			LogLevel:  "info",
		},
		Container: Container{
			DirectoryCacheSize: 1024,
		},
	}

	// Parse values from TOML file into struct.
	meta, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read in TOML config file at '%s'", configFile)
	}

	// Typos in keys would silently fall back to
	// defaults otherwise.
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown key '%s' in config file at '%s'", undecoded[0].String(), configFile)
	}

	if err := conf.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file at '%s'", configFile)
	}

	// Relative paths are taken relative to the
	// directory the config file lives in.
	base, err := filepath.Abs(filepath.Dir(configFile))
	if err != nil {
		return nil, errors.Wrap(err, "could not get absolute path of config directory")
	}

	for _, loc := range []*string{&conf.GRPC.CertLoc, &conf.GRPC.KeyLoc, &conf.GRPC.RootCertLoc} {

		if *loc != "" && !filepath.IsAbs(*loc) {
			*loc = filepath.Join(base, *loc)
		}
	}

	return conf, nil
}

func (conf *Config) validate() error {

	if conf.Runtime.Locations < 1 {
		return errors.Errorf("Runtime.Locations has to be at least 1, got %d", conf.Runtime.Locations)
	}

	if conf.Container.DirectoryCacheSize < 1 {
		return errors.Errorf("Container.DirectoryCacheSize has to be at least 1, got %d", conf.Container.DirectoryCacheSize)
	}

	if conf.Container.SplitThreshold < 0 {
		return errors.Errorf("Container.SplitThreshold must not be negative, got %d", conf.Container.SplitThreshold)
	}

	switch conf.Runtime.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("Runtime.LogLevel '%s' is none of debug, info, warn, error", conf.Runtime.LogLevel)
	}

	switch conf.Runtime.Transport {

	case TransportLocal:
		return nil

	case TransportGRPC:

		if _, err := conf.PeerList(); err != nil {
			return err
		}

		if !conf.GRPC.Insecure && (conf.GRPC.CertLoc == "" || conf.GRPC.KeyLoc == "" || conf.GRPC.RootCertLoc == "") {
			return errors.New("GRPC.CertLoc, GRPC.KeyLoc and GRPC.RootCertLoc are required unless GRPC.Insecure is set")
		}

		return nil
	}

	return errors.Errorf("Runtime.Transport '%s' is neither '%s' nor '%s'", conf.Runtime.Transport, TransportLocal, TransportGRPC)
}

// PeerList returns the listen addresses of all
// locations ordered by location.
func (conf *Config) PeerList() ([]string, error) {

	if len(conf.Peers) != conf.Runtime.Locations {
		return nil, errors.Errorf("Peers has %d entries for %d locations", len(conf.Peers), conf.Runtime.Locations)
	}

	keys := make([]string, 0, len(conf.Peers))
	for key := range conf.Peers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	peers := make([]string, conf.Runtime.Locations)

	for _, key := range keys {

		loc, err := strconv.Atoi(key)
		if err != nil || loc < 0 || loc >= conf.Runtime.Locations {
			return nil, errors.Errorf("Peers.%s is not a location between 0 and %d", key, conf.Runtime.Locations-1)
		}

		if conf.Peers[key] == "" {
			return nil, errors.Errorf("Peers.%s has no address", key)
		}

		peers[loc] = conf.Peers[key]
	}

	// Keys like "1" and "01" name the same location.
	for loc, addr := range peers {

		if addr == "" {
			return nil, errors.Errorf("Peers has no address for location %d", loc)
		}
	}

	return peers, nil
}
