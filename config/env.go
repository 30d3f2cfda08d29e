package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Structs

// Env holds information specific to the
// system where pgas is deployed. This
// enables host adaptions without needing
// to maintain one config file per location.
type Env struct {
	Location int
	LogLevel string
}

// Functions

// LoadEnv reads PGAS_LOCATION and PGAS_LOGLEVEL from
// the process environment, falling back to the values
// defined in envFile. A missing envFile is fine.
// Location is -1 if neither defines it.
func LoadEnv(envFile string) (*Env, error) {

	file, err := godotenv.Read(envFile)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrapf(err, "failed to read in env file at '%s'", envFile)
	}

	lookup := func(key string) string {

		if value := os.Getenv(key); value != "" {
			return value
		}

		return file[key]
	}

	env := &Env{
		Location: -1,
		LogLevel: lookup("PGAS_LOGLEVEL"),
	}

	if loc := lookup("PGAS_LOCATION"); loc != "" {

		env.Location, err = strconv.Atoi(loc)
		if err != nil || env.Location < 0 {
			return nil, errors.Errorf("PGAS_LOCATION has to be a non-negative number, got '%s'", loc)
		}
	}

	return env, nil
}
