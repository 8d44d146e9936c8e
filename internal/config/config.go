// ABOUTME: Layered configuration for the relay and player binaries
// ABOUTME: Defaults, then a YAML file, then ZYNC_* environment, then command-line flags
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by this package
const EnvPrefix = "ZYNC_"

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// layered is implemented by each binary's config struct
type layered interface {
	bindFlags(fs *flag.FlagSet)
	applyEnv(env envReader) error
}

// LoadDotEnv loads .env from the working directory if one exists
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}
}

// load applies the layers in order. Flags are parsed twice: once to find
// -config, and again after the file and environment so that only explicitly
// set flags override them.
func load(name string, args []string, lookup LookupFunc, cfg layered) error {
	var path string

	probe := flag.NewFlagSet(name, flag.ContinueOnError)
	probe.SetOutput(io.Discard)
	probe.StringVar(&path, "config", "", "")
	cfg.bindFlags(probe)
	_ = probe.Parse(args)

	if path != "" {
		if err := readYAML(path, cfg); err != nil {
			return err
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(envReader{lookup: lookup}); err != nil {
		return err
	}

	final := flag.NewFlagSet(name, flag.ContinueOnError)
	final.String("config", path, "YAML config file")
	cfg.bindFlags(final)
	return final.Parse(args)
}

func readYAML(path string, into interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// envReader reads ZYNC_* variables and reports the first malformed one
type envReader struct {
	lookup LookupFunc
}

func (e envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e envReader) String(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e envReader) Int(key string, dst *int) error {
	v, ok := e.get(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func (e envReader) Int64(key string, dst *int64) error {
	v, ok := e.get(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func (e envReader) Bool(key string, dst *bool) error {
	v, ok := e.get(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

func (e envReader) Duration(key string, dst *time.Duration) error {
	v, ok := e.get(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

func (e envReader) List(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		*dst = splitList(v)
	}
}

// listFlag is a comma-separated flag.Value
type listFlag struct {
	dst *[]string
}

func (l listFlag) String() string {
	if l.dst == nil {
		return ""
	}
	return strings.Join(*l.dst, ",")
}

func (l listFlag) Set(v string) error {
	*l.dst = splitList(v)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultName returns "<hostname>-<suffix>"
func DefaultName(suffix string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, suffix)
}

// negatedBool binds a -no-x flag to a positive field
type negatedBool struct {
	dst *bool
}

func (n negatedBool) String() string {
	if n.dst == nil {
		return "false"
	}
	return strconv.FormatBool(!*n.dst)
}

func (n negatedBool) Set(v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*n.dst = !b
	return nil
}

func (negatedBool) IsBoolFlag() bool { return true }
