// Package config resolves lite-cornea's connection and runtime defaults:
// environment variables first, then an optional YAML file, mirroring the
// precedence AIStore's CLI config layer applies between flags, env, and
// its on-disk config.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Linaro/lite-cornea/internal/nlog"
)

// Config holds every tunable lite-cornea reads before dialing the Iris
// server. Zero value is meaningful: Resolve always fills in the defaults.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// CallTimeout bounds ordinary (non-run-control) RPC calls.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// EventQueueDepth is the per-subscription bounded channel size used
	// by the event router (spec.md §4.4).
	EventQueueDepth int `yaml:"event_queue_depth"`

	// RegTableDir, if set, is searched for additional
	// <architecture>.yaml register-table overrides before falling back
	// to the built-in tables in internal/gdbbridge/regmap.go.
	RegTableDir string `yaml:"reg_table_dir"`
}

const (
	defaultHost            = "127.0.0.1"
	defaultCallTimeout     = 5 * time.Second
	defaultEventQueueDepth = 256
)

// Resolve builds the effective Config from environment variables, then an
// optional ~/.cornea/config.yaml, then built-in defaults (in that order
// of precedence, env winning).
func Resolve() (*Config, error) {
	cfg := &Config{
		Host:            defaultHost,
		CallTimeout:     defaultCallTimeout,
		EventQueueDepth: defaultEventQueueDepth,
	}

	if path, err := defaultConfigPath(); err == nil {
		if err := loadYAMLInto(path, cfg); err != nil && !os.IsNotExist(err) {
			nlog.Warningf("config: ignoring %s: %v", path, err)
		}
	}

	if h := os.Getenv("CORNEA_IRIS_HOST"); h != "" {
		cfg.Host = h
	}
	if p := os.Getenv("CORNEA_IRIS_PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("config: CORNEA_IRIS_PORT=%q is not a number: %w", p, err)
		}
		cfg.Port = port
	}
	if cfg.Port == 0 {
		if port, ok := discoverPort(); ok {
			cfg.Port = port
		}
	}
	return cfg, nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cornea", "config.yaml"), nil
}

func loadYAMLInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// discoverPort makes a best-effort attempt to find the TCP port an Iris
// debug server is listening on by scanning /proc for a process whose
// command line names a known Fast Model / FVP binary, then cross
// referencing /proc/<pid>/net/tcp for a listening socket. Failure here is
// never fatal: the caller falls back to requiring an explicit port.
func discoverPort() (int, bool) {
	procDir, err := os.Open("/proc")
	if err != nil {
		return 0, false
	}
	defer procDir.Close()

	names, err := procDir.Readdirnames(-1)
	if err != nil {
		return 0, false
	}
	for _, name := range names {
		pid, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join("/proc", name, "cmdline"))
		if err != nil {
			continue
		}
		if !looksLikeFvp(cmdline) {
			continue
		}
		if port, ok := listeningPort(pid); ok {
			return port, true
		}
	}
	return 0, false
}

func looksLikeFvp(cmdline []byte) bool {
	s := strings.ToLower(string(cmdline))
	return strings.Contains(s, "fvp") || strings.Contains(s, "fast_models") || strings.Contains(s, "iris")
}

// listeningPort reads /proc/<pid>/net/tcp and returns the local port of
// the first socket in LISTEN state (st == 0A), a cheap way to recover the
// Iris server's port without a dedicated discovery protocol.
func listeningPort(pid int) (int, bool) {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "net", "tcp"))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		localAddr, state := fields[1], fields[3]
		if state != "0A" { // TCP_LISTEN
			continue
		}
		parts := strings.SplitN(localAddr, ":", 2)
		if len(parts) != 2 {
			continue
		}
		port, err := strconv.ParseInt(parts[1], 16, 32)
		if err != nil {
			continue
		}
		return int(port), true
	}
	return 0, false
}

// Addr formats the resolved host:port for net.Dial.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
