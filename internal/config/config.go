package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
)

// DirEnv overrides the config directory when --config is not given.
const DirEnv = "W3ICO_CONFIG_DIR"

const (
	defaultDir      = "~/.w3ico"
	defaultStore    = StoreJSON
	defaultLogLevel = "WARNING"

	configFile   = "config.json"
	walletsFile  = "wallets.json"
	databaseFile = "w3ico.db"
	keysDir      = "keys"
	logsDir      = "logs"
)

var logLevels = []string{"CRITICAL", "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG"}

// ResolveDir picks the config directory: dir if set, then $W3ICO_CONFIG_DIR,
// then ~/.w3ico. A leading ~ is expanded.
func ResolveDir(dir string) (string, error) {
	if dir == "" {
		dir = os.Getenv(DirEnv)
	}
	if dir == "" {
		dir = defaultDir
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", fmt.Errorf("could not expand %s: %w", dir, err)
	}
	return filepath.Clean(expanded), nil
}

// Load reads config from dir (or creates defaults). See ResolveDir for how
// an empty dir is resolved.
func Load(dir string) (*Config, error) {
	dir, err := ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create config dir: %w", err)
	}

	cfg := defaults(dir)

	path := filepath.Join(dir, configFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.configDir = dir
	return cfg, nil
}

// Save writes the config to disk.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.configDir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.configDir, configFile), data, 0o600)
}

// Dir returns the config directory.
func (c *Config) Dir() string { return c.configDir }

// WalletsPath is where wallet metadata is kept.
func (c *Config) WalletsPath() string { return filepath.Join(c.configDir, walletsFile) }

// KeysDir holds the encrypted file keyring when no OS keychain is reachable.
func (c *Config) KeysDir() string { return filepath.Join(c.configDir, keysDir) }

// LogDir holds w3ico.log.
func (c *Config) LogDir() string { return filepath.Join(c.configDir, logsDir) }

// DatabasePath is the SQLite store file.
func (c *Config) DatabasePath() string { return filepath.Join(c.configDir, databaseFile) }

// Keys lists the settable config keys.
func Keys() []string {
	keys := []string{"default_deployment", "default_wallet", "store_backend", "log_level", "rpc_url", "chain_id"}
	sort.Strings(keys)
	return keys
}

// Get returns a config value by key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "default_deployment":
		return c.DefaultDeployment, nil
	case "default_wallet":
		return c.DefaultWallet, nil
	case "store_backend":
		return c.StoreBackend, nil
	case "log_level":
		return c.LogLevel, nil
	case "rpc_url":
		return c.RPCURL, nil
	case "chain_id":
		return strconv.FormatInt(c.ChainID, 10), nil
	}
	return "", fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
}

// Set validates and assigns a config value by key. It does not save.
func (c *Config) Set(key, value string) error {
	switch key {
	case "default_deployment":
		c.DefaultDeployment = value
	case "default_wallet":
		c.DefaultWallet = value
	case "store_backend":
		if value != StoreJSON && value != StoreSQLite {
			return &ValidationError{Field: key, Message: fmt.Sprintf("must be %q or %q", StoreJSON, StoreSQLite)}
		}
		c.StoreBackend = value
	case "log_level":
		lvl := strings.ToUpper(value)
		if !slices.Contains(logLevels, lvl) {
			return &ValidationError{Field: key, Message: "must be one of " + strings.Join(logLevels, ", ")}
		}
		c.LogLevel = lvl
	case "rpc_url":
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return &ValidationError{Field: key, Message: "must be an http(s) URL"}
		}
		c.RPCURL = value
	case "chain_id":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return &ValidationError{Field: key, Message: "must be a positive integer"}
		}
		c.ChainID = id
	default:
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	return nil
}

// --- helpers ---

func defaults(dir string) *Config {
	return &Config{
		StoreBackend: defaultStore,
		LogLevel:     defaultLogLevel,
		RPCURL:       DefaultRPCURL,
		ChainID:      DefaultChainID,
		configDir:    dir,
	}
}
