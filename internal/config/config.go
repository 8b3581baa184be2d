// Package config loads msqlsrv-demo's YAML configuration and watches it for
// changes, the way the teacher proxy's config package does for its own
// tenant table: parse with env-var substitution, validate, apply defaults,
// and optionally hot-reload on write.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the msqlsrv demo daemon.
type Config struct {
	Listen ListenConfig `yaml:"listen"`
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
}

// ListenConfig defines the address msqlsrv-demo listens on for MySQL
// clients, its admin HTTP surface, and optional TLS material.
type ListenConfig struct {
	MySQLAddr string `yaml:"mysql_addr"`
	AdminAddr string `yaml:"admin_addr"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
}

// TLSEnabled returns true if both TLS cert and key paths are configured.
func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

// ServerConfig controls what the library reports in its initial handshake
// packet.
type ServerConfig struct {
	Version      string `yaml:"version"`
	ConnectionID uint32 `yaml:"connection_id_start"`
}

// AuthConfig controls the optional credential-check extension point (§4.J
// of SPEC_FULL.md). msqlsrv's core always frames mysql_native_password
// unconditionally; this only gates whether a CredentialChecker is wired in.
type AuthConfig struct {
	RequireCredentialCheck bool   `yaml:"require_credential_check"`
	HtpasswdFile           string `yaml:"htpasswd_file"`
}

// LogConfig controls the demo's slog handler.
type LogConfig struct {
	Level string `yaml:"level"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.MySQLAddr == "" {
		cfg.Listen.MySQLAddr = "0.0.0.0:3307"
	}
	if cfg.Listen.AdminAddr == "" {
		cfg.Listen.AdminAddr = "127.0.0.1:8080"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "8.0.0-msqlsrv"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg *Config) error {
	if cfg.Auth.RequireCredentialCheck && cfg.Auth.HtpasswdFile == "" {
		return fmt.Errorf("auth.require_credential_check is set but auth.htpasswd_file is empty")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
