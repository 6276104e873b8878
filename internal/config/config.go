// Package config loads Repograph settings from a YAML file, a .env file
// and REPOGRAPH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "repograph.yaml"

// Backend names.
const (
	BackendBadger = "badger"
	BackendNeo4j  = "neo4j"
	BackendMemory = "memory"
)

// Config holds every setting.
type Config struct {
	DataDir string `yaml:"data_dir"`
	Backend string `yaml:"backend"`

	Neo4j struct {
		URI      string `yaml:"uri"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"neo4j"`

	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`

	Extractor struct {
		Command string        `yaml:"command"`
		Args    []string      `yaml:"args"`
		Timeout time.Duration `yaml:"timeout"`
		Workers int           `yaml:"workers"`
	} `yaml:"extractor"`

	Summarizer struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"summarizer"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{
		DataDir: "~/.repograph",
		Backend: BackendBadger,
	}
	cfg.Extractor.Command = "inspect4py"
	cfg.Extractor.Args = []string{"-md", "-rm", "-si", "-ld", "-sc", "-ast", "-cl"}
	cfg.Extractor.Workers = 1
	cfg.Log.Level = "info"
	return cfg
}

// Load reads the config file at path over the defaults. An empty path
// falls back to $REPOGRAPH_CONFIG and then DefaultPath; a missing default
// file is not an error, a missing explicit one is.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("REPOGRAPH_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"REPOGRAPH_DATA_DIR":          &c.DataDir,
		"REPOGRAPH_BACKEND":           &c.Backend,
		"REPOGRAPH_NEO4J_URI":         &c.Neo4j.URI,
		"REPOGRAPH_NEO4J_USERNAME":    &c.Neo4j.Username,
		"REPOGRAPH_NEO4J_PASSWORD":    &c.Neo4j.Password,
		"REPOGRAPH_CATALOG_PATH":      &c.Catalog.Path,
		"REPOGRAPH_EXTRACTOR_COMMAND": &c.Extractor.Command,
		"REPOGRAPH_SUMMARIZER_URL":    &c.Summarizer.URL,
		"REPOGRAPH_LOG_LEVEL":         &c.Log.Level,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("REPOGRAPH_EXTRACTOR_ARGS"); v != "" {
		c.Extractor.Args = strings.Fields(v)
	}
	if v := os.Getenv("REPOGRAPH_EXTRACTOR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REPOGRAPH_EXTRACTOR_WORKERS: %w", err)
		}
		c.Extractor.Workers = n
	}
	if v := os.Getenv("REPOGRAPH_EXTRACTOR_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REPOGRAPH_EXTRACTOR_TIMEOUT: %w", err)
		}
		c.Extractor.Timeout = d
	}
	if v := os.Getenv("REPOGRAPH_LOG_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REPOGRAPH_LOG_DEVELOPMENT: %w", err)
		}
		c.Log.Development = b
	}
	return nil
}

// finish expands paths, fills derived defaults and validates.
func (c *Config) finish() error {
	dir, err := expandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir

	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	} else if c.Catalog.Path, err = expandHome(c.Catalog.Path); err != nil {
		return err
	}

	if c.Extractor.Workers < 1 {
		c.Extractor.Workers = 1
	}

	switch c.Backend {
	case BackendBadger, BackendNeo4j, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend == BackendNeo4j && c.Neo4j.URI == "" {
		return errors.New("neo4j backend requires neo4j.uri")
	}
	return nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
