// Package credentials holds the per-site WordPress connection table.
//
// The table is read once at startup from a JSON or YAML file and is
// read-only afterwards, so a *Store can be shared by concurrent commands.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pressbot/internal/config"

	"gopkg.in/yaml.v3"
)

// Auth method tags accepted in the credential file.
const (
	MethodBasic = "basic"
	MethodJWT   = "jwt"
)

// Site is one entry of the credential table.
type Site struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	AuthMethod string `json:"auth_method" yaml:"auth_method"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`
}

// Endpoint joins the site's base URL with an API path.
func (s Site) Endpoint(path string) string {
	return strings.TrimRight(s.BaseURL, "/") + path
}

// Store is the immutable site table.
type Store struct {
	path  string
	sites map[string]Site
}

// NewStore builds a store from an in-memory table. The map is copied.
func NewStore(sites map[string]Site) *Store {
	cp := make(map[string]Site, len(sites))
	for k, v := range sites {
		cp[k] = v
	}
	return &Store{sites: cp}
}

// Load reads the credential file at path. JSON is the default format;
// .yaml and .yml files are parsed as YAML. ${VAR} references are expanded
// before parsing.
func Load(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("credentials path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("credentials file '%s' not found", path)
		}
		return nil, fmt.Errorf("cannot read credentials file %s: %w", path, err)
	}
	data = []byte(config.ExpandEnvVars(string(data)))

	sites := make(map[string]Site)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &sites)
	default:
		err = json.Unmarshal(data, &sites)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse credentials file %s: %w", path, err)
	}

	return &Store{path: path, sites: sites}, nil
}

// Path returns the file the store was loaded from, if any.
func (s *Store) Path() string { return s.path }

// Lookup returns the site registered under key.
func (s *Store) Lookup(key string) (Site, bool) {
	site, ok := s.sites[key]
	return site, ok
}

// Names returns the configured site keys in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.sites))
	for k := range s.sites {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configured sites.
func (s *Store) Len() int { return len(s.sites) }

// Sanitized returns a copy of the site with secrets masked, for display.
func (s Site) Sanitized() Site {
	if s.Password != "" {
		s.Password = "***"
	}
	if s.Token != "" {
		s.Token = config.MaskString(s.Token)
	}
	return s
}
