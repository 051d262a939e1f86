// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"text/template"

	"github.com/kelseyhightower/envconfig"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix is the prefix of every environment variable the adapter reads.
const EnvPrefix = "MATTERMOST"

// ErrMissingConfig is returned by Validate when a required key is empty.
var ErrMissingConfig = errors.New("missing required configuration")

// Config holds the adapter configuration.
//
// Fields carry no envconfig tags: a tag would also match the unprefixed
// variable (USER, HOST) when the prefixed one is unset.
type Config struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Group is the name of the Mattermost team the bot joins.
	Group string `yaml:"group"`

	WSSPort  int  `yaml:"wss_port" split_words:"true"`
	HTTPPort int  `yaml:"http_port" split_words:"true"`
	UseTLS   bool `yaml:"use_tls" split_words:"true"`

	// Reply selects threaded replies. When false, replies are sent as plain
	// posts without the mention prefix.
	Reply       bool     `yaml:"reply"`
	IgnoreUsers []string `yaml:"ignore_users" split_words:"true"`

	RealnameTemplate string `yaml:"realname_template" split_words:"true"`
	BrainFile        string `yaml:"brain_file" split_words:"true"`
	LogLevel         string `yaml:"log_level" split_words:"true"`

	realnameTemplate *template.Template `yaml:"-"`
}

// RealnameParams holds the parameters for rendering the real name template.
type RealnameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess normalizes the ignore list and compiles the real name template.
func (c *Config) PostProcess() error {
	ignore := make([]string, 0, len(c.IgnoreUsers))
	for _, name := range c.IgnoreUsers {
		name = normalizeUsername(name)
		if name != "" {
			ignore = append(ignore, name)
		}
	}
	c.IgnoreUsers = ignore

	var err error
	c.realnameTemplate, err = template.New("realname").Parse(c.RealnameTemplate)
	return err
}

// Validate checks that every required key is set.
func (c *Config) Validate() error {
	var missing []string
	for _, field := range []struct{ key, val string }{
		{"host", c.Host},
		{"user", c.User},
		{"password", c.Password},
		{"group", c.Group},
	} {
		if strings.TrimSpace(field.val) == "" {
			missing = append(missing, EnvPrefix+"_"+strings.ToUpper(field.key))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	if c.WSSPort < 0 || c.WSSPort > 65535 {
		return fmt.Errorf("invalid wss_port %d", c.WSSPort)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	return nil
}

// ServerURL returns the base URL of the REST API.
func (c *Config) ServerURL() string {
	scheme := "https"
	if !c.UseTLS {
		scheme = "http"
	}
	return buildURL(scheme, c.Host, c.HTTPPort)
}

// WebSocketURL returns the base URL of the WebSocket API.
func (c *Config) WebSocketURL() string {
	scheme := "wss"
	if !c.UseTLS {
		scheme = "ws"
	}
	return buildURL(scheme, c.Host, c.WSSPort)
}

func buildURL(scheme, host string, port int) string {
	host = strings.TrimSuffix(host, "/")
	if port > 0 && !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return (&url.URL{Scheme: scheme, Host: host}).String()
}

func isDefaultPort(scheme string, port int) bool {
	switch scheme {
	case "https", "wss":
		return port == 443
	default:
		return port == 80
	}
}

// FormatRealname renders the real name of a user from the template.
func (c *Config) FormatRealname(params RealnameParams) string {
	if c.realnameTemplate == nil {
		return strings.TrimSpace(params.FirstName + " " + params.LastName)
	}
	var buf []byte
	err := c.realnameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil {
		return strings.TrimSpace(params.FirstName + " " + params.LastName)
	}
	return strings.TrimSpace(string(buf))
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "host")
	helper.Copy(up.Str, "user")
	helper.Copy(up.Str, "password")
	helper.Copy(up.Str, "group")
	helper.Copy(up.Int, "wss_port")
	helper.Copy(up.Int, "http_port")
	helper.Copy(up.Bool, "use_tls")
	helper.Copy(up.Bool, "reply")
	helper.Copy(up.List, "ignore_users")
	helper.Copy(up.Str, "realname_template")
	helper.Copy(up.Str|up.Null, "brain_file")
	helper.Copy(up.Str, "log_level")
}

// Upgrader returns the config upgrader based on the embedded example config.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"wss_port"},
			{"reply"},
			{"realname_template"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig reads the configuration. Values come from the embedded example
// config, then the YAML file at path (if any), then MATTERMOST_* environment
// variables. With save set, the file is rewritten in place against the
// current example config.
func LoadConfig(path string, save bool) (*Config, error) {
	data := []byte(ExampleConfig)
	if path != "" {
		var err error
		data, _, err = up.Do(path, save, Upgrader())
		if err != nil {
			return nil, fmt.Errorf("failed to upgrade config: %w", err)
		}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
