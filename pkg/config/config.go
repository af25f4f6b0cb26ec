/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"jinr.ru/greenlab/go-slink/pkg/seedlink"
)

type ApiConfig struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
	Port    int    `yaml:"port,omitempty" json:"port,omitempty"`
}

// ConnectionConfig describes one SeedLink server connection. Streams holds
// "NET STA [selectors]" lines or "NET_STA[:selectors]" tokens, without streams
// the connection runs in uni-channel mode with Selectors.
type ConnectionConfig struct {
	Name           string   `yaml:"name" json:"name"`
	Address        string   `yaml:"address" json:"address"`
	Streams        []string `yaml:"streams,omitempty" json:"streams,omitempty"`
	StreamFile     string   `yaml:"streamFile,omitempty" json:"streamFile,omitempty"`
	Selectors      string   `yaml:"selectors,omitempty" json:"selectors,omitempty"`
	Resume         bool     `yaml:"resume" json:"resume"`
	DialUp         bool     `yaml:"dialup,omitempty" json:"dialup,omitempty"`
	Begin          string   `yaml:"begin,omitempty" json:"begin,omitempty"`
	End            string   `yaml:"end,omitempty" json:"end,omitempty"`
	Keepalive      int      `yaml:"keepalive" json:"keepalive"`
	Timeout        int      `yaml:"timeout" json:"timeout"`
	ReconnectDelay int      `yaml:"reconnectDelay" json:"reconnectDelay"`
	StateFile      string   `yaml:"stateFile,omitempty" json:"stateFile,omitempty"`
	StateBackend   string   `yaml:"stateBackend,omitempty" json:"stateBackend,omitempty"`
	SendLastTime   bool     `yaml:"sendLastTime,omitempty" json:"sendLastTime,omitempty"`
	Quote          string   `yaml:"quote,omitempty" json:"quote,omitempty"`
}

// UnmarshalYAML fills the fields missing in the file with the connection defaults.
// Name stays empty so that Validate still rejects unnamed connections.
func (cc *ConnectionConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain ConnectionConfig
	*cc = *NewDefaultConnectionConfig()
	cc.Name = ""
	return unmarshal((*plain)(cc))
}

type Config struct {
	LogLevel    string              `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
	Api         *ApiConfig          `yaml:"api,omitempty" json:"api,omitempty"`
	BoltPath    string              `yaml:"boltPath,omitempty" json:"boltPath,omitempty"`
	Connections []*ConnectionConfig `yaml:"connections" json:"connections"`
	filepath    string
}

func (c *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(c.filepath); err == nil && !overwrite {
		return ErrConfigFileExists{Path: c.filepath}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.filepath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(c.filepath, data, 0644)
}

func (c *Config) LoadConfig() error {
	data, err := os.ReadFile(c.filepath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Load reads the config file if it exists, defaults are kept otherwise
func (c *Config) Load() error {
	if _, err := os.Stat(c.filepath); os.IsNotExist(err) {
		return nil
	}
	if err := c.LoadConfig(); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) Path() string {
	return c.filepath
}

func (c *Config) SetPath(path string) {
	c.filepath = path
}

func (c *Config) ApiAddress() string {
	if c.Api == nil {
		return fmt.Sprintf("%s:%d", DefaultApiAddress, DefaultApiPort)
	}
	return fmt.Sprintf("%s:%d", c.Api.Address, c.Api.Port)
}

func (c *Config) GetConnectionByName(name string) (*ConnectionConfig, error) {
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, nil
		}
	}
	return nil, ErrConnectionNotFound{Name: name}
}

// Validate checks connection names and the values that are parsed later
func (c *Config) Validate() error {
	names := make(map[string]bool)
	for _, conn := range c.Connections {
		if conn.Name == "" {
			return ErrInvalidConfig{What: "connection without name"}
		}
		if names[conn.Name] {
			return ErrInvalidConfig{What: fmt.Sprintf("duplicate connection name %s", conn.Name)}
		}
		names[conn.Name] = true
		if _, err := conn.Options(); err != nil {
			return err
		}
		switch conn.StateBackend {
		case "", StateBackendFile, StateBackendBolt, StateBackendNone:
		default:
			return ErrInvalidConfig{What: fmt.Sprintf("%s: unknown state backend %q", conn.Name, conn.StateBackend)}
		}
		if len(conn.Quote) > 1 {
			return ErrInvalidConfig{What: fmt.Sprintf("%s: quote must be a single character", conn.Name)}
		}
	}
	return nil
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, ConfigFile)
}

func DefaultBoltPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, ConfigDir, DefaultBoltFile)
}

func NewDefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Name:           DefaultConnectionName,
		Address:        DefaultServerAddress,
		Resume:         true,
		Keepalive:      DefaultKeepalive,
		Timeout:        DefaultTimeout,
		ReconnectDelay: DefaultReconnectDelay,
		StateBackend:   DefaultStateBackend,
	}
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Api: &ApiConfig{
			Address: DefaultApiAddress,
			Port:    DefaultApiPort,
		},
		BoltPath:    DefaultBoltPath(),
		Connections: []*ConnectionConfig{},
		filepath:    DefaultConfigPath(),
	}
}

// ParseTime accepts the protocol format YYYY,MM,DD,hh,mm,ss and RFC 3339
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ErrInvalidConfig{What: fmt.Sprintf("time %q must be YYYY,MM,DD,hh,mm,ss or RFC 3339", s)}
	}
	return t.UTC(), nil
}

// Options converts the connection config to client options, the state store is
// chosen by the caller
func (cc *ConnectionConfig) Options() (seedlink.Options, error) {
	begin, err := ParseTime(cc.Begin)
	if err != nil {
		return seedlink.Options{}, err
	}
	end, err := ParseTime(cc.End)
	if err != nil {
		return seedlink.Options{}, err
	}
	if cc.Keepalive < 0 || cc.Timeout < 0 || cc.ReconnectDelay < 0 {
		return seedlink.Options{}, ErrInvalidConfig{What: fmt.Sprintf("%s: intervals must not be negative", cc.Name)}
	}
	if _, err := seedlink.NormalizeAddress(cc.Address); err != nil {
		return seedlink.Options{}, err
	}
	return seedlink.Options{
		Name:           cc.Name,
		Address:        cc.Address,
		Resume:         cc.Resume,
		DialUp:         cc.DialUp,
		Begin:          begin,
		End:            end,
		Keepalive:      time.Duration(cc.Keepalive) * time.Second,
		Timeout:        time.Duration(cc.Timeout) * time.Second,
		ReconnectDelay: time.Duration(cc.ReconnectDelay) * time.Second,
		SendLastTime:   cc.SendLastTime,
	}, nil
}

// Registry builds the channel registry from Streams and StreamFile
func (cc *ConnectionConfig) Registry() (*seedlink.Registry, error) {
	r := seedlink.NewRegistry()
	if len(cc.Streams) == 0 && cc.StreamFile == "" {
		if err := r.SetUniChannel(cc.Selectors, -1, time.Time{}); err != nil {
			return nil, err
		}
		return r, nil
	}
	if len(cc.Streams) > 0 {
		if _, err := r.LoadFromSelectorList(strings.Join(cc.Streams, "\n"), cc.Selectors); err != nil {
			return nil, err
		}
	}
	if cc.StreamFile != "" {
		if _, err := r.LoadStreamFile(cc.StreamFile, cc.Selectors); err != nil {
			return nil, err
		}
	}
	if r.Len() == 0 {
		return nil, seedlink.ConfigError{What: fmt.Sprintf("%s: no valid streams", cc.Name)}
	}
	return r, nil
}

// QuoteChar returns the state file quote character
func (cc *ConnectionConfig) QuoteChar() byte {
	if cc.Quote == "" {
		return seedlink.DefaultQuote
	}
	return cc.Quote[0]
}
