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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-slink/pkg/seedlink"
)

const sampleConfig = `
logLevel: debug
api:
  address: 0.0.0.0
  port: 9000
boltPath: /tmp/slink.db
connections:
- name: geofon
  address: geofon.gfz-potsdam.de
  streams:
  - GE WLF BHZ
  - GE_APE:HHZ,IU_KONO
  selectors: LHZ
  resume: true
  keepalive: 30
  timeout: 120
  reconnectDelay: 10
  stateFile: /tmp/geofon.state
- name: archive
  address: ":18001"
  dialup: true
  begin: "2024,01,01,00,00,00"
  end: "2024-01-02T00:00:00Z"
  stateBackend: bolt
`

func TestPersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigDir, ConfigFile)
	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	cfg.Connections = append(cfg.Connections, NewDefaultConnectionConfig())
	require.NoError(t, cfg.Persist(false))

	err := cfg.Persist(false)
	var exists ErrConfigFileExists
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, path, exists.Path)
	require.NoError(t, cfg.Persist(true))

	loaded := NewDefaultConfig()
	loaded.SetPath(path)
	require.NoError(t, loaded.Load())
	require.Len(t, loaded.Connections, 1)
	assert.Equal(t, DefaultServerAddress, loaded.Connections[0].Address)
	assert.Equal(t, DefaultTimeout, loaded.Connections[0].Timeout)
	assert.Equal(t, "127.0.0.1:8003", loaded.ApiAddress())
}

func TestLoadMissingKeepsDefaults(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, cfg.Load())
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestConnectionOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))
	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	require.NoError(t, cfg.Load())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0.0.0.0:9000", cfg.ApiAddress())

	geofon, err := cfg.GetConnectionByName("geofon")
	require.NoError(t, err)
	opts, err := geofon.Options()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.Keepalive)
	assert.Equal(t, 120*time.Second, opts.Timeout)
	assert.Equal(t, 10*time.Second, opts.ReconnectDelay)
	assert.True(t, opts.Resume)

	r, err := geofon.Registry()
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	s, ok := r.Get(seedlink.NewChannelKey("IU", "KONO"))
	require.True(t, ok)
	assert.Equal(t, "LHZ", s.Selectors)

	archive, err := cfg.GetConnectionByName("archive")
	require.NoError(t, err)
	opts, err = archive.Options()
	require.NoError(t, err)
	assert.True(t, opts.DialUp)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), opts.Begin)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), opts.End)

	r, err = archive.Registry()
	require.NoError(t, err)
	assert.True(t, r.UniChannel())

	_, err = cfg.GetConnectionByName("nope")
	var notFound ErrConnectionNotFound
	assert.True(t, errors.As(err, &notFound))
}

func TestLoadFillsConnectionDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	data := `
connections:
- name: minimal
  address: geofon.gfz-potsdam.de
  streams:
  - GE WLF
- name: oneshot
  resume: false
  timeout: 0
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	cfg := NewDefaultConfig()
	cfg.SetPath(path)
	require.NoError(t, cfg.Load())
	require.Len(t, cfg.Connections, 2)

	minimal, err := cfg.GetConnectionByName("minimal")
	require.NoError(t, err)
	assert.Equal(t, StateBackendFile, minimal.StateBackend)
	opts, err := minimal.Options()
	require.NoError(t, err)
	assert.True(t, opts.Resume)
	assert.Equal(t, DefaultTimeout*time.Second, opts.Timeout)
	assert.Equal(t, DefaultReconnectDelay*time.Second, opts.ReconnectDelay)

	oneshot, err := cfg.GetConnectionByName("oneshot")
	require.NoError(t, err)
	assert.Equal(t, DefaultServerAddress, oneshot.Address)
	assert.False(t, oneshot.Resume)
	assert.Equal(t, 0, oneshot.Timeout)
	assert.Equal(t, DefaultReconnectDelay, oneshot.ReconnectDelay)

	require.NoError(t, os.WriteFile(path, []byte("connections:\n- address: host\n"), 0644))
	cfg = NewDefaultConfig()
	cfg.SetPath(path)
	assert.Error(t, cfg.Load())
}

func TestValidate(t *testing.T) {
	for name, cc := range map[string]*ConnectionConfig{
		"bad time":    {Name: "a", Address: "host", Begin: "yesterday"},
		"bad backend": {Name: "a", Address: "host", StateBackend: "redis"},
		"bad address": {Name: "a", Address: "a:b:c"},
		"bad quote":   {Name: "a", Address: "host", Quote: "''"},
		"negative":    {Name: "a", Address: "host", Timeout: -1},
		"no name":     {Address: "host"},
	} {
		cfg := NewDefaultConfig()
		cfg.Connections = []*ConnectionConfig{cc}
		assert.Error(t, cfg.Validate(), name)
	}

	cfg := NewDefaultConfig()
	cfg.Connections = []*ConnectionConfig{{Name: "a", Address: "h"}, {Name: "a", Address: "h"}}
	assert.Error(t, cfg.Validate())
}
