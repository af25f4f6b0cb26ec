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

package command

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-slink/pkg/config"
	"jinr.ru/greenlab/go-slink/pkg/layers"
	"jinr.ru/greenlab/go-slink/pkg/seedlink"
	"jinr.ru/greenlab/go-slink/pkg/seedlink/seedlinktest"
	"jinr.ru/greenlab/go-slink/pkg/srv"
)

func TestQueryInfo(t *testing.T) {
	server := seedlinktest.NewServer(t)
	server.SetInfo("STATIONS",
		seedlinktest.InfoFrame(t, "<seedlink>", true),
		seedlinktest.InfoFrame(t, "<station name=\"KONO\"/></seedlink>", false))
	cc := &config.ConnectionConfig{Name: "q", Address: server.Addr()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	text, err := QueryInfo(ctx, cc, "stations")
	require.NoError(t, err)
	assert.Equal(t, "<seedlink><station name=\"KONO\"/></seedlink>", text)
	assert.Equal(t, []string{"HELLO", "INFO STATIONS"}, server.Commands())

	_, err = QueryInfo(ctx, cc, "everything")
	var cfgErr seedlink.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestStartServiceDump(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	server := seedlinktest.NewServer(t)
	server.SetFrames(
		seedlinktest.DataFrame(t, 1, "IU", "KONO", start),
		seedlinktest.DataFrame(t, 2, "IU", "KONO", start),
		seedlinktest.End())

	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.SetPath(filepath.Join(dir, "config"))
	cfg.Api.Port = 0
	cfg.Connections = []*config.ConnectionConfig{{
		Name:         "archive",
		Address:      server.Addr(),
		DialUp:       true,
		StateBackend: config.StateBackendNone,
	}}

	var out bytes.Buffer
	dump := filepath.Join(dir, "dump.mseed")
	require.NoError(t, StartService(context.Background(), cfg, StreamOptions{DumpPath: dump, Out: &out}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "archive 000001 IU_KONO__BHZ 2024-05-01T00:00:00Z", lines[0])
	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Len(t, data, 2*layers.RecordSize)

	cfg.Connections = nil
	assert.Error(t, StartService(context.Background(), cfg, StreamOptions{}))
}

func TestLoadState(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.BoltPath = filepath.Join(dir, "state.db")
	fileConn := &config.ConnectionConfig{
		Name:      "file",
		Address:   "localhost",
		Streams:   []string{"IU KONO", "GE WLF"},
		StateFile: filepath.Join(dir, "file.state"),
		Quote:     "'",
	}
	boltConn := &config.ConnectionConfig{
		Name:         "bolt",
		Address:      "localhost",
		StateBackend: config.StateBackendBolt,
	}
	cfg.Connections = []*config.ConnectionConfig{fileConn, boltConn}

	r, err := fileConn.Registry()
	require.NoError(t, err)
	r.OnRecordDelivered(seedlink.NewChannelKey("IU", "KONO"), 42, time.Time{})
	store := seedlink.NewFileStore(fileConn.StateFile)
	store.Quote = '\''
	require.NoError(t, store.Save(r))

	subs, err := LoadState(cfg, fileConn)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "GE_WLF", subs[0].Key.String())
	assert.Equal(t, int64(-1), subs[0].Seq)
	assert.Equal(t, int64(42), subs[1].Seq)

	bolt, err := srv.NewBoltStore(cfg.BoltPath, []string{"bolt"}, false)
	require.NoError(t, err)
	r, err = boltConn.Registry()
	require.NoError(t, err)
	r.OnRecordDelivered(seedlink.NewChannelKey("IU", "KONO"), 7, time.Time{})
	require.NoError(t, bolt.Save("bolt", r))
	require.NoError(t, bolt.Close())

	subs, err = LoadState(cfg, boltConn)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, seedlink.UniKey, subs[0].Key)
	assert.Equal(t, int64(7), subs[0].Seq)

	_, err = LoadState(cfg, &config.ConnectionConfig{Name: "none", Address: "localhost", StateBackend: config.StateBackendNone})
	assert.Error(t, err)
}
