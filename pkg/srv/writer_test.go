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

package srv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-slink/pkg/layers"
	"jinr.ru/greenlab/go-slink/pkg/seedlink"
	"jinr.ru/greenlab/go-slink/pkg/seedlink/seedlinktest"
)

func TestWriterKeepsRecordsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.mseed")
	w, err := NewWriter(path)
	require.NoError(t, err)

	raw := seedlinktest.DataFrame(t, 1, "IU", "KONO", time.Now())
	require.NoError(t, w.WriteFrame(&seedlink.Frame{Kind: seedlink.KindData, Raw: raw}))
	require.NoError(t, w.WriteFrame(&seedlink.Frame{Kind: seedlink.KindInfoFinal, Info: "<seedlink/>"}))
	require.NoError(t, w.WriteFrame(&seedlink.Frame{Kind: seedlink.KindData, Raw: raw}))
	w.Flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 2*layers.RecordSize)
	assert.Equal(t, raw[layers.HeaderSize:], data[:layers.RecordSize])

	// a second writer appends
	w, err = NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(&seedlink.Frame{Kind: seedlink.KindData, Raw: raw}))
	w.Flush()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3*layers.RecordSize), info.Size())
}
