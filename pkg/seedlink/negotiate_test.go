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

package seedlink

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestParseHello(t *testing.T) {
	id, v, err := parseHello("SeedLink v3.1 (2020.075 RingServer) :: SLPROTO:3.1 CAP")
	require.NoError(t, err)
	assert.Equal(t, "SeedLink", id)
	assert.Equal(t, 3.1, v)

	_, v, err = parseHello("SeedLink v2.93.1")
	require.NoError(t, err)
	assert.Equal(t, 2.93, v)

	_, _, err = parseHello("SeedLink")
	assert.Error(t, err)
	_, _, err = parseHello("SeedLink unknown")
	var protoErr ProtocolError
	assert.True(t, errors.As(err, &protoErr))
}

func TestNoSelectorsAccepted(t *testing.T) {
	srv := newFakeServer(t)
	srv.Reply("SELECT", "ERROR\r\n")

	r := NewRegistry()
	_, err := r.AddChannel("IU", "KONO", "BHZ HHZ", -1, time.Time{})
	require.NoError(t, err)
	c := newTestConnection(t, r, Options{Address: srv.Addr()}, newFakeClock())

	_, err = c.Collect(testContext(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTerminate))
	assert.True(t, errors.Is(err, ErrNoSelectorsAccepted))
	assert.Equal(t, Down, c.Phase())

	assert.Equal(t, []string{"HELLO", "STATION KONO IU", "SELECT BHZ", "SELECT HHZ"}, srv.Commands())
	for _, cmd := range srv.Commands() {
		assert.False(t, strings.HasPrefix(cmd, "DATA") || strings.HasPrefix(cmd, "FETCH") || strings.HasPrefix(cmd, "TIME"), cmd)
	}
}

func TestResumeSendsNextSequence(t *testing.T) {
	srv := newFakeServer(t)
	start := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	srv.After("END", func(conn net.Conn) {
		writeFrames(t, conn, dataFrame(t, 101, "IU", "KONO", start))
	})

	r := NewRegistry()
	_, err := r.AddChannel("IU", "KONO ", "", 100, start.Add(-time.Minute))
	require.NoError(t, err)
	c := newTestConnection(t, r, Options{Address: srv.Addr(), Resume: true}, newFakeClock())

	f, err := c.Collect(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, KindData, f.Kind)
	assert.Equal(t, int64(101), f.Seq())
	assert.Equal(t, "IU_KONO__BHZ", f.Record.SourceName())

	assert.Equal(t, []string{"HELLO", "STATION KONO IU", "DATA 65", "END"}, srv.Commands())
	s, _ := r.Get(NewChannelKey("IU", "KONO"))
	assert.Equal(t, int64(101), s.Seq)
	assert.True(t, start.Equal(s.Timestamp))
	assert.Equal(t, Streaming, c.Phase())
}

func TestUniChannelNegotiation(t *testing.T) {
	srv := newFakeServer(t)
	srv.After("DATA", func(conn net.Conn) {
		writeFrames(t, conn, dataFrame(t, 0xFFFFFF, "GE", "WLF", time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)))
	})

	r := NewRegistry()
	require.NoError(t, r.SetUniChannel("BHZ", 100, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	opts := Options{Address: srv.Addr(), Resume: true, SendLastTime: true}
	c := newTestConnection(t, r, opts, newFakeClock())

	f, err := c.Collect(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(0xFFFFFF), f.Seq())
	assert.Equal(t, []string{"HELLO", "SELECT BHZ", "DATA 65 2024,01,02,03,04,05"}, srv.Commands())

	s, _ := r.Get(UniKey)
	assert.Equal(t, int64(0xFFFFFF), s.Seq)
}

func TestDialUpSequenceRollover(t *testing.T) {
	srv := newFakeServer(t)
	r := NewRegistry()
	require.NoError(t, r.SetUniChannel("", 0xFFFFFF, time.Time{}))
	c := newTestConnection(t, r, Options{Address: srv.Addr(), Resume: true, DialUp: true}, newFakeClock())

	cmd, err := c.actionCommand(Subscription{Key: UniKey, Seq: 0xFFFFFF})
	require.NoError(t, err)
	assert.Equal(t, "FETCH 0", cmd)

	cmd, err = c.actionCommand(Subscription{Key: UniKey, Seq: -1})
	require.NoError(t, err)
	assert.Equal(t, "FETCH", cmd)
}

func TestMultiStationRequiresVersion(t *testing.T) {
	srv := newFakeServer(t)
	srv.SetHello("SeedLink v2.4\r\nOld server\r\n")

	r := NewRegistry()
	_, err := r.AddChannel("IU", "KONO", "", -1, time.Time{})
	require.NoError(t, err)
	c := newTestConnection(t, r, Options{Address: srv.Addr()}, newFakeClock())

	_, err = c.Collect(testContext(t))
	var versionErr VersionError
	require.True(t, errors.As(err, &versionErr))
	assert.Equal(t, 2.4, versionErr.Server)
	assert.Equal(t, []string{"HELLO"}, srv.Commands())
}

func TestTimeWindow(t *testing.T) {
	begin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := begin.Add(24 * time.Hour)

	t.Run("old server", func(t *testing.T) {
		srv := newFakeServer(t)
		srv.SetHello("SeedLink v2.91\r\nOld server\r\n")
		r := NewRegistry()
		require.NoError(t, r.SetUniChannel("", -1, time.Time{}))
		c := newTestConnection(t, r, Options{Address: srv.Addr(), Begin: begin}, newFakeClock())

		_, err := c.Collect(testContext(t))
		var versionErr VersionError
		require.True(t, errors.As(err, &versionErr))
		assert.Equal(t, "TIME", versionErr.Feature)
	})

	t.Run("window then END", func(t *testing.T) {
		srv := newFakeServer(t)
		srv.After("TIME", func(conn net.Conn) {
			writeFrames(t, conn, dataFrame(t, 7, "IU", "KONO", begin), []byte("END"))
		})
		r := NewRegistry()
		require.NoError(t, r.SetUniChannel("", -1, time.Time{}))
		c := newTestConnection(t, r, Options{Address: srv.Addr(), Begin: begin, End: end}, newFakeClock())

		f, err := c.Collect(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, int64(7), f.Seq())

		_, err = c.Collect(testContext(t))
		assert.True(t, errors.Is(err, ErrTerminate))
		assert.True(t, errors.Is(err, ErrEndOfStream))
		assert.Equal(t, []string{"HELLO", "TIME 2024,01,01,00,00,00 2024,01,02,00,00,00"}, srv.Commands())
	})
}

func TestStationRejected(t *testing.T) {
	srv := newFakeServer(t)
	srv.Reply("STATION KONO", "ERROR\r\n")
	srv.After("END", func(conn net.Conn) {
		writeFrames(t, conn, dataFrame(t, 1, "GE", "WLF", time.Now()))
	})

	r := NewRegistry()
	_, err := r.AddChannel("IU", "KONO", "", -1, time.Time{})
	require.NoError(t, err)
	_, err = r.AddChannel("GE", "WLF", "", -1, time.Time{})
	require.NoError(t, err)
	c := newTestConnection(t, r, Options{Address: srv.Addr()}, newFakeClock())

	_, err = c.Collect(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"HELLO", "STATION WLF GE", "DATA", "STATION KONO IU", "END"}, srv.Commands())
}

func TestNoStationsAccepted(t *testing.T) {
	srv := newFakeServer(t)
	srv.Reply("STATION", "ERROR\r\n")

	r := NewRegistry()
	_, err := r.AddChannel("IU", "KONO", "", -1, time.Time{})
	require.NoError(t, err)
	c := newTestConnection(t, r, Options{Address: srv.Addr()}, newFakeClock())

	_, err = c.Collect(testContext(t))
	assert.True(t, errors.Is(err, ErrNoChannelsAccepted))
	assert.Equal(t, 0, srv.Count("END"))
}

func TestRejectedAction(t *testing.T) {
	srv := newFakeServer(t)
	srv.Reply("DATA", "ERROR\r\n")

	r := NewRegistry()
	require.NoError(t, r.SetUniChannel("", -1, time.Time{}))
	c := newTestConnection(t, r, Options{Address: srv.Addr()}, newFakeClock())

	_, err := c.Collect(testContext(t))
	var rejected CommandRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "DATA", rejected.Command)
	assert.Equal(t, "ERROR", rejected.Response)
}

func TestBannerMismatch(t *testing.T) {
	srv := newFakeServer(t)
	srv.SetHello("OtherLink v3.1\r\nSomebody\r\n")

	r := NewRegistry()
	require.NoError(t, r.SetUniChannel("", -1, time.Time{}))
	c := newTestConnection(t, r, Options{Address: srv.Addr(), ReconnectDelay: time.Second}, newFakeClock())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := c.Collect(ctx)
	assert.True(t, errors.Is(err, ErrTerminate))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	assert.GreaterOrEqual(t, srv.Count("HELLO"), 1)
	assert.Equal(t, 0, srv.Count("DATA"))
	assert.Equal(t, "", c.Status().ServerID)
}

func TestLongSelectorSkipped(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("others accepted", func(t *testing.T) {
		srv := newFakeServer(t)
		srv.After("END", func(conn net.Conn) {
			writeFrames(t, conn, dataFrame(t, 1, "IU", "KONO", start))
		})
		r := NewRegistry()
		_, err := r.AddChannel("IU", "KONO", "TOOLONGSEL BHZ", -1, time.Time{})
		require.NoError(t, err)
		c := newTestConnection(t, r, Options{Address: srv.Addr()}, newFakeClock())

		_, err = c.Collect(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, []string{"HELLO", "STATION KONO IU", "SELECT BHZ", "DATA", "END"}, srv.Commands())
	})

	t.Run("only long selectors", func(t *testing.T) {
		srv := newFakeServer(t)
		r := NewRegistry()
		_, err := r.AddChannel("IU", "KONO", "TOOLONGSEL", -1, time.Time{})
		require.NoError(t, err)
		c := newTestConnection(t, r, Options{Address: srv.Addr()}, newFakeClock())

		_, err = c.Collect(testContext(t))
		assert.True(t, errors.Is(err, ErrNoSelectorsAccepted))
		assert.Equal(t, []string{"HELLO", "STATION KONO IU"}, srv.Commands())
	})
}

func TestResumeTimeNeedsVersion(t *testing.T) {
	srv := newFakeServer(t)
	srv.SetHello("SeedLink v2.92 (2004.001)\r\nOld server\r\n")
	srv.After("DATA", func(conn net.Conn) {
		writeFrames(t, conn, dataFrame(t, 101, "GE", "WLF", time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)))
	})

	r := NewRegistry()
	require.NoError(t, r.SetUniChannel("BHZ", 100, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	opts := Options{Address: srv.Addr(), Resume: true, SendLastTime: true}
	c := newTestConnection(t, r, opts, newFakeClock())

	f, err := c.Collect(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(101), f.Seq())
	assert.Equal(t, []string{"HELLO", "SELECT BHZ", "DATA 65"}, srv.Commands())
}
