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
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jinr.ru/greenlab/go-slink/pkg/layers"
)

const defaultHello = "SeedLink v3.1 (2024.001 test) :: SLPROTO:3.1 CAP\r\nTest Organization\r\n"

// fakeServer answers SeedLink commands: HELLO with the banner, END and INFO with
// nothing and every other command with OK unless a reply is configured
type fakeServer struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	hello    string
	commands []string
	replies  map[string]string
	hooks    map[string]func(net.Conn)

	closed chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{
		t:       t,
		ln:      ln,
		hello:   defaultHello,
		replies: make(map[string]string),
		hooks:   make(map[string]func(net.Conn)),
		closed:  make(chan struct{}, 16),
	}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *fakeServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *fakeServer) SetHello(hello string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hello = hello
}

// Reply overrides the response to commands starting with prefix
func (s *fakeServer) Reply(prefix, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[prefix] = response
}

// After runs hook once a command starting with prefix has been answered
func (s *fakeServer) After(prefix string, hook func(net.Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[prefix] = hook
}

func (s *fakeServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *fakeServer) Count(cmd string) int {
	n := 0
	for _, c := range s.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\r')
		if err != nil {
			select {
			case s.closed <- struct{}{}:
			default:
			}
			return
		}
		cmd := strings.TrimSpace(line)

		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		reply, hook := s.lookup(cmd)
		s.mu.Unlock()

		if reply != "" {
			conn.Write([]byte(reply))
		}
		if hook != nil {
			hook(conn)
		}
	}
}

func (s *fakeServer) lookup(cmd string) (string, func(net.Conn)) {
	var hook func(net.Conn)
	for prefix, h := range s.hooks {
		if strings.HasPrefix(cmd, prefix) {
			hook = h
		}
	}
	for prefix, r := range s.replies {
		if strings.HasPrefix(cmd, prefix) {
			return r, hook
		}
	}
	switch {
	case cmd == "HELLO":
		return s.hello, hook
	case cmd == "END", strings.HasPrefix(cmd, "INFO"):
		return "", hook
	}
	return "OK\r\n", hook
}

func writeFrames(t *testing.T, conn net.Conn, frames ...[]byte) {
	for _, f := range frames {
		_, err := conn.Write(f)
		if err != nil {
			t.Logf("write frame: %s", err)
			return
		}
	}
}

func dataFrame(t *testing.T, seq int64, network, station string, start time.Time) []byte {
	f, err := layers.DataFrame(seq, network, station, "BHZ", start)
	require.NoError(t, err)
	return f
}

func infoFrame(t *testing.T, text string, more bool) []byte {
	f, err := layers.InfoFrame(text, more)
	require.NoError(t, err)
	return f
}

// fakeClock advances only when the connection sleeps or the test says so
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestConnection(t *testing.T, r *Registry, opts Options, clock *fakeClock) *Connection {
	c, err := NewConnection(r, opts)
	require.NoError(t, err)
	c.now = clock.Now
	c.sleep = clock.Sleep
	t.Cleanup(func() {
		c.terminating.Store(true)
		c.finalize()
	})
	return c
}

// countingStore counts saves and keeps the seq of the last saved snapshot
type countingStore struct {
	mu    sync.Mutex
	saves int
	last  []Subscription
}

func (s *countingStore) Save(r *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = r.Snapshot()
	return nil
}

func (s *countingStore) Recover(r *Registry) (int, error) {
	return 0, nil
}

func (s *countingStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
