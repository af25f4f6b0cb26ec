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

// Package seedlinktest provides a scripted SeedLink server for tests of
// packages built on top of the client
package seedlinktest

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

const DefaultHello = "SeedLink v3.1 (2024.001 test) :: SLPROTO:3.1\r\nTest Organization\r\n"

// Server answers HELLO, accepts every STATION, SELECT and action command and
// sends the configured frames once the data stream starts. In multi-station mode
// the stream starts after END, in uni-station mode after the action command.
type Server struct {
	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	hello    string
	frames   [][]byte
	info     map[string][][]byte
	commands []string
	conns    map[net.Conn]struct{}
}

func NewServer(t testing.TB) *Server {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &Server{
		listener: l,
		hello:    DefaultHello,
		info:     make(map[string][][]byte),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// SetFrames sets the frames sent when the data stream starts
func (s *Server) SetFrames(frames ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
}

// SetInfo sets the response frames of an INFO level
func (s *Server) SetInfo(level string, frames ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info[strings.ToUpper(level)] = frames
}

func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Close stops accepting and drops the open client connections
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	r := bufio.NewReader(conn)
	multi := false
	for {
		line, err := r.ReadString('\r')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		hello, frames := s.hello, s.frames
		s.mu.Unlock()

		verb := strings.Fields(cmd)[0]
		switch verb {
		case "HELLO":
			err = write(conn, []byte(hello))
		case "STATION":
			multi = true
			err = write(conn, []byte("OK\r\n"))
		case "DATA", "FETCH", "TIME":
			err = write(conn, []byte("OK\r\n"))
			if err == nil && !multi {
				err = write(conn, frames...)
			}
		case "END":
			err = write(conn, frames...)
		case "INFO":
			level := strings.TrimSpace(strings.TrimPrefix(cmd, "INFO"))
			s.mu.Lock()
			resp, ok := s.info[level]
			s.mu.Unlock()
			if !ok {
				resp = [][]byte{mustInfo("<seedlink/>", false)}
			}
			err = write(conn, resp...)
		default:
			err = write(conn, []byte("OK\r\n"))
		}
		if err != nil {
			return
		}
	}
}

func write(conn net.Conn, chunks ...[]byte) error {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	for _, c := range chunks {
		if _, err := conn.Write(c); err != nil {
			return err
		}
	}
	return nil
}

func mustInfo(text string, more bool) []byte {
	f, err := layers.InfoFrame(text, more)
	if err != nil {
		panic(err)
	}
	return f
}

// DataFrame builds a data frame with an empty payload
func DataFrame(t testing.TB, seq int64, network, station string, start time.Time) []byte {
	f, err := layers.DataFrame(seq, network, station, "BHZ", start)
	require.NoError(t, err)
	return f
}

// InfoFrame builds one frame of an INFO response
func InfoFrame(t testing.TB, text string, more bool) []byte {
	f, err := layers.InfoFrame(text, more)
	require.NoError(t, err)
	return f
}

// End is the end of stream marker
func End() []byte {
	return []byte("END")
}
