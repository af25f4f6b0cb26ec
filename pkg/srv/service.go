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
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-slink/pkg/config"
	"jinr.ru/greenlab/go-slink/pkg/log"
	"jinr.ru/greenlab/go-slink/pkg/seedlink"
)

// FrameHandler receives the data frames and the INFO responses of a connection.
// The frame is only valid until the handler returns.
type FrameHandler func(connName string, f *seedlink.Frame) error

// InfoResponse is the last INFO response of a connection, Count grows with
// every response
type InfoResponse struct {
	Count int    `json:"count"`
	Text  string `json:"text"`
}

// Service runs all configured connections in parallel and serves the control API
type Service struct {
	context.Context
	*config.Config
	conns   []*seedlink.Connection
	byName  map[string]*seedlink.Connection
	bolt    *BoltStore
	api     *ApiServer
	handler FrameHandler

	infoMu sync.Mutex
	info   map[string]*InfoResponse
}

// NewService creates the connections and recovers their state, it does not connect
func NewService(ctx context.Context, cfg *config.Config, handler FrameHandler) (*Service, error) {
	s := &Service{
		Context: ctx,
		Config:  cfg,
		byName:  make(map[string]*seedlink.Connection),
		handler: handler,
		info:    make(map[string]*InfoResponse),
	}

	for _, cc := range cfg.Connections {
		conn, err := s.newConnection(cc)
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "connection %s", cc.Name)
		}
		s.conns = append(s.conns, conn)
		s.byName[cc.Name] = conn
	}

	api, err := NewApiServer(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.api = api
	return s, nil
}

func (s *Service) newConnection(cc *config.ConnectionConfig) (*seedlink.Connection, error) {
	registry, err := cc.Registry()
	if err != nil {
		return nil, err
	}
	opts, err := cc.Options()
	if err != nil {
		return nil, err
	}
	opts.StateStore, err = s.stateStore(cc)
	if err != nil {
		return nil, err
	}
	if opts.StateStore != nil {
		if _, err := opts.StateStore.Recover(registry); err != nil {
			var noBucket ErrBucketNotFound
			if errors.Is(err, os.ErrNotExist) || errors.As(err, &noBucket) {
				log.Info("No saved state for connection %s", cc.Name)
			} else {
				log.Warning("Connection %s: %s", cc.Name, err)
			}
		}
	}
	return seedlink.NewConnection(registry, opts)
}

func (s *Service) stateStore(cc *config.ConnectionConfig) (seedlink.StateStore, error) {
	switch cc.StateBackend {
	case config.StateBackendNone:
		return nil, nil
	case config.StateBackendBolt:
		if s.bolt == nil {
			names := make([]string, 0, len(s.Config.Connections))
			for _, c := range s.Config.Connections {
				names = append(names, c.Name)
			}
			bolt, err := NewBoltStore(s.Config.BoltPath, names, false)
			if err != nil {
				return nil, err
			}
			s.bolt = bolt
		}
		return s.bolt.Store(cc.Name), nil
	default:
		if cc.StateFile == "" {
			return nil, nil
		}
		store := seedlink.NewFileStore(cc.StateFile)
		store.Quote = cc.QuoteChar()
		return store, nil
	}
}

// Run starts every connection and the API server and returns when all
// connections are finished, the context is cancelled or a connection fails
func (s *Service) Run() error {
	defer s.Close()

	errChan := make(chan error, len(s.conns)+1)
	var wg sync.WaitGroup
	for _, conn := range s.conns {
		wg.Add(1)
		go func(conn *seedlink.Connection) {
			defer wg.Done()
			err := conn.Run(s.Context, func(f *seedlink.Frame) error {
				return s.handle(conn.Name(), f)
			})
			if err != nil {
				errChan <- errors.Wrapf(err, "connection %s", conn.Name())
			}
		}(conn)
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	go func() {
		if err := s.api.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer s.api.Shutdown()

	select {
	case <-s.Context.Done():
		s.TerminateAll()
		<-finished
		return s.Context.Err()
	case err := <-errChan:
		s.TerminateAll()
		<-finished
		return err
	case <-finished:
		log.Info("All connections finished")
		return s.Context.Err()
	}
}

func (s *Service) handle(connName string, f *seedlink.Frame) error {
	if f.Kind == seedlink.KindInfoFinal {
		s.infoMu.Lock()
		resp, ok := s.info[connName]
		if !ok {
			resp = &InfoResponse{}
			s.info[connName] = resp
		}
		resp.Count++
		resp.Text = f.Info
		s.infoMu.Unlock()
	}
	if s.handler == nil {
		return nil
	}
	return s.handler(connName, f)
}

// Close releases the state database, connections are not touched
func (s *Service) Close() {
	if s.bolt != nil {
		if err := s.bolt.Close(); err != nil {
			log.Error("Error while closing state database: %s", err)
		}
		s.bolt = nil
	}
}

func (s *Service) GetConnectionByName(name string) (*seedlink.Connection, error) {
	conn, ok := s.byName[name]
	if !ok {
		return nil, config.ErrConnectionNotFound{Name: name}
	}
	return conn, nil
}

func (s *Service) GetAllConnections() []*seedlink.Connection {
	return s.conns
}

// LastInfo returns the last INFO response received by the connection
func (s *Service) LastInfo(name string) (InfoResponse, error) {
	if _, err := s.GetConnectionByName(name); err != nil {
		return InfoResponse{}, err
	}
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	if resp, ok := s.info[name]; ok {
		return *resp, nil
	}
	return InfoResponse{}, nil
}

// TerminateAll asks every connection to terminate, all supervisors run in parallel
func (s *Service) TerminateAll() {
	for _, conn := range s.conns {
		conn.Terminate()
	}
}
