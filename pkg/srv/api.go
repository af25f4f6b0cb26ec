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
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-slink/pkg/config"
	"jinr.ru/greenlab/go-slink/pkg/log"
	"jinr.ru/greenlab/go-slink/pkg/seedlink"
)

const (
	shutdownTimeout = 5 * time.Second
)

// ConnectionStatus ...
type ConnectionStatus struct {
	Name          string  `json:"name"`
	Address       string  `json:"address"`
	Phase         string  `json:"phase"`
	ServerID      string  `json:"serverId,omitempty"`
	ServerVersion float64 `json:"serverVersion,omitempty"`
	Organization  string  `json:"organization,omitempty"`
	Terminating   bool    `json:"terminating"`
	Connects      uint64  `json:"connects"`
	Records       uint64  `json:"records"`
	Dropped       uint64  `json:"dropped"`
	Bytes         uint64  `json:"bytes"`
	Streams       int     `json:"streams"`
}

// StreamState is the checkpoint of one channel
type StreamState struct {
	Network   string `json:"network"`
	Station   string `json:"station"`
	Selectors string `json:"selectors,omitempty"`
	Seq       int64  `json:"seq"`
	Timestamp string `json:"timestamp,omitempty"`
}

// InfoRequest ...
type InfoRequest struct {
	Level string `json:"level"`
}

func NewConnectionStatus(st seedlink.Status) ConnectionStatus {
	return ConnectionStatus{
		Name:          st.Name,
		Address:       st.Address,
		Phase:         st.Phase.String(),
		ServerID:      st.ServerID,
		ServerVersion: st.ServerVersion,
		Organization:  st.Organization,
		Terminating:   st.Terminating,
		Connects:      st.Connects,
		Records:       st.Records,
		Dropped:       st.Dropped,
		Bytes:         st.Bytes,
		Streams:       len(st.Streams),
	}
}

func NewStreamStates(subs []seedlink.Subscription) []StreamState {
	states := make([]StreamState, 0, len(subs))
	for _, sub := range subs {
		st := StreamState{
			Network:   sub.Key.Network(),
			Station:   sub.Key.Station(),
			Selectors: sub.Selectors,
			Seq:       sub.Seq,
		}
		if !sub.Timestamp.IsZero() {
			st.Timestamp = sub.Timestamp.UTC().Format(time.RFC3339)
		}
		states = append(states, st)
	}
	return states
}

type ApiServer struct {
	context.Context
	*config.Config
	*mux.Router
	svc        *Service
	httpServer *http.Server
	handler    http.Handler
	accessLog  *io.PipeWriter
}

func NewApiServer(ctx context.Context, cfg *config.Config, svc *Service) (*ApiServer, error) {
	log.Info("Initializing API server with address: %s", cfg.ApiAddress())

	s := &ApiServer{
		Context: ctx,
		Config:  cfg,
		svc:     svc,
	}
	s.configureRouter()
	s.accessLog = log.Writer()
	s.handler = handlers.LoggingHandler(s.accessLog, handlers.RecoveryHandler()(s.Router))
	s.httpServer = &http.Server{
		Handler: s.handler,
		Addr:    cfg.ApiAddress(),
	}
	return s, nil
}

// Handler returns the router wrapped with access logging and panic recovery
func (s *ApiServer) Handler() http.Handler {
	return s.handler
}

// Start
func (s *ApiServer) Run() error {
	log.Info("Starting API server: address: %s", s.Config.ApiAddress())
	return s.httpServer.ListenAndServe()
}

func (s *ApiServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error("Error while stopping API server: %s", err)
	}
	s.accessLog.Close()
}

func (s *ApiServer) configureRouter() {
	s.Router = mux.NewRouter()
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	subRouter.HandleFunc("/connections", s.handleConnections()).Methods("GET")
	subRouter.HandleFunc("/connections/{name}", s.handleConnection()).Methods("GET")
	subRouter.HandleFunc("/connections/{name}/streams", s.handleStreams()).Methods("GET")
	subRouter.HandleFunc("/connections/{name}/info", s.handleInfoRequest()).Methods("POST")
	subRouter.HandleFunc("/connections/{name}/info", s.handleInfoResponse()).Methods("GET")
	subRouter.HandleFunc("/connections/{name}/{action:terminate}", s.handleAction()).Methods("POST")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error while encoding response: %s", err)
	}
}

func (s *ApiServer) connection(w http.ResponseWriter, r *http.Request) (*seedlink.Connection, bool) {
	name := mux.Vars(r)["name"]
	conn, err := s.svc.GetConnectionByName(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return conn, true
}

func (s *ApiServer) handleConnections() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling connection list request")
		statuses := []ConnectionStatus{}
		for _, conn := range s.svc.GetAllConnections() {
			statuses = append(statuses, NewConnectionStatus(conn.Status()))
		}
		writeJSON(w, statuses)
	}
}

func (s *ApiServer) handleConnection() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, ok := s.connection(w, r)
		if !ok {
			return
		}
		writeJSON(w, NewConnectionStatus(conn.Status()))
	}
}

func (s *ApiServer) handleStreams() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, ok := s.connection(w, r)
		if !ok {
			return
		}
		log.Debug("Handling streams request: connection: %s", conn.Name())
		writeJSON(w, NewStreamStates(conn.Registry().Snapshot()))
	}
}

func (s *ApiServer) handleInfoRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, ok := s.connection(w, r)
		if !ok {
			return
		}
		infoReq := &InfoRequest{}
		if err := json.NewDecoder(r.Body).Decode(infoReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Debug("Handling INFO request: connection: %s level: %s", conn.Name(), infoReq.Level)

		err := conn.RequestInfo(infoReq.Level)
		var cfgErr seedlink.ConfigError
		switch {
		case err == nil:
		case errors.As(err, &cfgErr):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, seedlink.ErrRequestPending):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
	}
}

func (s *ApiServer) handleInfoResponse() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		resp, err := s.svc.LastInfo(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, resp)
	}
}

func (s *ApiServer) handleAction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, ok := s.connection(w, r)
		if !ok {
			return
		}
		action := mux.Vars(r)["action"]
		log.Debug("Handling action request: connection: %s action: %s", conn.Name(), action)
		switch action {
		case "terminate":
			conn.Terminate()
		default:
			err := ErrUnknownOperation{What: "action must be terminate"}
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
}
