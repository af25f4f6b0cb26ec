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
	"fmt"
	"net/url"
	"strings"

	"github.com/imroc/req"
	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-slink/pkg/config"
	"jinr.ru/greenlab/go-slink/pkg/srv"
)

// ApiClient talks to the control API of a running stream service
type ApiClient struct {
	*config.Config
	ApiPrefix string
}

func NewApiClient(cfg *config.Config) *ApiClient {
	return &ApiClient{
		Config:    cfg,
		ApiPrefix: fmt.Sprintf("http://%s/api", cfg.ApiAddress()),
	}
}

func (c *ApiClient) connectionUrl(name string, parts ...string) string {
	u := fmt.Sprintf("%s/connections/%s", c.ApiPrefix, url.PathEscape(name))
	if len(parts) > 0 {
		u += "/" + strings.Join(parts, "/")
	}
	return u
}

// responseError turns a non 200 response into an error carrying the response body
func responseError(r *req.Resp) error {
	if r.Response().StatusCode == 200 {
		return nil
	}
	if body := strings.TrimSpace(r.String()); body != "" {
		return errors.Errorf("%s: %s", r.Response().Status, body)
	}
	return errors.New(r.Response().Status)
}

// Connections sends request to get the status of all connections
func (c *ApiClient) Connections() ([]srv.ConnectionStatus, error) {
	r, err := req.Get(fmt.Sprintf("%s/connections", c.ApiPrefix))
	if err != nil {
		return nil, err
	}
	if err := responseError(r); err != nil {
		return nil, err
	}
	var statuses []srv.ConnectionStatus
	if err := r.ToJSON(&statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Streams sends request to get the checkpoints of the channels of a connection
func (c *ApiClient) Streams(name string) ([]srv.StreamState, error) {
	r, err := req.Get(c.connectionUrl(name, "streams"))
	if err != nil {
		return nil, err
	}
	if err := responseError(r); err != nil {
		return nil, err
	}
	var streams []srv.StreamState
	if err := r.ToJSON(&streams); err != nil {
		return nil, err
	}
	return streams, nil
}

// RequestInfo sends request to queue an INFO request on a connection
func (c *ApiClient) RequestInfo(name, level string) error {
	r, err := req.Post(c.connectionUrl(name, "info"), req.BodyJSON(&srv.InfoRequest{Level: level}))
	if err != nil {
		return err
	}
	return responseError(r)
}

// LastInfo sends request to get the last INFO response of a connection
func (c *ApiClient) LastInfo(name string) (*srv.InfoResponse, error) {
	r, err := req.Get(c.connectionUrl(name, "info"))
	if err != nil {
		return nil, err
	}
	if err := responseError(r); err != nil {
		return nil, err
	}
	resp := &srv.InfoResponse{}
	if err := r.ToJSON(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Terminate sends request to terminate a connection
func (c *ApiClient) Terminate(name string) error {
	r, err := req.Post(c.connectionUrl(name, "terminate"))
	if err != nil {
		return err
	}
	return responseError(r)
}
