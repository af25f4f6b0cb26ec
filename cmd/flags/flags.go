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

package flags

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-slink/pkg/config"
)

const (
	ConnectionOptionName     = "connection"
	AddressOptionName        = "address"
	StreamsOptionName        = "streams"
	StreamFileOptionName     = "stream-file"
	SelectorsOptionName      = "selectors"
	DialUpOptionName         = "dialup"
	BeginOptionName          = "begin"
	EndOptionName            = "end"
	StateFileOptionName      = "state-file"
	KeepaliveOptionName      = "keepalive"
	TimeoutOptionName        = "timeout"
	ReconnectDelayOptionName = "delay"
	SendLastTimeOptionName   = "send-last-time"

	AdHocConnectionName = "cli"
)

// Connection selects a configured connection or describes an ad hoc one
type Connection struct {
	Name           string
	Address        string
	Streams        string
	StreamFile     string
	Selectors      string
	DialUp         bool
	Begin          string
	End            string
	StateFile      string
	Keepalive      int
	Timeout        int
	ReconnectDelay int
	SendLastTime   bool

	streamFlags bool
}

// AddSelectFlags adds the flags choosing a connection: a configured one by name
// or a server address
func (f *Connection) AddSelectFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Name, ConnectionOptionName, "", "Name of a configured connection")
	cmd.Flags().StringVar(&f.Address, AddressOptionName, "",
		fmt.Sprintf("Server address [host][:port]. E.g. %s", config.DefaultServerAddress))
}

// AddStreamFlags adds the flags of an ad hoc streaming connection
func (f *Connection) AddStreamFlags(cmd *cobra.Command) {
	f.AddSelectFlags(cmd)
	f.streamFlags = true
	cmd.Flags().StringVarP(&f.Streams, StreamsOptionName, "S", "",
		"Comma separated NET_STA[:selectors] list. E.g. IU_KONO:BHZ,GE_WLF")
	cmd.Flags().StringVar(&f.StreamFile, StreamFileOptionName, "", "File with one 'NET STA [selectors]' per line")
	cmd.Flags().StringVarP(&f.Selectors, SelectorsOptionName, "s", "", "Default selectors. E.g. 'BH? HH?'")
	cmd.Flags().BoolVar(&f.DialUp, DialUpOptionName, false, "Fetch the buffered data and stop")
	cmd.Flags().StringVar(&f.Begin, BeginOptionName, "", "Begin of the time window, YYYY,MM,DD,hh,mm,ss or RFC 3339")
	cmd.Flags().StringVar(&f.End, EndOptionName, "", "End of the time window, YYYY,MM,DD,hh,mm,ss or RFC 3339")
	cmd.Flags().StringVar(&f.StateFile, StateFileOptionName, "", "File to save and recover the stream state")
	cmd.Flags().IntVar(&f.Keepalive, KeepaliveOptionName, config.DefaultKeepalive, "Keepalive interval in seconds, 0 disables it")
	cmd.Flags().IntVar(&f.Timeout, TimeoutOptionName, config.DefaultTimeout, "Network timeout in seconds, 0 disables it")
	cmd.Flags().IntVar(&f.ReconnectDelay, ReconnectDelayOptionName, config.DefaultReconnectDelay, "Reconnect delay in seconds")
	cmd.Flags().BoolVar(&f.SendLastTime, SendLastTimeOptionName, false, "Send the last record time when resuming")
}

// Select returns the connections to run: the ad hoc one when an address is
// given, the named one or all configured connections otherwise
func (f *Connection) Select(cfg *config.Config) ([]*config.ConnectionConfig, error) {
	if f.Address != "" {
		cc := config.NewDefaultConnectionConfig()
		cc.Name = AdHocConnectionName
		if f.Name != "" {
			cc.Name = f.Name
		}
		cc.Address = f.Address
		if f.streamFlags {
			f.applyStreamFlags(cc)
		}
		if _, err := cc.Options(); err != nil {
			return nil, err
		}
		return []*config.ConnectionConfig{cc}, nil
	}
	if f.Name != "" {
		cc, err := cfg.GetConnectionByName(f.Name)
		if err != nil {
			return nil, err
		}
		return []*config.ConnectionConfig{cc}, nil
	}
	if len(cfg.Connections) == 0 {
		return nil, config.ErrInvalidConfig{What: fmt.Sprintf("no connections in %s, use --%s", cfg.Path(), AddressOptionName)}
	}
	return cfg.Connections, nil
}

func (f *Connection) applyStreamFlags(cc *config.ConnectionConfig) {
	if f.Streams != "" {
		cc.Streams = strings.Split(f.Streams, ",")
	}
	cc.StreamFile = f.StreamFile
	cc.Selectors = f.Selectors
	cc.DialUp = f.DialUp
	cc.Begin = f.Begin
	cc.End = f.End
	cc.StateFile = f.StateFile
	cc.Keepalive = f.Keepalive
	cc.Timeout = f.Timeout
	cc.ReconnectDelay = f.ReconnectDelay
	cc.SendLastTime = f.SendLastTime
}

// SelectOne is Select for the commands working with a single connection
func (f *Connection) SelectOne(cfg *config.Config) (*config.ConnectionConfig, error) {
	conns, err := f.Select(cfg)
	if err != nil {
		return nil, err
	}
	if len(conns) > 1 {
		return nil, config.ErrInvalidConfig{What: fmt.Sprintf("%d connections configured, use --%s", len(conns), ConnectionOptionName)}
	}
	return conns[0], nil
}
