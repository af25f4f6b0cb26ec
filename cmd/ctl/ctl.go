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

package ctl

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-slink/pkg/command"
	"jinr.ru/greenlab/go-slink/pkg/config"
)

const (
	ConnectionOptionName = "connection"
	WaitOptionName       = "wait"
	infoPoll             = 200 * time.Millisecond
)

// NewCommand creates the commands talking to a running stream service
func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running stream service",
	}
	cmd.AddCommand(NewStatusCommand(cfg))
	cmd.AddCommand(NewStreamsCommand(cfg))
	cmd.AddCommand(NewInfoCommand(cfg))
	cmd.AddCommand(NewTerminateCommand(cfg))
	return cmd
}

func NewStatusCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of all connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			statuses, err := apiClient.Connections()
			if err != nil {
				return err
			}
			for _, st := range statuses {
				state := st.Phase
				if st.Terminating {
					state += " (terminating)"
				}
				cmd.Printf("%s %s %s server: %s %.2f connects: %d records: %d dropped: %d bytes: %d streams: %d\n",
					st.Name, st.Address, state, st.ServerID, st.ServerVersion,
					st.Connects, st.Records, st.Dropped, st.Bytes, st.Streams)
			}
			return nil
		},
	}
	return cmd
}

func NewStreamsCommand(cfg *config.Config) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "Print the channels of a connection with their last sequence numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			streams, err := apiClient.Streams(name)
			if err != nil {
				return err
			}
			for _, st := range streams {
				seq := "-"
				if st.Seq >= 0 {
					seq = fmt.Sprintf("%06X", st.Seq)
				}
				cmd.Printf("%-2s %-5s %s %s [%s]\n", st.Network, st.Station, seq, st.Timestamp, st.Selectors)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, ConnectionOptionName, "", "Connection name")
	cmd.MarkFlagRequired(ConnectionOptionName)
	return cmd
}

func NewInfoCommand(cfg *config.Config) *cobra.Command {
	var name string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "info LEVEL",
		Short: "Request INFO on a running connection and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			before, err := apiClient.LastInfo(name)
			if err != nil {
				return err
			}
			if err := apiClient.RequestInfo(name, args[0]); err != nil {
				return err
			}
			deadline := time.Now().Add(wait)
			for time.Now().Before(deadline) {
				time.Sleep(infoPoll)
				resp, err := apiClient.LastInfo(name)
				if err != nil {
					return err
				}
				if resp.Count > before.Count {
					cmd.Println(resp.Text)
					return nil
				}
			}
			return errors.Errorf("no INFO response from %s within %s", name, wait)
		},
	}
	cmd.Flags().StringVar(&name, ConnectionOptionName, "", "Connection name")
	cmd.MarkFlagRequired(ConnectionOptionName)
	cmd.Flags().DurationVar(&wait, WaitOptionName, time.Minute, "How long to wait for the response")
	return cmd
}

func NewTerminateCommand(cfg *config.Config) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "terminate",
		Short: "Terminate a connection, its state is saved",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient := command.NewApiClient(cfg)
			return apiClient.Terminate(name)
		},
	}
	cmd.Flags().StringVar(&name, ConnectionOptionName, "", "Connection name")
	cmd.MarkFlagRequired(ConnectionOptionName)
	return cmd
}
