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

package state

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-slink/cmd/flags"
	"jinr.ru/greenlab/go-slink/pkg/command"
	"jinr.ru/greenlab/go-slink/pkg/config"
)

func NewCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the saved stream state",
	}
	cmd.AddCommand(NewShowCommand(cfg))
	return cmd
}

func NewShowCommand(cfg *config.Config) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved sequence number and time of every channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := &flags.Connection{Name: name}
			cc, err := conn.SelectOne(cfg)
			if err != nil {
				return err
			}
			subs, err := command.LoadState(cfg, cc)
			if err != nil {
				return err
			}
			for _, sub := range subs {
				seq, ts := "-", "-"
				if sub.Seq >= 0 {
					seq = fmt.Sprintf("%06X", sub.Seq)
				}
				if !sub.Timestamp.IsZero() {
					ts = sub.Timestamp.UTC().Format(time.RFC3339)
				}
				cmd.Printf("%-2s %-5s %s %s\n", sub.Key.Network(), sub.Key.Station(), seq, ts)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, flags.ConnectionOptionName, "", "Name of a configured connection")
	return cmd
}
