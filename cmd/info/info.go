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

package info

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-slink/cmd/flags"
	"jinr.ru/greenlab/go-slink/pkg/command"
	"jinr.ru/greenlab/go-slink/pkg/config"
	"jinr.ru/greenlab/go-slink/pkg/seedlink"
)

const (
	WaitOptionName = "wait"
	defaultWait    = 60 * time.Second
)

func NewCommand(cfg *config.Config) *cobra.Command {
	var wait time.Duration
	conn := &flags.Connection{}
	cmd := &cobra.Command{
		Use:       "info LEVEL",
		Short:     "Print an INFO response of a server",
		Long:      fmt.Sprintf("Connect, request INFO LEVEL and print the XML response. LEVEL is one of %s.", strings.Join(seedlink.InfoLevels, ", ")),
		Args:      cobra.ExactArgs(1),
		ValidArgs: seedlink.InfoLevels,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := conn.SelectOne(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()
			text, err := command.QueryInfo(ctx, cc, args[0])
			if err != nil {
				return err
			}
			cmd.Println(text)
			return nil
		},
	}
	conn.AddSelectFlags(cmd)
	cmd.Flags().DurationVar(&wait, WaitOptionName, defaultWait, "How long to wait for the response")
	return cmd
}
