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

package stream

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jinr.ru/greenlab/go-slink/cmd/flags"
	"jinr.ru/greenlab/go-slink/pkg/command"
	"jinr.ru/greenlab/go-slink/pkg/config"
)

const (
	DumpOptionName  = "dump"
	PrintOptionName = "print"
)

const streamExample = `
Stream the configured connections and serve the control API
# go-slink stream

Stream two stations from a server and print one line per record
# go-slink stream --address rtserve.iris.washington.edu -S IU_KONO:BHZ,IU_ANMO --print

Fetch the buffered data of one station into a file and stop
# go-slink stream --address geofon.gfz-potsdam.de -S GE_WLF --dialup --dump wlf.mseed
`

func NewCommand(cfg *config.Config) *cobra.Command {
	var dumpPath string
	var printRecords bool
	conn := &flags.Connection{}
	cmd := &cobra.Command{
		Use:     "stream",
		Short:   "Collect data from SeedLink servers",
		Example: streamExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			conns, err := conn.Select(cfg)
			if err != nil {
				return err
			}
			cfg.Connections = conns

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := command.StreamOptions{DumpPath: dumpPath}
			if printRecords {
				opts.Out = cmd.OutOrStdout()
			}
			return command.StartService(ctx, cfg, opts)
		},
	}
	conn.AddStreamFlags(cmd)
	cmd.Flags().StringVar(&dumpPath, DumpOptionName, "", "Append the received miniSEED records to a file")
	cmd.Flags().BoolVar(&printRecords, PrintOptionName, false, "Print one line per received record")
	return cmd
}
