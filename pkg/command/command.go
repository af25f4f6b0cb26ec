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
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-slink/pkg/config"
	"jinr.ru/greenlab/go-slink/pkg/log"
	"jinr.ru/greenlab/go-slink/pkg/seedlink"
	"jinr.ru/greenlab/go-slink/pkg/srv"
)

// StreamOptions controls what the stream service does with the received frames
type StreamOptions struct {
	// DumpPath is the file the miniSEED records are appended to, empty disables it
	DumpPath string
	// Out receives one line per record and the INFO responses, nil disables it
	Out io.Writer
}

// StartService runs the configured connections until they finish or ctx is cancelled
func StartService(ctx context.Context, cfg *config.Config, opts StreamOptions) error {
	if len(cfg.Connections) == 0 {
		return config.ErrInvalidConfig{What: "no connections configured"}
	}

	var writer *srv.Writer
	if opts.DumpPath != "" {
		var err error
		writer, err = srv.NewWriter(opts.DumpPath)
		if err != nil {
			return err
		}
		defer writer.Flush()
		log.Info("Writing records to %s", opts.DumpPath)
	}

	s, err := srv.NewService(ctx, cfg, func(name string, f *seedlink.Frame) error {
		if opts.Out != nil {
			PrintFrame(opts.Out, name, f)
		}
		if writer != nil {
			return writer.WriteFrame(f)
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = s.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// PrintFrame writes a one line summary of a data frame or the text of an INFO response
func PrintFrame(out io.Writer, name string, f *seedlink.Frame) {
	switch f.Kind {
	case seedlink.KindData:
		fmt.Fprintf(out, "%s %06X %s %s\n", name, f.Seq(), f.Record.SourceName(),
			f.Record.StartTime.UTC().Format(time.RFC3339Nano))
	case seedlink.KindInfoFinal:
		fmt.Fprintln(out, f.Info)
	}
}

// QueryInfo connects, sends one INFO request and returns the whole response.
// The connection never enters the streaming phase.
func QueryInfo(ctx context.Context, cc *config.ConnectionConfig, level string) (string, error) {
	registry, err := cc.Registry()
	if err != nil {
		return "", err
	}
	opts, err := cc.Options()
	if err != nil {
		return "", err
	}
	opts.Keepalive = 0
	conn, err := seedlink.NewConnection(registry, opts)
	if err != nil {
		return "", err
	}
	if err := conn.RequestInfo(level); err != nil {
		return "", err
	}
	defer func() {
		conn.Terminate()
		conn.Collect(context.Background())
	}()

	for {
		f, err := conn.Collect(ctx)
		if err != nil {
			return "", err
		}
		if f.Kind == seedlink.KindInfoFinal {
			return f.Info, nil
		}
	}
}

// LoadState reads the saved checkpoints of a connection from its state backend
func LoadState(cfg *config.Config, cc *config.ConnectionConfig) ([]seedlink.Subscription, error) {
	registry, err := cc.Registry()
	if err != nil {
		return nil, err
	}
	switch cc.StateBackend {
	case config.StateBackendBolt:
		store, err := srv.NewBoltStore(cfg.BoltPath, nil, true)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if _, err := store.Recover(cc.Name, registry); err != nil {
			return nil, err
		}
	case config.StateBackendNone:
		return nil, config.ErrInvalidConfig{What: fmt.Sprintf("%s: state is not saved", cc.Name)}
	default:
		if cc.StateFile == "" {
			return nil, config.ErrInvalidConfig{What: fmt.Sprintf("%s: no state file", cc.Name)}
		}
		store := seedlink.NewFileStore(cc.StateFile)
		store.Quote = cc.QuoteChar()
		if _, err := store.Recover(registry); err != nil {
			return nil, err
		}
	}
	return registry.Snapshot(), nil
}
