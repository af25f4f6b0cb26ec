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

package seedlink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-slink/pkg/log"
)

const (
	DefaultQuote = '"'
	// StateTimeLayout is year, day of year, hour, minute, second
	StateTimeLayout = "2006,002,15,04,05"
	// legacyStateTimeLayout is year, month, day, hour, minute, second
	legacyStateTimeLayout = "2006,01,02,15,04,05"
)

// StateStore saves and recovers the sequence numbers and timestamps of a registry
type StateStore interface {
	Save(r *Registry) error
	// Recover overwrites seq and timestamp of the channels already in the registry
	// and returns the number of restored channels
	Recover(r *Registry) (int, error)
}

// FileStore keeps the state in a line oriented text file, one channel per line:
//
//	NN "SSSSS" seq "YYYY,DDD,HH,MM,SS"
type FileStore struct {
	Path  string
	Quote byte
}

var _ StateStore = &FileStore{}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path, Quote: DefaultQuote}
}

func (s *FileStore) quote() byte {
	if s.Quote == 0 {
		return DefaultQuote
	}
	return s.Quote
}

// Save writes the whole state to a temporary file and renames it over the state file
func (s *FileStore) Save(r *Registry) error {
	q := string(s.quote())
	var buf bytes.Buffer
	for _, sub := range r.Snapshot() {
		ts := ""
		if !sub.Timestamp.IsZero() {
			ts = sub.Timestamp.UTC().Format(StateTimeLayout)
		}
		fmt.Fprintf(&buf, "%s %s%s%s %d %s%s%s\n",
			sub.Key.Network(), q, string(sub.Key[NetworkLen:]), q, sub.Seq, q, ts, q)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp*")
	if err != nil {
		return PersistError{Path: s.Path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(buf.Bytes()); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, s.Path)
	}
	if err != nil {
		os.Remove(tmpName)
		return PersistError{Path: s.Path, Err: err}
	}
	log.Debug("State saved to %s", s.Path)
	return nil
}

func (s *FileStore) Recover(r *Registry) (int, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, PersistError{Path: s.Path, Err: err}
	}

	restored := 0
	for lineNum, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] == '#' || trimmed[0] == '*' {
			continue
		}
		tokens := tokenize(line, s.quote())
		if len(tokens) < 3 {
			log.Warning("State file %s line %d: malformed, skipping", s.Path, lineNum+1)
			continue
		}
		seq, err := strconv.ParseInt(tokens[2], 10, 64)
		if err != nil || seq < -1 {
			log.Warning("State file %s line %d: invalid sequence number %q, skipping", s.Path, lineNum+1, tokens[2])
			continue
		}
		var ts time.Time
		if len(tokens) > 3 && tokens[3] != "" {
			ts, err = ParseStateTime(tokens[3])
			if err != nil {
				log.Warning("State file %s line %d: invalid timestamp %q, skipping", s.Path, lineNum+1, tokens[3])
				continue
			}
		}
		if len(tokens[0]) > NetworkLen || len(tokens[1]) > StationLen {
			log.Warning("State file %s line %d: invalid channel, skipping", s.Path, lineNum+1)
			continue
		}
		key := NewChannelKey(tokens[0], tokens[1])
		if r.Restore(key, seq, ts) {
			restored++
		} else {
			log.Debug("State file %s: channel %s is not subscribed, ignoring", s.Path, key)
		}
	}
	log.Info("Recovered state of %d channel(s) from %s", restored, s.Path)
	return restored, nil
}

// ParseStateTime parses "YYYY,DDD,HH,MM,SS" and the older "YYYY,MM,DD,hh,mm,ss"
func ParseStateTime(s string) (time.Time, error) {
	layout := StateTimeLayout
	if strings.Count(s, ",") == 5 {
		layout = legacyStateTimeLayout
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse state time %q", s)
	}
	return t, nil
}

// tokenize splits on whitespace, text between quote characters is one token
// and keeps its spaces
func tokenize(line string, quote byte) []string {
	var tokens []string
	var cur strings.Builder
	inQuote, inToken := false, false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == quote:
			if inQuote {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inQuote, inToken = false, false
			} else {
				if inToken {
					tokens = append(tokens, cur.String())
					cur.Reset()
				}
				inQuote, inToken = true, true
			}
		case inQuote:
			cur.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\r':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
