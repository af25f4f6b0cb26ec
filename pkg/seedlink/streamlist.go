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
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-slink/pkg/log"
)

// LoadFromSelectorList adds the channels listed in text. Every line is either
//
//	NET STA [selector ...]
//
// or a comma separated list of tokens
//
//	NET_STA[:selector selector],NET_STA[:selector]
//
// Lines starting with '#' or '*' are comments. Channels without selectors get
// defaultSelectors. Malformed rows are logged and skipped.
func (r *Registry) LoadFromSelectorList(text, defaultSelectors string) (int, error) {
	count := 0
	for lineNum, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' || line[0] == '*' {
			continue
		}
		fields := strings.Fields(line)
		if strings.Contains(fields[0], "_") {
			n, err := r.addTokens(line, defaultSelectors)
			count += n
			if err != nil {
				return count, err
			}
			continue
		}
		if len(fields) < 2 {
			log.Warning("Skipping malformed stream list line %d: %q", lineNum+1, line)
			continue
		}
		selectors := strings.Join(fields[2:], " ")
		if selectors == "" {
			selectors = defaultSelectors
		}
		added, err := r.addListed(fields[0], fields[1], selectors)
		if err != nil {
			return count, err
		}
		if added {
			count++
		} else {
			log.Warning("Skipping malformed stream list line %d: %q", lineNum+1, line)
		}
	}
	return count, nil
}

// LoadStreamFile reads a stream list file, see LoadFromSelectorList
func (r *Registry) LoadStreamFile(path, defaultSelectors string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read stream list %s", path)
	}
	count, err := r.LoadFromSelectorList(string(data), defaultSelectors)
	if err != nil {
		return count, err
	}
	log.Info("Read %d stream(s) from %s", count, path)
	return count, nil
}

func (r *Registry) addTokens(line, defaultSelectors string) (int, error) {
	count := 0
	for _, token := range strings.Split(line, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name, selectors, hasSelectors := strings.Cut(token, ":")
		if !hasSelectors || strings.TrimSpace(selectors) == "" {
			selectors = defaultSelectors
		}
		network, station, ok := strings.Cut(name, "_")
		if !ok {
			log.Warning("Skipping malformed stream token %q", token)
			continue
		}
		added, err := r.addListed(network, station, selectors)
		if err != nil {
			return count, err
		}
		if !added {
			log.Warning("Skipping malformed stream token %q", token)
			continue
		}
		count++
	}
	return count, nil
}

// addListed reports false for malformed codes, mode conflicts are returned as errors
func (r *Registry) addListed(network, station, selectors string) (bool, error) {
	_, err := r.AddChannel(network, station, selectors, -1, time.Time{})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrModeConflict) {
		return false, err
	}
	return false, nil
}
