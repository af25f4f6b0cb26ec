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
	"sort"
	"strings"
	"sync"
	"time"

	"jinr.ru/greenlab/go-slink/pkg/log"
)

const (
	NetworkLen  = 2
	StationLen  = 5
	SelectorLen = 8
)

// ChannelKey is the network code and the station code, each padded with spaces
type ChannelKey [NetworkLen + StationLen]byte

// UniKey is the key of the single implicit channel of uni-channel mode
var UniKey = NewChannelKey("XX", "UNI")

func NewChannelKey(network, station string) ChannelKey {
	var k ChannelKey
	for i := range k {
		k[i] = ' '
	}
	copy(k[:NetworkLen], network)
	copy(k[NetworkLen:], station)
	return k
}

// KeyFromCodes builds a key from fixed width record header codes
func KeyFromCodes(network [NetworkLen]byte, station [StationLen]byte) ChannelKey {
	var k ChannelKey
	copy(k[:NetworkLen], network[:])
	copy(k[NetworkLen:], station[:])
	for i, c := range k {
		if c == 0 {
			k[i] = ' '
		}
	}
	return k
}

func (k ChannelKey) Network() string {
	return string(bytes.TrimRight(k[:NetworkLen], " "))
}

func (k ChannelKey) Station() string {
	return string(bytes.TrimRight(k[NetworkLen:], " "))
}

func (k ChannelKey) String() string {
	return fmt.Sprintf("%s_%s", k.Network(), k.Station())
}

// Subscription is the state of one channel. Seq is -1 until the first record is
// delivered, a zero Timestamp means unknown.
type Subscription struct {
	Key       ChannelKey
	Selectors string
	Seq       int64
	Timestamp time.Time
}

type AddResult int

const (
	Added AddResult = iota
	Unchanged
	Merged
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case Unchanged:
		return "unchanged"
	case Merged:
		return "merged"
	}
	return "unknown"
}

// Registry holds the channel subscriptions of a connection. It is either in
// uni-channel mode with the single UniKey entry or in multi-channel mode.
type Registry struct {
	mu      sync.RWMutex
	streams map[ChannelKey]*Subscription
	uni     bool
}

func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[ChannelKey]*Subscription),
	}
}

// AddChannel adds a channel in multi-channel mode or merges selectors into an existing one
func (r *Registry) AddChannel(network, station, selectors string, seq int64, ts time.Time) (AddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uni {
		return Unchanged, ErrModeConflict
	}
	if network == "" || len(network) > NetworkLen || station == "" || len(station) > StationLen {
		return Unchanged, ConfigError{What: fmt.Sprintf("invalid channel %q %q", network, station)}
	}

	key := NewChannelKey(network, station)
	selectors = normalizeSelectors(selectors)
	if s, ok := r.streams[key]; ok {
		merged := mergeSelectors(s.Selectors, selectors)
		if merged == s.Selectors {
			return Unchanged, nil
		}
		s.Selectors = merged
		return Merged, nil
	}

	r.streams[key] = &Subscription{Key: key, Selectors: selectors, Seq: seq, Timestamp: ts}
	return Added, nil
}

// SetUniChannel configures uni-channel mode, replacing a previous uni-channel entry
func (r *Registry) SetUniChannel(selectors string, seq int64, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.uni && len(r.streams) > 0 {
		return ErrModeConflict
	}
	r.uni = true
	r.streams = map[ChannelKey]*Subscription{
		UniKey: {Key: UniKey, Selectors: normalizeSelectors(selectors), Seq: seq, Timestamp: ts},
	}
	return nil
}

// OnRecordDelivered records the sequence number and time of the last delivered record.
// In uni-channel mode every record belongs to the single channel.
func (r *Registry) OnRecordDelivered(key ChannelKey, seq int64, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.uni {
		key = UniKey
	}
	s, ok := r.streams[key]
	if !ok {
		log.Warning("Unexpected data received for %s, dropping", key)
		return false
	}
	s.Seq = seq
	s.Timestamp = ts
	return true
}

func (r *Registry) UniChannel() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.uni
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Get returns a copy of the subscription for the key
func (r *Registry) Get(key ChannelKey) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	if !ok {
		return Subscription{}, false
	}
	return *s, true
}

// Restore overwrites seq and timestamp of an existing key, it never adds keys
func (r *Registry) Restore(key ChannelKey, seq int64, ts time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[key]
	if !ok {
		return false
	}
	s.Seq = seq
	s.Timestamp = ts
	return true
}

// Snapshot returns copies of all subscriptions sorted by key
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscription, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key[:], out[j].Key[:]) < 0
	})
	return out
}

func normalizeSelectors(selectors string) string {
	return strings.Join(strings.Fields(selectors), " ")
}

// mergeSelectors appends the selectors of b missing from a
func mergeSelectors(a, b string) string {
	have := strings.Fields(a)
	seen := make(map[string]bool, len(have))
	for _, s := range have {
		seen[s] = true
	}
	for _, s := range strings.Fields(b) {
		if !seen[s] {
			seen[s] = true
			have = append(have, s)
		}
	}
	return strings.Join(have, " ")
}
