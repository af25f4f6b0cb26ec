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

package srv

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"

	"jinr.ru/greenlab/go-slink/pkg/log"
	"jinr.ru/greenlab/go-slink/pkg/seedlink"
)

const (
	BucketNamePrefix = "conn_"
	openTimeout      = time.Second
)

// channelState is the value stored under the channel key NET_STA
type channelState struct {
	Network   string `json:"network"`
	Station   string `json:"station"`
	Seq       int64  `json:"seq"`
	Timestamp string `json:"timestamp,omitempty"`
}

// BoltStore keeps the checkpoints of all connections in one bbolt database,
// one bucket per connection
type BoltStore struct {
	DB *bbolt.DB
}

func NewBoltStore(path string, names []string, readOnly bool) (*BoltStore, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, errors.Wrapf(err, "open state database %s", path)
	}
	if !readOnly {
		if err = db.Update(func(tx *bbolt.Tx) error {
			for _, name := range names {
				if _, err := tx.CreateBucketIfNotExists([]byte(bucketName(name))); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &BoltStore{DB: db}, nil
}

func bucketName(connName string) string {
	return fmt.Sprintf("%s%s", BucketNamePrefix, connName)
}

func (s *BoltStore) Close() error {
	return s.DB.Close()
}

// Store returns the state store of one connection
func (s *BoltStore) Store(connName string) seedlink.StateStore {
	return &boltConnStore{store: s, name: connName}
}

// Save replaces the checkpoints of the connection with the registry snapshot
func (s *BoltStore) Save(connName string, r *seedlink.Registry) error {
	snapshot := r.Snapshot()
	return s.DB.Update(func(tx *bbolt.Tx) error {
		name := []byte(bucketName(connName))
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		for _, sub := range snapshot {
			st := channelState{
				Network: sub.Key.Network(),
				Station: sub.Key.Station(),
				Seq:     sub.Seq,
			}
			if !sub.Timestamp.IsZero() {
				st.Timestamp = sub.Timestamp.UTC().Format(time.RFC3339Nano)
			}
			value, err := yaml.Marshal(st)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(sub.Key.String()), value); err != nil {
				return err
			}
		}
		log.Debug("Saved state of %d channel(s) to bucket %s", len(snapshot), name)
		return nil
	})
}

// Recover restores the channels of the registry found in the connection bucket
func (s *BoltStore) Recover(connName string, r *seedlink.Registry) (int, error) {
	restored := 0
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName(connName)))
		if b == nil {
			return ErrBucketNotFound{Name: bucketName(connName)}
		}
		return b.ForEach(func(k, v []byte) error {
			st := channelState{}
			if err := yaml.Unmarshal(v, &st); err != nil {
				log.Warning("Bucket %s key %s: %s, skipping", bucketName(connName), k, err)
				return nil
			}
			var ts time.Time
			if st.Timestamp != "" {
				var err error
				ts, err = time.Parse(time.RFC3339Nano, st.Timestamp)
				if err != nil {
					log.Warning("Bucket %s key %s: invalid timestamp %q, skipping", bucketName(connName), k, st.Timestamp)
					return nil
				}
			}
			if r.Restore(seedlink.NewChannelKey(st.Network, st.Station), st.Seq, ts) {
				restored++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	log.Info("Recovered state of %d channel(s) from bucket %s", restored, bucketName(connName))
	return restored, nil
}

type boltConnStore struct {
	store *BoltStore
	name  string
}

var _ seedlink.StateStore = &boltConnStore{}

func (s *boltConnStore) Save(r *seedlink.Registry) error {
	if err := s.store.Save(s.name, r); err != nil {
		return seedlink.PersistError{Path: s.store.DB.Path(), Err: err}
	}
	return nil
}

func (s *boltConnStore) Recover(r *seedlink.Registry) (int, error) {
	n, err := s.store.Recover(s.name, r)
	if err != nil {
		return 0, seedlink.PersistError{Path: s.store.DB.Path(), Err: err}
	}
	return n, nil
}
