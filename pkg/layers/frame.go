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

package layers

import (
	"time"

	"github.com/google/gopacket"
)

// SerializeFrame builds a whole SeedLink frame: header, record header and payload
func SerializeFrame(sl *SeedLinkLayer, rec *RecordLayer, payload []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	err := gopacket.SerializeLayers(buf, opts, sl, rec, gopacket.Payload(payload))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataFrame builds a data frame for the given channel with an opaque payload
func DataFrame(seq int64, network, station, channel string, start time.Time) ([]byte, error) {
	sl := &SeedLinkLayer{SeedLinkHeader: SeedLinkHeader{Seq: seq}}
	rec := &RecordLayer{}
	rec.SetCodes(network, station, "", channel)
	rec.StartTime = start
	rec.Quality = 'D'
	rec.NumSamples = 0
	rec.Encoding = 10
	return SerializeFrame(sl, rec, nil)
}

// InfoFrame builds one INFO frame carrying a chunk of the INFO response text
func InfoFrame(text string, more bool) ([]byte, error) {
	sl := &SeedLinkLayer{SeedLinkHeader: SeedLinkHeader{Seq: -1, Info: true, More: more}}
	rec := &RecordLayer{}
	rec.SetCodes("", "INFO", "", "INF")
	rec.StartTime = time.Now().UTC()
	rec.Quality = 'D'
	rec.NumSamples = uint16(len(text))
	rec.Encoding = 0
	return SerializeFrame(sl, rec, []byte(text))
}
