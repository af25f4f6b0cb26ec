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
	"github.com/google/gopacket"

	"jinr.ru/greenlab/go-slink/pkg/layers"
)

type Kind int

const (
	KindData Kind = iota
	KindInfoPartial
	KindInfoFinal
	KindKeepalive
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindInfoPartial:
		return "info-partial"
	case KindInfoFinal:
		return "info-final"
	case KindKeepalive:
		return "keepalive"
	}
	return "unknown"
}

// Frame is decoded in place from the receive buffer and reused for every frame
// of a connection. Raw and the decoded layers are only valid until the next Collect.
type Frame struct {
	Kind     Kind
	Raw      []byte
	SeedLink layers.SeedLinkLayer
	Record   layers.RecordLayer
	// Info is the whole INFO response, set for KindInfoFinal
	Info string

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newFrame() *Frame {
	f := &Frame{
		decoded: make([]gopacket.LayerType, 0, 2),
	}
	f.parser = gopacket.NewDecodingLayerParser(layers.SeedLinkLayerType, &f.SeedLink, &f.Record)
	f.parser.IgnoreUnsupported = true
	return f
}

// decode decodes both layers of a whole frame without allocating
func (f *Frame) decode(raw []byte) error {
	f.Raw = raw
	f.Info = ""
	f.decoded = f.decoded[:0]
	return f.parser.DecodeLayers(raw, &f.decoded)
}

func (f *Frame) Seq() int64 {
	return f.SeedLink.Seq
}

// Key returns the registry key of the record
func (f *Frame) Key() ChannelKey {
	return KeyFromCodes(f.Record.Network, f.Record.Station)
}

// infoChunk returns the ASCII payload of an INFO record
func (f *Frame) infoChunk() string {
	rec := f.Raw[layers.HeaderSize:]
	end := layers.InfoDataOffset + int(f.Record.NumSamples)
	if end > len(rec) {
		end = len(rec)
	}
	if end <= layers.InfoDataOffset {
		return ""
	}
	return string(rec[layers.InfoDataOffset:end])
}
