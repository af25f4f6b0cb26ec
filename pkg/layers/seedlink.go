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
	"bytes"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// SeedLinkLayerNum identifies the layer
	SeedLinkLayerNum = 1990
	// HeaderSize is the size of the SeedLink header preceding every record
	HeaderSize = 8
	// RecordSize is the size of the miniSEED record carried by a SeedLink frame
	RecordSize = 512
	// FrameSize is the size of a whole SeedLink frame
	FrameSize = HeaderSize + RecordSize
	// MaxSeq is the largest sequence number, sequence numbers are 6 hex digits and roll over
	MaxSeq = 0xFFFFFF
)

// Signatures are compared byte by byte at the start of a frame
var (
	DataSignature     = []byte("SL")
	InfoSignature     = []byte("SLINFO")
	InfoMoreSignature = []byte("SLINFO *")
	ErrorSignature    = []byte("ERROR\r\n")
	EndSignature      = []byte("END")
)

// SeedLinkHeader is the 8 byte header of a SeedLink frame.
// Data frames carry "SL" followed by 6 hex digits of the sequence number,
// INFO frames carry "SLINFO" followed by either "  " (last frame) or " *".
type SeedLinkHeader struct {
	Seq  int64 // -1 for INFO frames
	Info bool
	More bool // INFO response continues in the following frames
}

type SeedLinkLayer struct {
	layers.BaseLayer
	SeedLinkHeader
}

var SeedLinkLayerType = gopacket.RegisterLayerType(SeedLinkLayerNum,
	gopacket.LayerTypeMetadata{Name: "SeedLinkLayerType", Decoder: gopacket.DecodeFunc(decodeSeedLinkLayer)})

// LayerType returns the type of the SeedLink layer in the layer catalog
func (sl *SeedLinkLayer) LayerType() gopacket.LayerType {
	return SeedLinkLayerType
}

func (sl *SeedLinkLayer) CanDecode() gopacket.LayerClass {
	return SeedLinkLayerType
}

func (sl *SeedLinkLayer) NextLayerType() gopacket.LayerType {
	return RecordLayerType
}

// DecodeFromBytes decodes the SeedLink header in place, it does not allocate
func (sl *SeedLinkLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderSize {
		df.SetTruncated()
		return DecodeError{Layer: "SeedLink", What: "frame too short"}
	}

	sl.BaseLayer = layers.BaseLayer{
		Contents: data[:HeaderSize],
		Payload:  data[HeaderSize:],
	}

	if bytes.HasPrefix(data, InfoSignature) {
		sl.Seq = -1
		sl.Info = true
		sl.More = bytes.HasPrefix(data, InfoMoreSignature)
		return nil
	}

	if !bytes.HasPrefix(data, DataSignature) {
		return DecodeError{Layer: "SeedLink", What: fmt.Sprintf("unknown signature %q", data[:2])}
	}

	seq, ok := parseHex(data[2:HeaderSize])
	if !ok {
		return DecodeError{Layer: "SeedLink", What: fmt.Sprintf("invalid sequence number %q", data[2:HeaderSize])}
	}
	sl.Seq = seq
	sl.Info = false
	sl.More = false
	return nil
}

// SerializeTo prepends the SeedLink header to the SerializeBuffer
func (sl *SeedLinkLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	headerBytes, err := b.PrependBytes(HeaderSize)
	if err != nil {
		return err
	}
	if sl.Info {
		copy(headerBytes, "SLINFO  ")
		if sl.More {
			copy(headerBytes, InfoMoreSignature)
		}
		return nil
	}
	if sl.Seq < 0 || sl.Seq > MaxSeq {
		return fmt.Errorf("sequence number out of range: %d", sl.Seq)
	}
	copy(headerBytes, fmt.Sprintf("SL%06X", sl.Seq))
	return nil
}

func decodeSeedLinkLayer(data []byte, p gopacket.PacketBuilder) error {
	sl := &SeedLinkLayer{}
	err := sl.DecodeFromBytes(data, p)
	if err != nil {
		return err
	}
	p.AddLayer(sl)
	return p.NextDecoder(sl.NextLayerType())
}

func parseHex(b []byte) (int64, bool) {
	var v int64
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | int64(c-'0')
		case c >= 'A' && c <= 'F':
			v = v<<4 | int64(c-'A'+10)
		case c >= 'a' && c <= 'f':
			v = v<<4 | int64(c-'a'+10)
		default:
			return 0, false
		}
	}
	return v, true
}
