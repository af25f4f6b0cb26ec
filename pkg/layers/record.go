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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

const (
	// RecordLayerNum identifies the layer
	RecordLayerNum = 1991
	// FixedHeaderSize is the size of the miniSEED fixed section of data header
	FixedHeaderSize = 48
	// InfoDataOffset is where the ASCII payload of INFO records begins
	InfoDataOffset = 64
	// BlocketteDataOnly is the data only SEED blockette which carries the record length
	BlocketteDataOnly = 1000
)

// ErrUnsupportedBlockette is returned when the blockette chain references a blockette
// type this decoder does not know. The fixed header is still decoded in that case.
var ErrUnsupportedBlockette = errors.New("unsupported blockette")

var knownBlockettes = map[uint16]bool{
	100: true, 200: true, 201: true, 202: true, 300: true, 310: true, 320: true,
	390: true, 395: true, 400: true, 405: true, 500: true, 1000: true, 1001: true, 2000: true,
}

// RecordHeader holds the fields of the miniSEED fixed header this client needs.
// Codes are kept as fixed size arrays so decoding does not allocate.
type RecordHeader struct {
	Quality              byte
	Station              [5]byte
	Location             [2]byte
	Channel              [3]byte
	Network              [2]byte
	StartTime            time.Time
	NumSamples           uint16
	SampleRateFactor     int16
	SampleRateMultiplier int16
	NumBlockettes        uint8
	DataOffset           uint16
	FirstBlockette       uint16
	BigEndian            bool
	Encoding             uint8 // from blockette 1000, 0 if absent
	RecordLength         int   // from blockette 1000, 0 if absent
	Unsupported          uint16
}

type RecordLayer struct {
	layers.BaseLayer
	RecordHeader
}

var RecordLayerType = gopacket.RegisterLayerType(RecordLayerNum,
	gopacket.LayerTypeMetadata{Name: "RecordLayerType", Decoder: gopacket.DecodeFunc(decodeRecordLayer)})

// LayerType returns the type of the record layer in the layer catalog
func (r *RecordLayer) LayerType() gopacket.LayerType {
	return RecordLayerType
}

func (r *RecordLayer) CanDecode() gopacket.LayerClass {
	return RecordLayerType
}

// NextLayerType returns LayerTypeZero, samples are not decoded here
func (r *RecordLayer) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeZero
}

func (r *RecordLayer) NetworkCode() string {
	return string(bytes.TrimRight(r.Network[:], " "))
}

func (r *RecordLayer) StationCode() string {
	return string(bytes.TrimRight(r.Station[:], " "))
}

func (r *RecordLayer) LocationCode() string {
	return string(bytes.TrimRight(r.Location[:], " "))
}

func (r *RecordLayer) ChannelCode() string {
	return string(bytes.TrimRight(r.Channel[:], " "))
}

// SourceName returns NET_STA_LOC_CHAN
func (r *RecordLayer) SourceName() string {
	return fmt.Sprintf("%s_%s_%s_%s", r.NetworkCode(), r.StationCode(), r.LocationCode(), r.ChannelCode())
}

func (r *RecordLayer) byteOrder() binary.ByteOrder {
	if r.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DecodeFromBytes decodes the fixed header and walks the blockette chain
func (r *RecordLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < FixedHeaderSize {
		df.SetTruncated()
		return DecodeError{Layer: "Record", What: "record too short"}
	}

	r.BaseLayer = layers.BaseLayer{
		Contents: data[:FixedHeaderSize],
		Payload:  data[FixedHeaderSize:],
	}

	r.Quality = data[6]
	switch r.Quality {
	case 'D', 'R', 'Q', 'M':
	default:
		return DecodeError{Layer: "Record", What: fmt.Sprintf("invalid quality indicator 0x%02x", r.Quality)}
	}

	copy(r.Station[:], data[8:13])
	copy(r.Location[:], data[13:15])
	copy(r.Channel[:], data[15:18])
	copy(r.Network[:], data[18:20])

	// the byte order is detected from the plausibility of the year
	year := binary.BigEndian.Uint16(data[20:22])
	r.BigEndian = true
	if year < 1900 || year > 2100 {
		year = binary.LittleEndian.Uint16(data[20:22])
		r.BigEndian = false
		if year < 1900 || year > 2100 {
			return DecodeError{Layer: "Record", What: "can not detect byte order"}
		}
	}
	order := r.byteOrder()

	doy := order.Uint16(data[22:24])
	hour, minute, second := data[24], data[25], data[26]
	fract := order.Uint16(data[28:30])
	if doy < 1 || doy > 366 || hour > 23 || minute > 59 || second > 60 || fract > 9999 {
		return DecodeError{Layer: "Record", What: "invalid start time"}
	}
	r.StartTime = time.Date(int(year), time.January, 1, int(hour), int(minute), int(second),
		int(fract)*100000, time.UTC).AddDate(0, 0, int(doy)-1)

	r.NumSamples = order.Uint16(data[30:32])
	r.SampleRateFactor = int16(order.Uint16(data[32:34]))
	r.SampleRateMultiplier = int16(order.Uint16(data[34:36]))
	r.NumBlockettes = data[39]
	r.DataOffset = order.Uint16(data[44:46])
	r.FirstBlockette = order.Uint16(data[46:48])
	r.Encoding = 0
	r.RecordLength = 0
	r.Unsupported = 0

	return r.walkBlockettes(data)
}

func (r *RecordLayer) walkBlockettes(data []byte) error {
	order := r.byteOrder()
	offset := int(r.FirstBlockette)
	for i := 0; offset != 0 && i < int(r.NumBlockettes); i++ {
		if offset < FixedHeaderSize || offset+4 > len(data) {
			return DecodeError{Layer: "Record", What: fmt.Sprintf("blockette offset %d out of record", offset)}
		}
		blkType := order.Uint16(data[offset : offset+2])
		next := int(order.Uint16(data[offset+2 : offset+4]))
		if !knownBlockettes[blkType] {
			r.Unsupported = blkType
			return errors.Wrapf(ErrUnsupportedBlockette, "type %d at offset %d", blkType, offset)
		}
		if blkType == BlocketteDataOnly {
			if offset+8 > len(data) {
				return DecodeError{Layer: "Record", What: "truncated blockette 1000"}
			}
			r.Encoding = data[offset+4]
			r.RecordLength = 1 << data[offset+6]
		}
		if next != 0 && next <= offset {
			return DecodeError{Layer: "Record", What: "blockette chain loops"}
		}
		offset = next
	}
	return nil
}

// SerializeTo prepends a big endian fixed header with a blockette 1000 and pads the
// record to RecordSize. Used to build records for testing servers.
func (r *RecordLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	payloadLen := len(b.Bytes())
	if payloadLen > RecordSize-InfoDataOffset {
		return fmt.Errorf("record payload too large: %d", payloadLen)
	}
	hdr, err := b.PrependBytes(InfoDataOffset)
	if err != nil {
		return err
	}
	for i := range hdr {
		hdr[i] = 0
	}
	copy(hdr[0:6], "000001")
	hdr[6] = r.Quality
	if hdr[6] == 0 {
		hdr[6] = 'D'
	}
	hdr[7] = ' '
	copy(hdr[8:13], padded(r.Station[:]))
	copy(hdr[13:15], padded(r.Location[:]))
	copy(hdr[15:18], padded(r.Channel[:]))
	copy(hdr[18:20], padded(r.Network[:]))

	t := r.StartTime.UTC()
	binary.BigEndian.PutUint16(hdr[20:22], uint16(t.Year()))
	binary.BigEndian.PutUint16(hdr[22:24], uint16(t.YearDay()))
	hdr[24] = byte(t.Hour())
	hdr[25] = byte(t.Minute())
	hdr[26] = byte(t.Second())
	binary.BigEndian.PutUint16(hdr[28:30], uint16(t.Nanosecond()/100000))
	binary.BigEndian.PutUint16(hdr[30:32], r.NumSamples)
	binary.BigEndian.PutUint16(hdr[32:34], uint16(r.SampleRateFactor))
	binary.BigEndian.PutUint16(hdr[34:36], uint16(r.SampleRateMultiplier))
	hdr[39] = 1
	binary.BigEndian.PutUint16(hdr[44:46], InfoDataOffset)
	binary.BigEndian.PutUint16(hdr[46:48], FixedHeaderSize)

	// blockette 1000: ASCII encoding, big endian, 512 byte records
	binary.BigEndian.PutUint16(hdr[48:50], BlocketteDataOnly)
	hdr[52] = r.Encoding
	hdr[53] = 1
	hdr[54] = 9

	tail, err := b.AppendBytes(RecordSize - InfoDataOffset - payloadLen)
	if err != nil {
		return err
	}
	for i := range tail {
		tail[i] = 0
	}
	return nil
}

// padded replaces zero bytes of a fixed width code with spaces
func padded(code []byte) []byte {
	out := make([]byte, len(code))
	for i, c := range code {
		if c == 0 {
			c = ' '
		}
		out[i] = c
	}
	return out
}

// SetCodes fills the fixed width codes from strings
func (r *RecordLayer) SetCodes(network, station, location, channel string) {
	fill(r.Network[:], network)
	fill(r.Station[:], station)
	fill(r.Location[:], location)
	fill(r.Channel[:], channel)
}

func fill(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

func decodeRecordLayer(data []byte, p gopacket.PacketBuilder) error {
	r := &RecordLayer{}
	err := r.DecodeFromBytes(data, p)
	if err != nil && !errors.Is(err, ErrUnsupportedBlockette) {
		return err
	}
	p.AddLayer(r)
	return nil
}
