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
	"io"
)

const (
	// BufferSize is the default receive buffer capacity
	BufferSize = 8192
)

// ReceiveBuffer frames a byte stream into fixed size frames without copying.
// Bytes in [sendPtr, recvPtr) are received but not yet consumed.
type ReceiveBuffer struct {
	data      []byte
	frameSize int
	sendPtr   int
	recvPtr   int
}

func NewReceiveBuffer(capacity, frameSize int) *ReceiveBuffer {
	return &ReceiveBuffer{
		data:      make([]byte, capacity),
		frameSize: frameSize,
	}
}

// Len returns the number of unread bytes
func (b *ReceiveBuffer) Len() int {
	return b.recvPtr - b.sendPtr
}

// Free returns the space left after recvPtr
func (b *ReceiveBuffer) Free() int {
	return len(b.data) - b.recvPtr
}

// Append copies p after the received bytes
func (b *ReceiveBuffer) Append(p []byte) error {
	if len(p) > b.Free() {
		return BufferOverflowError{Len: len(p), Free: b.Free()}
	}
	b.recvPtr += copy(b.data[b.recvPtr:], p)
	return nil
}

// ReadOnce performs a single Read from r directly into the free space
func (b *ReceiveBuffer) ReadOnce(r io.Reader) (int, error) {
	if b.Free() == 0 {
		return 0, BufferOverflowError{Len: 1, Free: 0}
	}
	n, err := r.Read(b.data[b.recvPtr:])
	if n > 0 {
		b.recvPtr += n
	}
	return n, err
}

func (b *ReceiveBuffer) FrameAvailable() bool {
	return b.recvPtr-b.sendPtr >= b.frameSize
}

// PeekSignature compares the first unread bytes with sig byte by byte
func (b *ReceiveBuffer) PeekSignature(sig []byte) (bool, error) {
	if b.recvPtr-b.sendPtr < len(sig) {
		return false, ErrInsufficientData
	}
	unread := b.data[b.sendPtr:]
	for i, c := range sig {
		if unread[i] != c {
			return false, nil
		}
	}
	return true, nil
}

// Frame returns a view of the next whole frame. The view is only valid until
// the next Compact or Reset.
func (b *ReceiveBuffer) Frame() []byte {
	if !b.FrameAvailable() {
		return nil
	}
	return b.data[b.sendPtr : b.sendPtr+b.frameSize]
}

func (b *ReceiveBuffer) ConsumeFrame() {
	if b.FrameAvailable() {
		b.sendPtr += b.frameSize
	}
}

// Compact moves the unread bytes to the start of the buffer
func (b *ReceiveBuffer) Compact() {
	if b.sendPtr == 0 {
		return
	}
	n := copy(b.data, b.data[b.sendPtr:b.recvPtr])
	b.sendPtr = 0
	b.recvPtr = n
}

func (b *ReceiveBuffer) Reset() {
	b.sendPtr = 0
	b.recvPtr = 0
}
