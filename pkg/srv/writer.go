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
	"os"
	"sync"

	"jinr.ru/greenlab/go-slink/pkg/layers"
	"jinr.ru/greenlab/go-slink/pkg/log"
	"jinr.ru/greenlab/go-slink/pkg/seedlink"
)

// Writer appends the miniSEED records of data frames to a file
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

func NewWriter(filename string) (*Writer, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Error("Error while creating file: %s", filename)
		return nil, err
	}
	return &Writer{
		file: file,
	}, nil
}

func (w *Writer) Write(buf []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Write(buf)
}

// WriteFrame writes the record of a data frame without the SeedLink header,
// other frames are ignored
func (w *Writer) WriteFrame(f *seedlink.Frame) error {
	if f.Kind != seedlink.KindData || len(f.Raw) < layers.FrameSize {
		return nil
	}
	_, err := w.Write(f.Raw[layers.HeaderSize:layers.FrameSize])
	return err
}

func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.file.Sync()
	w.file.Close()
}
