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
	"time"

	"jinr.ru/greenlab/go-slink/pkg/log"
)

// Terminate asks the read loop to finish. If the loop does not finalize the
// connection within the grace period the watchdog does it instead.
// Terminate returns immediately, calling it again has no effect.
func (c *Connection) Terminate() {
	if !c.terminating.CompareAndSwap(false, true) {
		return
	}
	log.Info("[%s] terminating", c.addr)
	go c.watchdog(c.opts.Grace)
}

// Terminated reports whether Terminate was called or the Collect context was cancelled
func (c *Connection) Terminated() bool {
	return c.terminating.Load()
}

// Done is closed once the connection is finalized
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) watchdog(grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		log.Warning("[%s] read loop did not finish within %s, closing the connection", c.addr, grace)
		c.finalize()
	}
}

// closeConn closes the socket, it is a no-op when there is none
func (c *Connection) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		log.Debug("[%s] close: %s", c.addr, err)
	}
	c.conn = nil
}

// finalize closes the socket and saves the state, it runs once either from the
// read loop or from the watchdog
func (c *Connection) finalize() {
	c.finalizeOnce.Do(func() {
		c.mu.Lock()
		c.finalized = true
		c.mu.Unlock()
		c.cancel()
		c.closeConn()
		c.setPhase(Down)
		if c.opts.StateStore != nil {
			if err := c.opts.StateStore.Save(c.registry); err != nil {
				log.Error("[%s] %s", c.addr, err)
			}
		}
		log.Info("[%s] connection closed", c.addr)
		close(c.done)
	})
}
