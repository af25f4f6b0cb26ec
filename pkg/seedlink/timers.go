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
)

type TriggerState int

const (
	Armed   TriggerState = -1
	Waiting TriggerState = 0
	Expired TriggerState = 1
)

func (s TriggerState) String() string {
	switch s {
	case Armed:
		return "armed"
	case Waiting:
		return "waiting"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// trigger expires once its interval elapsed after its clock started.
// A zero interval never expires unless expireOnZero is set.
type trigger struct {
	state        TriggerState
	interval     time.Duration
	expireOnZero bool
	since        time.Time
}

func (t *trigger) arm() {
	t.state = Armed
}

// advance starts the clock of an armed trigger and expires a waiting one
func (t *trigger) advance(now time.Time) {
	switch t.state {
	case Armed:
		t.state = Waiting
		t.since = now
		if t.interval == 0 && t.expireOnZero {
			t.state = Expired
		}
	case Waiting:
		if t.interval == 0 {
			if t.expireOnZero {
				t.state = Expired
			}
			return
		}
		if now.Sub(t.since) > t.interval {
			t.state = Expired
		}
	}
}

func (t *trigger) expired() bool {
	return t.state == Expired
}

func (t *trigger) waiting() bool {
	return t.state == Waiting
}

// timers groups the network timeout, keepalive and reconnect delay triggers
type timers struct {
	timeout   trigger
	keepalive trigger
	delay     trigger
	updated   time.Time
}

const timerUpdateInterval = 250 * time.Millisecond

func newTimers(timeout, keepalive, delay time.Duration) timers {
	return timers{
		timeout:   trigger{state: Armed, interval: timeout},
		keepalive: trigger{state: Armed, interval: keepalive},
		// the first connection attempt is not delayed
		delay: trigger{state: Expired, interval: delay, expireOnZero: true},
	}
}

// rearm re-arms every trigger after a connect or a disconnect
func (t *timers) rearm() {
	t.timeout.arm()
	t.keepalive.arm()
	t.delay.arm()
}

// dataReceived restarts the timeout and keepalive clocks
func (t *timers) dataReceived() {
	t.timeout.arm()
	t.keepalive.arm()
}

func (t *timers) anyArmed() bool {
	return t.timeout.state == Armed || t.keepalive.state == Armed || t.delay.state == Armed
}

// update advances the triggers at most every timerUpdateInterval, armed triggers
// start their clock immediately
func (t *timers) update(now time.Time) {
	if !t.anyArmed() && now.Sub(t.updated) < timerUpdateInterval {
		return
	}
	t.updated = now
	t.timeout.advance(now)
	t.keepalive.advance(now)
	t.delay.advance(now)
}
