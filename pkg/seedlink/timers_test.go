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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggerLifecycle(t *testing.T) {
	start := time.Unix(1000, 0)
	tr := trigger{state: Armed, interval: 10 * time.Second}

	tr.advance(start)
	assert.Equal(t, Waiting, tr.state)
	tr.advance(start.Add(10 * time.Second))
	assert.Equal(t, Waiting, tr.state, "expires strictly after the interval")
	tr.advance(start.Add(10*time.Second + time.Millisecond))
	assert.True(t, tr.expired())

	tr.arm()
	tr.advance(start.Add(time.Minute))
	assert.True(t, tr.waiting())
}

func TestTriggerZeroInterval(t *testing.T) {
	now := time.Unix(1000, 0)
	disabled := trigger{state: Armed}
	disabled.advance(now)
	disabled.advance(now.Add(time.Hour))
	assert.True(t, disabled.waiting())

	immediate := trigger{state: Armed, expireOnZero: true}
	immediate.advance(now)
	assert.True(t, immediate.expired())
}

func TestTimersUpdateThrottle(t *testing.T) {
	now := time.Unix(1000, 0)
	tm := newTimers(100*time.Millisecond, 0, 2*time.Second)
	assert.True(t, tm.delay.expired())

	tm.update(now)
	assert.True(t, tm.timeout.waiting())
	assert.True(t, tm.keepalive.waiting())

	// not enough wall clock time passed since the last update
	tm.update(now.Add(200 * time.Millisecond))
	assert.True(t, tm.timeout.waiting())

	tm.update(now.Add(260 * time.Millisecond))
	assert.True(t, tm.timeout.expired())
	assert.True(t, tm.keepalive.waiting(), "zero keepalive interval is disabled")

	tm.rearm()
	tm.update(now.Add(261 * time.Millisecond))
	assert.True(t, tm.delay.waiting())
	tm.update(now.Add(2262 * time.Millisecond))
	assert.True(t, tm.delay.expired())
}
