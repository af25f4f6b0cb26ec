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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"jinr.ru/greenlab/go-slink/pkg/layers"
	"jinr.ru/greenlab/go-slink/pkg/log"
)

const (
	ServerBanner = "SeedLink"
	// ProtocolTimeLayout is the time format of DATA, FETCH and TIME arguments
	ProtocolTimeLayout = "2006,01,02,15,04,05"

	responseTimeout = 30 * time.Second
	responsePoll    = 50 * time.Millisecond
	maxResponseLen  = 1024

	versionMultiStation = 2.5
	versionTimeWindow   = 2.92
	versionInfo         = 2.92
	versionDataTime     = 2.93
)

// InfoLevels are the levels accepted by the INFO command
var InfoLevels = []string{"ID", "CAPABILITIES", "STATIONS", "STREAMS", "GAPS", "CONNECTIONS", "ALL"}

func validInfoLevel(level string) bool {
	for _, l := range InfoLevels {
		if l == level {
			return true
		}
	}
	return false
}

// writeCommand sends a \r terminated command
func (c *Connection) writeCommand(cmd string) error {
	conn := c.currentConn()
	if conn == nil {
		return errors.Errorf("send %q: not connected", cmd)
	}
	log.Debug("[%s] sending: %s", c.addr, cmd)
	if err := conn.SetWriteDeadline(time.Now().Add(responseTimeout)); err != nil {
		return errors.Wrapf(err, "send %q", cmd)
	}
	if _, err := conn.Write([]byte(cmd + "\r")); err != nil {
		return errors.Wrapf(err, "send %q", cmd)
	}
	return nil
}

// readLine reads a response line one byte at a time so it never consumes bytes
// of the data stream following the response
func (c *Connection) readLine(cmd string) (string, error) {
	conn := c.currentConn()
	if conn == nil {
		return "", errors.Errorf("read response to %q: not connected", cmd)
	}
	var line []byte
	one := make([]byte, 1)
	polls := int(responseTimeout / responsePoll)
	for polls > 0 {
		if c.terminating.Load() {
			return "", errors.Errorf("read response to %q: terminating", cmd)
		}
		if err := conn.SetReadDeadline(time.Now().Add(responsePoll)); err != nil {
			return "", errors.Wrapf(err, "read response to %q", cmd)
		}
		n, err := conn.Read(one)
		if n == 1 {
			if one[0] == '\n' {
				return strings.TrimRight(string(line), "\r"), nil
			}
			line = append(line, one[0])
			if len(line) > maxResponseLen {
				return "", ProtocolError{What: fmt.Sprintf("response to %q too long", cmd)}
			}
			continue
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				polls--
				continue
			}
			return "", errors.Wrapf(err, "read response to %q", cmd)
		}
	}
	return "", ProtocolError{What: fmt.Sprintf("no response to %q within %s", cmd, responseTimeout)}
}

// command sends cmd and returns the response line
func (c *Connection) command(cmd string) (string, error) {
	if err := c.writeCommand(cmd); err != nil {
		return "", err
	}
	return c.readLine(cmd)
}

// commandOK sends cmd and expects "OK"
func (c *Connection) commandOK(cmd string) error {
	resp, err := c.command(cmd)
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp) != "OK" {
		return CommandRejectedError{Command: cmd, Response: resp}
	}
	return nil
}

// parseHello parses "<id> v<major.minor> ..."
func parseHello(line string) (string, float64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", 0, ProtocolError{What: fmt.Sprintf("unexpected HELLO response %q", line)}
	}
	id := fields[0]
	for _, f := range fields[1:] {
		if len(f) < 2 || f[0] != 'v' {
			continue
		}
		end, dots := 1, 0
		for ; end < len(f); end++ {
			if f[end] == '.' {
				if dots++; dots > 1 {
					break
				}
			} else if f[end] < '0' || f[end] > '9' {
				break
			}
		}
		version, err := strconv.ParseFloat(f[1:end], 64)
		if err != nil {
			break
		}
		return id, version, nil
	}
	return id, 0, ProtocolError{What: fmt.Sprintf("no server version in HELLO response %q", line)}
}

// hello identifies the server, it is the first exchange of every connection
func (c *Connection) hello() error {
	line, err := c.command("HELLO")
	if err != nil {
		return err
	}
	id, version, err := parseHello(line)
	if err != nil {
		return err
	}
	if !strings.EqualFold(id, ServerBanner) {
		return ProtocolError{What: fmt.Sprintf("server identified as %q, expected %q", id, ServerBanner)}
	}
	org, err := c.readLine("HELLO")
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.serverID = line
	c.serverVersion = version
	c.organization = org
	c.mu.Unlock()
	log.Info("[%s] connected to %s (%s)", c.addr, line, org)
	return nil
}

func (c *Connection) version() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVersion
}

// configureLink negotiates the data streams of every channel of the registry
func (c *Connection) configureLink() error {
	if c.registry.UniChannel() {
		sub, _ := c.registry.Get(UniKey)
		return c.negotiateChannel(sub)
	}

	if v := c.version(); v < versionMultiStation {
		return VersionError{Feature: "multi-station mode", Required: versionMultiStation, Server: v}
	}
	streams := c.registry.Snapshot()
	accepted := 0
	for _, sub := range streams {
		cmd := fmt.Sprintf("STATION %s %s", sub.Key.Station(), sub.Key.Network())
		if err := c.commandOK(cmd); err != nil {
			var rejected CommandRejectedError
			if errors.As(err, &rejected) {
				log.Warning("[%s] station %s not accepted: %s", c.addr, sub.Key, rejected.Response)
				continue
			}
			return err
		}
		if err := c.negotiateChannel(sub); err != nil {
			return errors.Wrapf(err, "channel %s", sub.Key)
		}
		accepted++
	}
	if accepted == 0 {
		return ErrNoChannelsAccepted
	}
	log.Info("[%s] %d station(s) accepted", c.addr, accepted)
	// END has no response, the data stream follows
	return c.writeCommand("END")
}

// negotiateChannel sends the selectors and the action command of one channel
func (c *Connection) negotiateChannel(sub Subscription) error {
	selectors := strings.Fields(sub.Selectors)
	accepted := 0
	for _, sel := range selectors {
		if len(sel) > SelectorLen {
			log.Warning("[%s] %s: invalid selector %q, skipping", c.addr, sub.Key, sel)
			continue
		}
		if err := c.commandOK("SELECT " + sel); err != nil {
			var rejected CommandRejectedError
			if errors.As(err, &rejected) {
				log.Warning("[%s] %s: selector %s not accepted", c.addr, sub.Key, sel)
				continue
			}
			return err
		}
		accepted++
	}
	if len(selectors) > 0 && accepted == 0 {
		return ErrNoSelectorsAccepted
	}

	cmd, err := c.actionCommand(sub)
	if err != nil {
		return err
	}
	return c.commandOK(cmd)
}

// actionCommand chooses between resuming, a time window and the default stream
func (c *Connection) actionCommand(sub Subscription) (string, error) {
	verb := "DATA"
	if c.opts.DialUp {
		verb = "FETCH"
	}

	if c.opts.Resume && sub.Seq != -1 {
		next := (sub.Seq + 1) & layers.MaxSeq
		cmd := fmt.Sprintf("%s %X", verb, next)
		if c.opts.SendLastTime && !sub.Timestamp.IsZero() {
			if v := c.version(); v >= versionDataTime {
				cmd += " " + sub.Timestamp.UTC().Format(ProtocolTimeLayout)
			} else {
				log.Debug("[%s] server %.2f does not accept a time with %s", c.addr, v, verb)
			}
		}
		log.Info("[%s] %s: resuming data from %06X", c.addr, sub.Key, next)
		return cmd, nil
	}

	if !c.opts.Begin.IsZero() {
		if v := c.version(); v < versionTimeWindow {
			return "", VersionError{Feature: "TIME", Required: versionTimeWindow, Server: v}
		}
		cmd := "TIME " + c.opts.Begin.UTC().Format(ProtocolTimeLayout)
		if !c.opts.End.IsZero() {
			cmd += " " + c.opts.End.UTC().Format(ProtocolTimeLayout)
		}
		log.Info("[%s] %s: requesting time window", c.addr, sub.Key)
		return cmd, nil
	}

	log.Info("[%s] %s: requesting next available data", c.addr, sub.Key)
	return verb, nil
}

// sendInfo sends an INFO request, the response arrives as INFO frames
func (c *Connection) sendInfo(level string, mode QueryMode) error {
	if v := c.version(); v < versionInfo {
		return VersionError{Feature: "INFO", Required: versionInfo, Server: v}
	}
	if err := c.writeCommand("INFO " + level); err != nil {
		return err
	}
	c.query = mode
	c.awaitingInfo = true
	c.info.Reset()
	return nil
}

// RequestInfo queues an INFO request sent by the read loop at the next opportunity.
// The response is returned by Collect as a KindInfoFinal frame.
func (c *Connection) RequestInfo(level string) error {
	level = strings.ToUpper(strings.TrimSpace(level))
	if !validInfoLevel(level) {
		return ConfigError{What: fmt.Sprintf("invalid INFO level %q, expected one of %s", level, strings.Join(InfoLevels, ", "))}
	}
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	if c.infoRequest != "" || c.infoBusy {
		return ErrRequestPending
	}
	c.infoRequest = level
	return nil
}

// takeInfoRequest returns the queued INFO level and marks it outstanding
func (c *Connection) takeInfoRequest() string {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	level := c.infoRequest
	if level != "" {
		c.infoRequest = ""
		c.infoBusy = true
	}
	return level
}

func (c *Connection) infoDone() {
	c.infoMu.Lock()
	c.infoBusy = false
	c.infoMu.Unlock()
}
