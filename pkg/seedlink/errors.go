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

	"github.com/pkg/errors"
)

// ErrTerminate is returned by Collect when the connection was closed. Unless Terminated
// reports true the caller is expected to call Collect again, which reconnects.
var ErrTerminate = errors.New("connection terminated")

// ErrServerError is returned by Collect when the server sent an ERROR response in the stream.
var ErrServerError = errors.New("server reported an error")

// ErrNetworkTimeout is the cause of a termination after no data arrived within the timeout.
var ErrNetworkTimeout = errors.New("network timeout")

// ErrEndOfStream is the cause of a termination after the server sent END.
var ErrEndOfStream = errors.New("end of buffer or selected time window")

// ErrModeConflict indicates mixing uni-channel and multi-channel subscriptions.
var ErrModeConflict = errors.New("uni-channel and multi-channel modes are exclusive")

// ErrNoChannelsAccepted indicates the server rejected every STATION command.
var ErrNoChannelsAccepted = errors.New("no stations accepted")

// ErrNoSelectorsAccepted indicates the server rejected every SELECT command of a channel.
var ErrNoSelectorsAccepted = errors.New("no data stream selectors accepted")

// ErrRequestPending indicates an INFO request is already queued or outstanding.
var ErrRequestPending = errors.New("INFO request already pending")

// ErrInsufficientData indicates fewer unread bytes than the signature being compared.
var ErrInsufficientData = errors.New("insufficient data in receive buffer")

// ConfigError is returned for a configuration that can never connect
type ConfigError struct {
	What string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("Invalid configuration: %s", e.What)
}

// ProtocolError is returned when the server does not speak the expected protocol
type ProtocolError struct {
	What string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("Protocol error: %s", e.What)
}

// VersionError is returned when a feature needs a newer server
type VersionError struct {
	Feature  string
	Required float64
	Server   float64
}

func (e VersionError) Error() string {
	return fmt.Sprintf("%s requires server version %.2f or later, server is %.2f", e.Feature, e.Required, e.Server)
}

// CommandRejectedError is returned when the server answers a command with anything but OK
type CommandRejectedError struct {
	Command  string
	Response string
}

func (e CommandRejectedError) Error() string {
	return fmt.Sprintf("Command %q rejected: %q", e.Command, e.Response)
}

// BufferOverflowError is returned when appended bytes do not fit the receive buffer
type BufferOverflowError struct {
	Len  int
	Free int
}

func (e BufferOverflowError) Error() string {
	return fmt.Sprintf("Receive buffer overflow: %d bytes, %d free", e.Len, e.Free)
}

// PersistError is returned when the state can not be saved or recovered
type PersistError struct {
	Path string
	Err  error
}

func (e PersistError) Error() string {
	return fmt.Sprintf("Error while persisting state %s: %s", e.Path, e.Err)
}

func (e PersistError) Unwrap() error {
	return e.Err
}

// TerminateError carries the reason a Collect call returned ErrTerminate
type TerminateError struct {
	Cause error
}

func (e *TerminateError) Error() string {
	if e.Cause == nil {
		return ErrTerminate.Error()
	}
	return fmt.Sprintf("%s: %s", ErrTerminate, e.Cause)
}

func (e *TerminateError) Is(target error) bool {
	return target == ErrTerminate
}

func (e *TerminateError) Unwrap() error {
	return e.Cause
}

func terminated(cause error) error {
	return &TerminateError{Cause: cause}
}
