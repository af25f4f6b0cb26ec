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

package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "--config", path, "config", "init")
	assert.Error(t, err)
	_, err = execute(t, "--config", path, "config", "init", "--force")
	assert.NoError(t, err)

	out, err = execute(t, "--config", path, "--log-level", "debug", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "address: localhost:18000")
	assert.Contains(t, out, "logLevel: debug")
}

func TestStateShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	_, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "state", "show", "--connection", "missing")
	assert.Error(t, err)
	_, err = execute(t, "--config", path, "--log-level", "loud", "config", "show")
	assert.Error(t, err)
}

func TestCompletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	out, err := execute(t, "--config", path, "completion")
	require.NoError(t, err)
	assert.Contains(t, out, "bash completion for go-slink")

	out, err = execute(t, "--config", path, "completion", "zsh")
	require.NoError(t, err)
	assert.Contains(t, out, "#compdef _go-slink go-slink")

	_, err = execute(t, "--config", path, "completion", "tcsh")
	assert.Error(t, err)
}
