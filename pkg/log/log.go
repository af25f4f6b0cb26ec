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

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	LogPrefix  = "[go-slink] "
	HelpLevels = "Must be one of: error, warning, info, debug."
)

var levelMapping = map[string]logrus.Level{
	"error":   logrus.ErrorLevel,
	"warning": logrus.WarnLevel,
	"info":    logrus.InfoLevel,
	"debug":   logrus.DebugLevel,
}

var logger = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	formatter := new(logrus.TextFormatter)
	formatter.TimestampFormat = time.RFC3339
	formatter.FullTimestamp = true
	return &logrus.Logger{
		Out:       out,
		Formatter: formatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
}

func SetLevel(strLevel string) error {
	level, ok := levelMapping[strings.ToLower(strLevel)]
	if !ok {
		return errors.New("Wrong log level. " + HelpLevels)
	}
	logger.SetLevel(level)
	return nil
}

func Init(out io.Writer, strLevel string) {
	logger.SetOutput(out)
	if err := SetLevel(strLevel); err != nil {
		panic(err)
	}
}

// Writer returns a writer whose lines are logged at debug level.
// The caller must close it when done.
func Writer() *io.PipeWriter {
	return logger.WriterLevel(logrus.DebugLevel)
}

func Error(format string, v ...interface{}) {
	logger.Error(LogPrefix + fmt.Sprintf(format, v...))
}

func Warning(format string, v ...interface{}) {
	logger.Warn(LogPrefix + fmt.Sprintf(format, v...))
}

func Info(format string, v ...interface{}) {
	logger.Info(LogPrefix + fmt.Sprintf(format, v...))
}

func Debug(format string, v ...interface{}) {
	logger.Debug(LogPrefix + fmt.Sprintf(format, v...))
}
