// Copyright © 2020 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the engine's small leveled logger: Error/Warning/Info
// always reach the user, Debug/Verbose only reach the log file when one
// is open.
package log

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Specifies the log levels.
const (
	LevelError = iota + 1
	LevelWarning
	LevelInfo
	LevelDebug
	LevelVerbose // more detail than Debug, with the same repeat-line filtering
)

// Specifies the subsystem tags used throughout the engine.
const (
	Engine   = "ENGINE"
	Fetch    = "FETCH"
	Manifest = "MANIFEST"
	Apply    = "APPLY"
	Track    = "TRACK"
	Clean    = "CLEAN"
)

var (
	level      = LevelInfo
	levelMap   = map[int]string{}
	fileHandle *os.File
	logging    = false
	lineLast   string
	lineCount  int
	tagMap     = map[string]bool{}
)

func init() {
	levelMap[LevelError] = "ERROR"
	levelMap[LevelWarning] = "WARNING"
	levelMap[LevelInfo] = "INFO"
	levelMap[LevelDebug] = "DEBUG"
	levelMap[LevelVerbose] = "VERBOSE"
	tagMap[Engine] = true
	tagMap[Fetch] = true
	tagMap[Manifest] = true
	tagMap[Apply] = true
	tagMap[Track] = true
	tagMap[Clean] = true
}

// SetLogLevel sets the default log level to l, clamping to the valid range.
func SetLogLevel(l int) {
	switch {
	case l < LevelError:
		level = LevelError
		logTag("WRN", Engine, "log level %d too low, forcing to %s (%d)", l, levelMap[level], level)
	case l > LevelVerbose:
		level = LevelVerbose
		logTag("WRN", Engine, "log level %d too high, forcing to %s (%d)", l, levelMap[level], level)
	default:
		level = l
		Debug(Engine, "log level set to %s (%d)", levelMap[level], l)
	}
}

// SetOutputFilename directs Debug/Verbose output to logFile.
func SetOutputFilename(logFile string) (*os.File, error) {
	f, err := os.OpenFile(logFile, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	fileHandle = f
	log.SetOutput(fileHandle)
	logging = true
	return fileHandle, nil
}

// CloseLogHandler closes the log file opened by SetOutputFilename.
func CloseLogHandler() {
	if !logging {
		return
	}
	if err := fileHandle.Close(); err != nil {
		fmt.Printf("WARNING: couldn't close log file: %s\n", err)
	}
}

func logTag(level string, tag, format string, a ...interface{}) {
	if len(a) < 1 {
		format = strings.ReplaceAll(format, "%", "%%")
	}

	f := "[" + level + "]" + "[" + tag + "] " + format + "\n"
	output := fmt.Sprintf(f, a...)

	if output != lineLast {
		if lineCount > 0 {
			plural := ""
			if lineCount > 1 {
				plural = "s"
			}
			log.Printf("[%s] [Previous line repeated %d time%s]\n", level, lineCount, plural)
		}
		log.Print(output)
		lineLast = output
		lineCount = 0
	} else {
		lineCount++
	}
}

func normalizeTag(tag string) string {
	if _, ok := tagMap[tag]; !ok {
		return Engine
	}
	return tag
}

// Debug writes a debug entry to the log file, if one is open.
func Debug(tag, format string, a ...interface{}) {
	if level < LevelDebug || !logging {
		return
	}
	logTag("DBG", normalizeTag(tag), format, a...)
}

// Error prints an error to stderr and, if a log file is open, the log.
func Error(tag, format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", a...)
	if !logging {
		return
	}
	logTag("ERR", normalizeTag(tag), format, a...)
}

// Info prints an informational line to stdout and, if open, the log.
func Info(tag, format string, a ...interface{}) {
	fmt.Printf(format+"\n", a...)
	if level < LevelInfo || !logging {
		return
	}
	logTag("INF", normalizeTag(tag), format, a...)
}

// Warning prints a warning to stderr and, if open, the log.
func Warning(tag, format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", a...)
	if level < LevelWarning || !logging {
		return
	}
	logTag("WRN", normalizeTag(tag), format, a...)
}

// Verbose writes a verbose entry to the log file, if one is open.
func Verbose(tag, format string, a ...interface{}) {
	if level < LevelVerbose || !logging {
		return
	}
	logTag("VRB", normalizeTag(tag), format, a...)
}
