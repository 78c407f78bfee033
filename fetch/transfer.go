// Copyright 2018 Intel Corporation
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

package fetch

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
)

// fetchOnce performs a single HTTP GET (optionally resumed via Range) and
// stages the response body to path+".downloading", renaming it to path
// only on full success. This is the same stage-then-atomic-rename
// discipline the store package uses for content-addressed cache entries,
// applied here to the transport layer so a fetch killed mid-write never
// leaves a truncated file at the final path.
func (c *Context) fetchOnce(url, path string, resume bool) (Status, error) {
	tempPath := path + ".downloading"

	var resumeFrom int64
	flags := os.O_RDWR | os.O_CREATE
	if resume {
		if fi, err := os.Stat(tempPath); err == nil {
			resumeFrom = fi.Size()
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(tempPath, flags, 0644)
	if err != nil {
		return StatusWriteError, fmt.Errorf("couldn't open %s for writing: %s", tempPath, err)
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		_ = f.Close()
		return StatusError, err
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		_ = f.Close()
		if isTimeout(err) {
			return StatusTimeout, err
		}
		return StatusError, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	status, retErr := classifyResponse(resp, resumeFrom > 0)
	if status != StatusCompleted && status != StatusPartialFile {
		_ = f.Close()
		if !resume {
			_ = os.Remove(tempPath)
		}
		return status, retErr
	}

	n, readErr, writeErr := copyBody(f, resp.Body)
	atomic.AddInt64(&c.totalBytes, n)
	if writeErr != nil {
		_ = f.Close()
		return StatusWriteError, fmt.Errorf("couldn't write %s: %s", tempPath, writeErr)
	}
	if readErr != nil {
		_ = f.Close()
		if isTimeout(readErr) {
			return StatusTimeout, readErr
		}
		return StatusError, fmt.Errorf("couldn't read response body for %s: %s", url, readErr)
	}
	if err = f.Close(); err != nil {
		return StatusWriteError, err
	}

	if err = os.Rename(tempPath, path); err != nil {
		return StatusWriteError, err
	}

	return StatusCompleted, nil
}

// copyBody copies from body into f, reporting a failure to read from body
// and a failure to write to f as distinct errors. io.Copy collapses both
// into a single error, which would misclassify a transient network read
// failure as a local write failure (and so as non-retryable).
func copyBody(f *os.File, body io.Reader) (n int64, readErr, writeErr error) {
	buf := make([]byte, 32*1024)
	for {
		nr, er := body.Read(buf)
		if nr > 0 {
			nw, ew := f.Write(buf[:nr])
			n += int64(nw)
			if ew != nil {
				writeErr = ew
				return
			}
			if nw != nr {
				writeErr = io.ErrShortWrite
				return
			}
		}
		if er != nil {
			if er != io.EOF {
				readErr = er
			}
			return
		}
	}
}

func classifyResponse(resp *http.Response, requestedRange bool) (Status, error) {
	if requestedRange && resp.StatusCode == http.StatusOK {
		// Server ignored our Range header and restarted from zero;
		// treat as a range error so the caller restarts cleanly.
		return StatusRangeError, fmt.Errorf("server did not honor range request for %s", resp.Request.URL)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return StatusCompleted, nil
	case http.StatusPartialContent:
		return StatusPartialFile, nil
	case http.StatusForbidden:
		return StatusForbidden, fmt.Errorf("forbidden: %s", resp.Request.URL)
	case http.StatusNotFound:
		return StatusNotFound, fmt.Errorf("not found: %s", resp.Request.URL)
	case http.StatusRequestedRangeNotSatisfiable:
		return StatusRangeError, fmt.Errorf("range not satisfiable: %s", resp.Request.URL)
	default:
		return StatusError, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, resp.Request.URL)
	}
}

func isTimeout(err error) bool {
	type timeout interface {
		Timeout() bool
	}
	if t, ok := err.(timeout); ok {
		return t.Timeout()
	}
	return false
}
