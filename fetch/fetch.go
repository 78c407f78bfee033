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

// Package fetch implements the synchronous, retrying HTTP(S) content
// fetcher used to pull manifests, fullfiles and packs from a swupd
// content server.
package fetch

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Status classifies the outcome of a single download attempt.
type Status int

// Statuses mirror DOWNLOAD_STATUS_* from the reference curl client.
const (
	StatusCompleted Status = iota
	StatusPartialFile
	StatusNotFound
	StatusForbidden
	StatusTimeout
	StatusWriteError
	StatusRangeError
	StatusError
)

// Strategy says what a caller should do after a failed attempt.
type Strategy int

// The three retry strategies; a caller never needs to inspect a Status
// directly, it only needs to act on the Strategy DetermineStrategy returns.
const (
	NoRetry Strategy = iota
	RetryNow
	RetryWithDelay
)

// DetermineStrategy is a pure function mapping a download outcome to a
// retry decision, mirroring determine_strategy in the reference curl
// client exactly: local content never retries (there is no transient
// network condition to wait out), a clean 403/404/write failure means
// retrying would just fail again, a range error or partial file is worth
// retrying immediately (the server likely just dropped the connection),
// and a generic error or timeout is worth retrying after a backoff.
func DetermineStrategy(status Status, contentURLIsLocal bool) Strategy {
	if contentURLIsLocal {
		return NoRetry
	}
	switch status {
	case StatusForbidden, StatusNotFound, StatusWriteError:
		return NoRetry
	case StatusRangeError, StatusPartialFile:
		return RetryNow
	case StatusError, StatusTimeout:
		return RetryWithDelay
	default:
		return NoRetry
	}
}

// ErrRetriesExhausted is returned by FetchWithRetry when MaxRetries
// attempts all failed with a retryable status.
var ErrRetriesExhausted = errors.New("exhausted retries downloading content")

// Context holds the fetcher's process-wide mutable state: the HTTP
// client, trust configuration, retry tuning, and the resume-capability
// latch.
type Context struct {
	ContentURL string
	VersionURL string

	CAPath         string
	FallbackCAPath string
	ClientCertPath string

	MaxRetries      int
	RetryDelay      time.Duration
	DelayMultiplier time.Duration
	MaxDelay        time.Duration

	Client *http.Client

	resumeSupported int32 // atomic bool, 1 = supported
	totalBytes      int64 // atomic counter, bytes received across all fetches

	contentURLIsLocal bool
}

// NewContext builds a Context with the reference client's timeouts and
// retry tuning (30s connect timeout, a 1 byte/second low-speed limit
// folded into a 120s overall receive timeout here since Go's transport
// does not expose a low-speed-limit knob directly).
func NewContext(contentURL, versionURL string) *Context {
	c := &Context{
		ContentURL:      contentURL,
		VersionURL:      versionURL,
		MaxRetries:      3,
		RetryDelay:      1 * time.Second,
		DelayMultiplier: 2,
		MaxDelay:        30 * time.Second,
		contentURLIsLocal: !strings.HasPrefix(contentURL, "http://") &&
			!strings.HasPrefix(contentURL, "https://"),
	}
	c.resumeSupported = 1
	c.Client = &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 30 * time.Second,
			}).DialContext,
		},
	}
	return c
}

// Init probes connectivity against VersionURL using the default trust
// store. If, and only if, that probe fails with a certificate-class
// error, it iterates FallbackCAPaths (colon-separated) looking for a
// directory it can use as an alternate trust anchor, latching the first
// one that both exists and lets the probe succeed: the Client used by
// every later FetchWithRetry call is rebuilt against that CA path (and
// the configured client certificate, if any) so the probe's outcome
// actually governs subsequent transfers. Mirrors swupd_curl_init/
// check_connection from the reference curl client: fallback probing is
// triggered by certificate problems specifically, never by a generic
// network failure.
func (c *Context) Init(fallbackCAPaths string) error {
	if err := c.checkConnection(""); err == nil {
		return c.commitTransport("")
	} else if !isCertError(err) {
		return err
	}

	for _, candidate := range strings.Split(fallbackCAPaths, ":") {
		if candidate == "" {
			continue
		}
		fi, statErr := os.Stat(candidate)
		if statErr != nil || !fi.IsDir() {
			continue
		}
		if err := c.checkConnection(candidate); err == nil {
			c.FallbackCAPath = candidate
			return c.commitTransport(candidate)
		}
	}

	return errBadCert
}

// commitTransport rebuilds c.Client's transport with the trust anchor and
// client certificate that either the default probe or a fallback CA path
// proved usable, so every later transfer on this Context reuses the same
// connection policy the probe validated.
func (c *Context) commitTransport(capath string) error {
	transport, err := c.buildTransport(capath)
	if err != nil {
		return err
	}
	c.Client = &http.Client{Timeout: c.Client.Timeout, Transport: transport}
	return nil
}

// buildTransport returns an http.Transport configured with capath as an
// additional trust anchor (when non-empty) and the configured client
// certificate (when ClientCertPath names a file that exists; its absence
// is not an error, per the fetcher's contract).
func (c *Context) buildTransport(capath string) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
	}

	var tlsConfig *tls.Config
	if capath != "" {
		pool, err := loadCAPath(capath)
		if err != nil {
			return nil, err
		}
		tlsConfig = &tls.Config{RootCAs: pool}
	}

	if c.ClientCertPath != "" {
		if _, statErr := os.Stat(c.ClientCertPath); statErr == nil {
			cert, err := tls.LoadX509KeyPair(c.ClientCertPath, c.ClientCertPath)
			if err != nil {
				return nil, errors.Wrapf(err, "couldn't load client certificate %s", c.ClientCertPath)
			}
			if tlsConfig == nil {
				tlsConfig = &tls.Config{}
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	transport.TLSClientConfig = tlsConfig
	return transport, nil
}

var errBadCert = errors.New("no usable certificate trust anchor found")

type certError struct{ error }

func isCertError(err error) bool {
	_, ok := err.(*certError)
	if ok {
		return true
	}
	// net/http wraps TLS errors in a url.Error; inspect the message since
	// the stdlib does not expose a typed x509 verification failure here
	// in a way a HEAD-probe caller can easily unwrap across Go versions.
	return strings.Contains(err.Error(), "x509") || strings.Contains(err.Error(), "certificate")
}

func (c *Context) checkConnection(capath string) error {
	client := c.Client
	if capath != "" || c.ClientCertPath != "" {
		transport, err := c.buildTransport(capath)
		if err != nil {
			return &certError{err}
		}
		client = &http.Client{Timeout: c.Client.Timeout, Transport: transport}
	}

	req, err := http.NewRequest(http.MethodHead, c.VersionURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		if isCertError(err) {
			return &certError{err}
		}
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func loadCAPath(dir string) (*x509.CertPool, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, rerr := ioutil.ReadFile(dir + "/" + entry.Name())
		if rerr != nil {
			continue
		}
		pool.AppendCertsFromPEM(data)
	}
	return pool, nil
}

// TotalBytes returns the cumulative number of response bytes received by
// FetchWithRetry across the lifetime of this Context.
func (c *Context) TotalBytes() int64 {
	return atomic.LoadInt64(&c.totalBytes)
}

func (c *Context) resumeAllowed() bool {
	return atomic.LoadInt32(&c.resumeSupported) == 1
}

func (c *Context) disableResume() {
	atomic.StoreInt32(&c.resumeSupported, 0)
}

// FetchWithRetry downloads url to path, retrying according to
// DetermineStrategy until the download completes, a non-retryable status
// is hit, or MaxRetries is exhausted. resumeOK indicates the caller wants
// a partial download left at path+".downloading" resumed via a Range request; it is honored only
// while the process-wide resume latch is still set (a prior RangeError
// anywhere disables it for the rest of the process, mirroring the
// reference client's resume_download_supported static).
func (c *Context) FetchWithRetry(url, path string, resumeOK bool) error {
	delay := c.RetryDelay
	for attempt := 0; ; attempt++ {
		status, err := c.fetchOnce(url, path, resumeOK && c.resumeAllowed())

		if status == StatusRangeError {
			c.disableResume()
		}

		if status == StatusCompleted {
			return nil
		}

		strategy := DetermineStrategy(status, c.contentURLIsLocal)
		switch strategy {
		case NoRetry:
			if err == nil {
				err = fmt.Errorf("download failed with non-retryable status %d", status)
			}
			return err
		case RetryNow:
			// no sleep
		case RetryWithDelay:
			if attempt >= c.MaxRetries {
				return ErrRetriesExhausted
			}
			time.Sleep(delay)
			delay *= c.DelayMultiplier
			if delay > c.MaxDelay {
				delay = c.MaxDelay
			}
			continue
		}

		if attempt >= c.MaxRetries {
			return ErrRetriesExhausted
		}
	}
}
