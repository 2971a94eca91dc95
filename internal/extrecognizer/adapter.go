// Copyright 2024 The Attendly Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package extrecognizer implements the external recognizer subprocess
// bridge: an optional, higher-accuracy alternative classifier
// reached over stdout/stderr of a short-lived child process.
package extrecognizer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/types"
)

// Adapter launches an external recognizer executable and speaks its
// train/recognize JSON protocol over stdout, reading stdout and
// stderr on independent goroutines to avoid pipe deadlock.
type Adapter struct {
	commands []string
	timeout  time.Duration

	mu       sync.Mutex
	resolved string // cached working command name, "" until first probe
}

var _ types.ExternalRecognizer = (*Adapter)(nil)

// New returns an Adapter that probes commands, in order, for a
// working executable, bounding every subprocess invocation by
// timeout.
func New(commands []string, timeout time.Duration) *Adapter {
	return &Adapter{commands: commands, timeout: timeout}
}

// Available implements types.ExternalRecognizer via `<cmd> --version`.
func (a *Adapter) Available(ctx context.Context) bool {
	_, err := a.resolve(ctx)
	return err == nil
}

// resolve returns the first command name in a.commands that responds
// successfully to --version, caching the result so later calls skip
// the probe.
func (a *Adapter) resolve(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.resolved != "" {
		return a.resolved, nil
	}
	for _, name := range a.commands {
		cctx, cancel := context.WithTimeout(ctx, a.timeout)
		err := exec.CommandContext(cctx, name, "--version").Run()
		cancel()
		if err == nil {
			a.resolved = name
			return name, nil
		}
	}
	return "", apperror.New(apperror.External, nil, "no external recognizer executable found among %v", a.commands)
}

// trainSubject mirrors the subprocess's expected JSON subject shape;
// forward slashes in imagePath are required by the protocol regardless
// of host OS path separator conventions.
type trainSubject struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	ImagePath  string `json:"imagePath"`
	LabelID    int    `json:"labelId"`
}

type trainResponse struct {
	Success      bool   `json:"success"`
	TrainedCount int    `json:"trainedCount"`
	Message      string `json:"message"`
}

// Train implements types.ExternalRecognizer by writing a subjects
// JSON file to a temp path and invoking `<cmd> train <path>`.
func (a *Adapter) Train(ctx context.Context, subjects []types.Subject) (int, error) {
	cmd, err := a.resolve(ctx)
	if err != nil {
		return 0, err
	}

	payload := make([]trainSubject, len(subjects))
	for i, s := range subjects {
		payload[i] = trainSubject{
			ID:         s.ID,
			Name:       s.Name,
			Department: s.Department,
			ImagePath:  strings.ReplaceAll(s.ImagePath, `\`, "/"),
			LabelID:    s.LabelID,
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, apperror.New(apperror.External, err, "could not encode subjects for external trainer")
	}

	tmp, err := os.CreateTemp("", "facetrack-subjects-*.json")
	if err != nil {
		return 0, apperror.New(apperror.External, err, "could not create subjects file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return 0, apperror.New(apperror.External, err, "could not write subjects file")
	}
	if err := tmp.Close(); err != nil {
		return 0, apperror.New(apperror.External, err, "could not close subjects file")
	}

	var resp trainResponse
	if err := a.run(ctx, &resp, cmd, "train", tmp.Name()); err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, apperror.New(apperror.External, nil, "external train failed: %s", resp.Message)
	}
	return resp.TrainedCount, nil
}

type recognizeFace struct {
	LabelID    int     `json:"labelId"`
	Name       string  `json:"name"`
	Department string  `json:"department"`
	Confidence float64 `json:"confidence"`
	Location   []int   `json:"location"` // [top, right, bottom, left]
}

type recognizeResponse struct {
	Success bool            `json:"success"`
	Faces   []recognizeFace `json:"faces"`
}

// Recognize implements types.ExternalRecognizer via
// `<cmd> recognize <imagePath>`.
func (a *Adapter) Recognize(ctx context.Context, imagePath string) ([]types.RecognizedFace, error) {
	cmd, err := a.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var resp recognizeResponse
	if err := a.run(ctx, &resp, cmd, "recognize", strings.ReplaceAll(imagePath, `\`, "/")); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apperror.New(apperror.External, nil, "external recognize reported failure")
	}

	out := make([]types.RecognizedFace, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		rect := rectFromLocation(f.Location)
		out = append(out, types.RecognizedFace{
			Rect:       rect,
			Recognized: true,
			Name:       f.Name,
			Department: f.Department,
			Distance:   f.Confidence,
		})
	}
	return out, nil
}

// run executes cmd with args under a.timeout, reads stdout and stderr
// concurrently, parses the first line of stdout that begins with '{'
// or '[' as JSON into out, and logs everything else on stderr as a
// warning rather than failing the call outright.
func (a *Adapter) run(ctx context.Context, out any, cmd string, args ...string) error {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	c := exec.CommandContext(cctx, cmd, args...)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return apperror.New(apperror.External, err, "could not open stdout pipe")
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return apperror.New(apperror.External, err, "could not open stderr pipe")
	}

	if err := c.Start(); err != nil {
		return apperror.New(apperror.External, err, "could not start %q", cmd)
	}

	var wg sync.WaitGroup
	var jsonLine []byte
	wg.Add(2)
	go func() {
		defer wg.Done()
		jsonLine = readFirstJSONLine(stdout)
	}()
	go func() {
		defer wg.Done()
		drainWarnings(cmd, stderr)
	}()
	wg.Wait()

	waitErr := c.Wait()
	if cctx.Err() == context.DeadlineExceeded {
		if c.Process != nil {
			_ = c.Process.Kill()
		}
		return apperror.New(apperror.External, context.DeadlineExceeded, "%q exceeded its timeout", cmd)
	}
	if waitErr != nil {
		return apperror.New(apperror.External, waitErr, "%q exited with an error", cmd)
	}
	if len(jsonLine) == 0 {
		return apperror.New(apperror.External, nil, "%q produced no parseable JSON output", cmd)
	}
	if err := json.Unmarshal(jsonLine, out); err != nil {
		return apperror.New(apperror.External, err, "could not parse %q output", cmd)
	}
	return nil
}

// readFirstJSONLine scans r line by line and returns the first line
// that looks like a JSON value, tolerating interleaved non-JSON
// banner/warning text on the same stream.
func readFirstJSONLine(r io.Reader) []byte {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] == '{' || line[0] == '[' {
			out := make([]byte, len(line))
			copy(out, line)
			return out
		}
	}
	return nil
}

// drainWarnings logs every line on r as a warning; stderr output from
// a well-behaved subprocess is diagnostic noise, not a failure signal
// on its own (exit code and stdout JSON are authoritative).
func drainWarnings(cmd string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.WithField("cmd", cmd).Warn(line)
	}
}

// rectFromLocation converts the protocol's [top, right, bottom, left]
// quad into an image.Rectangle. A malformed (wrong-length) quad
// yields the zero rectangle rather than panicking.
func rectFromLocation(loc []int) image.Rectangle {
	if len(loc) != 4 {
		return image.Rectangle{}
	}
	top, right, bottom, left := loc[0], loc[1], loc[2], loc[3]
	return image.Rect(left, top, right, bottom)
}
