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

// Package framesource implements the video frame source over a
// V4L2 camera device via github.com/vladimirvivien/go4vl.
package framesource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"github.com/attendly/facetrack/internal/apperror"
	"github.com/attendly/facetrack/internal/types"
)

// V4L2Source implements types.FrameSource over a local V4L2 camera
// device.
type V4L2Source struct {
	dev    *device.Device
	frames <-chan []byte
	width  int
	height int
}

var _ types.FrameSource = (*V4L2Source)(nil)

// New returns an unopened V4L2Source. Call Open before Grab.
func New() *V4L2Source {
	return &V4L2Source{}
}

// Open implements types.FrameSource.
func (s *V4L2Source) Open(ctx context.Context, deviceIndex int) error {
	path := fmt.Sprintf("/dev/video%d", deviceIndex)
	dev, err := device.Open(path,
		device.WithPixFormat(v4l2.PixFormat{PixelFormat: v4l2.PixelFmtMJPEG}),
	)
	if err != nil {
		return apperror.New(apperror.CameraUnavailable, err, "could not open camera device %q", path)
	}
	if err := dev.Start(ctx); err != nil {
		dev.Close()
		return apperror.New(apperror.CameraUnavailable, err, "could not start camera stream on %q", path)
	}

	format := dev.GetPixFormat()
	s.dev = dev
	s.frames = dev.GetOutput()
	s.width = int(format.Width)
	s.height = int(format.Height)
	return nil
}

// Grab implements types.FrameSource. A closed or momentarily empty
// output channel, or a frame that fails to decode, is reported as
// ok=false, matching the "transient, caller should back off" contract.
// Only a source that is not open or a done ctx is an error.
func (s *V4L2Source) Grab(ctx context.Context) (types.Frame, bool, error) {
	if s.dev == nil {
		return types.Frame{}, false, apperror.New(apperror.Precondition, nil, "frame source is not open")
	}
	select {
	case <-ctx.Done():
		return types.Frame{}, false, ctx.Err()
	case raw, ok := <-s.frames:
		if !ok {
			return types.Frame{}, false, nil
		}
		img, err := decodeMJPEG(raw)
		if err != nil {
			return types.Frame{}, false, nil
		}
		return types.Frame{Image: img}, true, nil
	default:
		return types.Frame{}, false, nil
	}
}

// Close implements types.FrameSource. Close is idempotent: closing an
// already-closed or never-opened source is a no-op.
func (s *V4L2Source) Close() error {
	if s.dev == nil {
		return nil
	}
	s.dev.Close()
	s.dev = nil
	s.frames = nil
	return nil
}

func decodeMJPEG(raw []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperror.New(apperror.CameraUnavailable, err, "could not decode camera frame")
	}
	return img, nil
}
