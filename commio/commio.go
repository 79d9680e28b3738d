// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package commio implements the framed message encoding used by
// bigcomm transports. A framed message is a 4-byte big-endian length
// header followed by a payload of exactly that many bytes. Framing
// lets a receiver accept a variable-length payload whose size it
// cannot know in advance: it blocks for the header, allocates a
// buffer of exactly the advertised size, then blocks for the payload.
//
// The package also provides gob-based value encoding for payloads
// that carry structured configuration, such as Broadcast values.
package commio

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
)

// headerSize is the fixed width of the frame length header.
const headerSize = 4

// maxFrameSize bounds the payload size a reader will allocate,
// guarding against corrupt or hostile headers.
const maxFrameSize = 1 << 30

// WriteFrame writes a single framed message to w: the payload's
// length followed by the payload itself. An empty (or nil) payload is
// valid and produces a bare header.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads a single framed message from r, returning its
// payload. ReadFrame blocks until the full payload has been read. It
// returns io.EOF if the stream ends cleanly before a header;
// a stream that ends mid-message returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return nil, nil
	}
	if n > maxFrameSize {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("frame of %d bytes exceeds limit", n))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// EncodeValue returns the gob encoding of v, suitable for transfer as
// a framed payload.
func EncodeValue(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, errors.E(err, "commio: encode value")
	}
	return b.Bytes(), nil
}

// DecodeValue decodes a payload produced by EncodeValue into v, which
// must be a pointer.
func DecodeValue(payload []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return errors.E(err, "commio: decode value")
	}
	return nil
}
