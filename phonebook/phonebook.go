// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package phonebook implements the distributed substring-search
// kernel and its record format. A phonebook is a line-oriented text
// file with one contact per line, the name and phone fields delimited
// by a comma and optionally surrounded by double quotes. Lines
// without a delimiter are malformed and are skipped silently, both
// when reading input files and when decoding transferred partitions;
// a malformed line is never an error.
//
// Contacts are variable-length records, so phonebook jobs distribute
// with per-rank framed sends rather than Scatter.
package phonebook

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
)

// A Contact is a single phonebook record.
type Contact struct {
	Name, Phone string
}

// Parse reads contacts from r, one per line, skipping blank and
// malformed lines. The returned error reflects only a failure of the
// underlying reader.
func Parse(r io.Reader) ([]Contact, error) {
	var contacts []Contact
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if c, ok := parseLine(scanner.Text()); ok {
			contacts = append(contacts, c)
		}
	}
	return contacts, scanner.Err()
}

// ReadFiles reads and concatenates the contacts of the named
// phonebook files, in argument order.
func ReadFiles(paths ...string) ([]Contact, error) {
	var contacts []Contact
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("phonebook: open %s", path))
		}
		cs, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("phonebook: read %s", path))
		}
		contacts = append(contacts, cs...)
	}
	return contacts, nil
}

// Marshal encodes contacts into the line-oriented transfer format,
// one "name,phone" line per contact. Marshal and Unmarshal round-trip
// provided no field contains a comma or newline.
func Marshal(contacts []Contact) []byte {
	var b bytes.Buffer
	for _, c := range contacts {
		b.WriteString(c.Name)
		b.WriteByte(',')
		b.WriteString(c.Phone)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Unmarshal decodes a transferred partition, skipping malformed
// lines.
func Unmarshal(p []byte) []Contact {
	var contacts []Contact
	for _, line := range strings.Split(string(p), "\n") {
		if c, ok := parseLine(line); ok {
			contacts = append(contacts, c)
		}
	}
	return contacts
}

func parseLine(line string) (Contact, bool) {
	if line == "" {
		return Contact{}, false
	}
	comma := strings.IndexByte(line, ',')
	if comma < 0 {
		return Contact{}, false
	}
	return Contact{
		Name:  unquote(line[:comma]),
		Phone: unquote(line[comma+1:]),
	}, true
}

// unquote strips surrounding whitespace and, when present, one pair
// of surrounding double quotes.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

// Kernel searches its partition for contacts whose name contains the
// query as a substring. Matching is neither anchored nor
// case-normalized: substring containment is the only test. It
// implements bigcomm.Kernel.
type Kernel struct {
	Query string
}

// Compute decodes the partition's contacts and emits one formatted
// "name phone" line per match. A partition with no matches produces
// an empty result.
func (k Kernel) Compute(ctx context.Context, partition []byte) ([]byte, error) {
	var b bytes.Buffer
	for _, c := range Unmarshal(partition) {
		if strings.Contains(c.Name, k.Query) {
			fmt.Fprintf(&b, "%s %s\n", c.Name, c.Phone)
		}
	}
	return b.Bytes(), nil
}
