// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package index

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Binary layout of vectors.bin, all little-endian:
//
//	magic   [8]byte  "AISLEVEC"
//	version uint32
//	dim     uint32
//	count   uint32
//	ids     count * int64
//	vectors count * dim * float32
const (
	vectorsFile   = "vectors.bin"
	formatVersion = 1
)

var magic = [8]byte{'A', 'I', 'S', 'L', 'E', 'V', 'E', 'C'}

// Persist writes the index to dir as vectors.bin. The file is written to a
// temp path and renamed so a crash never leaves a truncated index behind.
func (ix *Index) Persist(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return aisleerr.Wrapf(err, aisleerr.CodeIndexPersistFailure, "creating index dir %s", dir)
	}

	path := filepath.Join(dir, vectorsFile)
	tmp, err := os.CreateTemp(dir, vectorsFile+".tmp-*")
	if err != nil {
		return aisleerr.Wrapf(err, aisleerr.CodeIndexPersistFailure, "creating temp file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if err := ix.writeTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return aisleerr.Wrapf(err, aisleerr.CodeIndexPersistFailure, "closing %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return aisleerr.Wrapf(err, aisleerr.CodeIndexPersistFailure, "renaming into %s", path)
	}
	return nil
}

func (ix *Index) writeTo(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(magic[:]); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeIndexPersistFailure, "writing header")
	}
	for _, v := range []uint32{formatVersion, uint32(ix.dim), uint32(ix.Len())} {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return aisleerr.Wrap(err, aisleerr.CodeIndexPersistFailure, "writing header")
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, ix.ids); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeIndexPersistFailure, "writing ids")
	}
	for _, vec := range ix.vectors {
		if err := binary.Write(bw, binary.LittleEndian, vec); err != nil {
			return aisleerr.Wrap(err, aisleerr.CodeIndexPersistFailure, "writing vectors")
		}
	}
	if err := bw.Flush(); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeIndexPersistFailure, "flushing")
	}
	return nil
}

// Load reads vectors.bin from dir. It returns CodeIndexLoadFailure when the
// file is missing or malformed; callers that also persist catalog metadata
// must cross-check document counts themselves.
func Load(dir string) (*Index, error) {
	path := filepath.Join(dir, vectorsFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, aisleerr.Wrapf(err, aisleerr.CodeIndexLoadFailure, "opening %s", path)
	}
	defer f.Close()

	return readFrom(bufio.NewReader(f))
}

func readFrom(r io.Reader) (*Index, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, aisleerr.Wrap(err, aisleerr.CodeIndexLoadFailure, "reading magic")
	}
	if header != magic {
		return nil, aisleerr.New(aisleerr.CodeIndexLoadFailure, "not an index file")
	}

	var version, dim, count uint32
	for _, dst := range []*uint32{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, aisleerr.Wrap(err, aisleerr.CodeIndexLoadFailure, "reading header")
		}
	}
	if version != formatVersion {
		return nil, aisleerr.Errorf(aisleerr.CodeIndexLoadFailure, "unsupported index version %d", version)
	}
	if dim == 0 || count == 0 {
		return nil, aisleerr.Errorf(aisleerr.CodeIndexLoadFailure, "degenerate index: dim=%d count=%d", dim, count)
	}

	ids := make([]int64, count)
	if err := binary.Read(r, binary.LittleEndian, ids); err != nil {
		return nil, aisleerr.Wrap(err, aisleerr.CodeIndexLoadFailure, "reading ids")
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, aisleerr.Wrapf(err, aisleerr.CodeIndexLoadFailure, "reading vector %d", i)
		}
		vectors[i] = vec
	}

	return newIndex(int(dim), ids, vectors), nil
}
