package lsm

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink is the concrete Sink used outside tests: each Flush writes one
// direct-I/O file per snapshot, named by its snapshot_min, framed as a
// 12-byte header (snapshot_min, value count) followed by one
// length-prefixed record per value.
type FileSink[V any] struct {
	dir string
}

// NewFileSink constructs a FileSink writing snapshot files into dir. dir
// must already exist.
func NewFileSink[V any](dir string) *FileSink[V] {
	return &FileSink[V]{dir: dir}
}

// Flush writes values, encoded by encode, to a new snapshot file.
func (s *FileSink[V]) Flush(snapshotMin uint64, values []V, encode func(V) []byte) error {
	name := filepath.Join(s.dir, fmt.Sprintf("%020d.sst", snapshotMin))
	w, err := NewWriter(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer w.Close()

	header := make([]byte, 12)
	binary.LittleEndian.PutUint64(header[0:8], snapshotMin)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(values)))
	buf := header

	for _, v := range values {
		body := encode(v)
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(body)))
		buf = append(buf, lenBuf...)
		buf = append(buf, body...)
	}
	_, err = w.Write(buf)
	return err
}
