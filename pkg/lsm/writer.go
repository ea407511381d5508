// Package lsm is the out-of-scope boundary a flushed TableMemory snapshot is
// handed across: merging, compaction, manifest management, and on-disk
// indexing all live beyond this module. Sink is deliberately the thinnest
// interface that lets pkg/ledger.Engine exercise it end to end.
package lsm

import (
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
)

// Sink receives a TableMemory snapshot once it has been made immutable.
// snapshotMin identifies the snapshot (its low watermark); encode converts
// one table value to its on-disk bytes.
type Sink[V any] interface {
	Flush(snapshotMin uint64, values []V, encode func(V) []byte) error
}

// Writer wraps a direct-I/O file, padding every write out to the
// underlying block size so the kernel never silently falls back to
// buffered I/O for a misaligned tail write.
type Writer struct {
	file  *os.File
	block int
}

var blockOnce sync.Once
var blockSize = directio.BlockSize

// NewWriter opens name with the given flags for direct, unbuffered I/O.
func NewWriter(name string, flag int) (*Writer, error) {
	file, err := directio.OpenFile(name, flag, 0644)
	if err != nil {
		return nil, err
	}

	blockOnce.Do(func() {
		blockSize = len(directio.AlignedBlock(directio.BlockSize))
	})

	return &Writer{
		file:  file,
		block: blockSize,
	}, nil
}

var _ io.WriteCloser = (*Writer)(nil)

// Write writes buf in multiples of the block size. A short final block is
// padded before being written, so the returned n is in blocks, not bytes -
// useful for a footer that needs to know how many blocks a snapshot
// occupies.
func (f *Writer) Write(buf []byte) (n int, err error) {
	if len(buf) == 0 {
		return 0, nil
	}

	blocks := len(buf) / f.block
	rem := len(buf) % f.block

	if rem > 0 {
		n, err = f.file.Write(buf[:len(buf)-rem])
		if err != nil {
			return n, err
		}

		var p int
		pad := make([]byte, f.block-rem)
		p, err = f.file.Write(append(buf[len(buf)-rem:], pad...))
		if err != nil {
			return n + p, err
		}

		return blocks + 1, nil
	}

	n, err = f.file.Write(buf)
	if err != nil {
		return n, err
	}

	return blocks, nil
}

// Close closes the underlying file.
func (f *Writer) Close() error {
	return f.file.Close()
}
