package device

import (
	"fmt"
)

// DefaultChunkSize is the protocol cap on properties per batch-read call.
const DefaultChunkSize = 15

// BatchReader is the transport capability the fetcher needs: one batched
// property read returning positional values, one value per requested key.
type BatchReader interface {
	GetProperties(keys []string) ([]any, error)
}

// FetchError wraps any failure while assembling a snapshot. The caller must
// skip the cycle and keep the previous snapshot.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("property fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher assembles full device snapshots from chunked batch reads.
type Fetcher struct {
	reader    BatchReader
	chunkSize int
}

// NewFetcher creates a fetcher reading through reader, chunkSize keys per
// call. A chunkSize of zero or less takes DefaultChunkSize.
func NewFetcher(reader BatchReader, chunkSize int) *Fetcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Fetcher{reader: reader, chunkSize: chunkSize}
}

// Fetch reads every declared property and reassembles the responses into one
// snapshot, pairing each key with its positional value. Any chunk error or a
// chunk response whose length does not match its key count fails the whole
// fetch; no partial snapshot is ever produced.
func (f *Fetcher) Fetch() (Snapshot, error) {
	keys := PropKeys()
	raw := make(map[PropKey]any, len(keys))

	for start := 0; start < len(keys); start += f.chunkSize {
		end := start + f.chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		names := make([]string, len(chunk))
		for i, k := range chunk {
			names[i] = string(k)
		}

		values, err := f.reader.GetProperties(names)
		if err != nil {
			return Snapshot{}, &FetchError{Err: fmt.Errorf("chunk [%d:%d]: %w", start, end, err)}
		}
		if len(values) != len(chunk) {
			return Snapshot{}, &FetchError{Err: fmt.Errorf("chunk [%d:%d]: got %d values for %d keys", start, end, len(values), len(chunk))}
		}

		for i, k := range chunk {
			raw[k] = values[i]
		}
	}

	snap, err := NewSnapshot(raw)
	if err != nil {
		return Snapshot{}, &FetchError{Err: err}
	}
	return snap, nil
}
