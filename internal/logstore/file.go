package logstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/valyala/fastjson"

	"secuflow/pkg/models"
)

// FileStore reads a JSON array of records, optionally zstd-compressed (.zst).
type FileStore struct {
	fs     afero.Fs
	path   string
	parser fastjson.ParserPool
}

// NewFileStore creates a file-backed store. A nil fs means the OS filesystem.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, path: path}
}

// Load reads and decodes the whole file.
func (s *FileStore) Load(ctx context.Context) ([]models.LogRecord, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: log file not found at %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("read log file: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(s.path), ".zst") {
		data, err = decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompress log file %s: %w", s.path, err)
		}
	}

	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse log file %s: %w", s.path, err)
	}
	items, err := v.Array()
	if err != nil {
		return nil, fmt.Errorf("parse log file %s: %w", s.path, err)
	}

	records := make([]models.LogRecord, 0, len(items))
	for i, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, fmt.Errorf("parse log file %s: record %d: %w", s.path, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Describe returns the file path.
func (s *FileStore) Describe() string {
	return "file:" + s.path
}

// Close releases nothing; files are read per call.
func (s *FileStore) Close() error {
	return nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
