package store

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// Pager owns the data file and performs page-aligned reads and writes.
// It has no notion of pinning, dirtiness, or transactions - those live
// one layer up, in BufferPool.
type Pager struct {
	file   *os.File
	logger *zap.Logger
}

// NewPager opens (creating if absent) the data file in read-write mode.
func NewPager(path string, logger *zap.Logger) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open data file %q: %w", path, err)
	}
	return &Pager{file: f, logger: logger}, nil
}

// Close closes the underlying data file.
func (p *Pager) Close() error {
	return p.file.Close()
}

// ReadPage reads the page at index idx. If the page lies entirely
// beyond the end of the file, an all-zero page is returned. If the
// file ends partway through the page, the partial contents are
// returned zero-padded to PageSize.
func (p *Pager) ReadPage(idx uint32) (Page, error) {
	if int64(idx) < 0 {
		return Page{}, fmt.Errorf("read page %d: %w", idx, ErrInvalidArgument)
	}

	var page Page
	offset := int64(idx) * PageSize

	n, err := p.file.ReadAt(page[:], offset)
	if err != nil && err != io.EOF {
		return Page{}, fmt.Errorf("read page %d: %w: %w", idx, ErrIO, err)
	}

	p.logger.Sugar().Debugw("read page", "page", idx, "bytes", n)
	return page, nil
}

// WritePage writes buf at the page-aligned offset for idx, extending
// the file as needed.
func (p *Pager) WritePage(idx uint32, buf Page) error {
	if int64(idx) < 0 {
		return fmt.Errorf("write page %d: %w", idx, ErrInvalidArgument)
	}

	offset := int64(idx) * PageSize
	if _, err := p.file.WriteAt(buf[:], offset); err != nil {
		return fmt.Errorf("write page %d: %w: %w", idx, ErrIO, err)
	}

	p.logger.Sugar().Debugw("wrote page", "page", idx)
	return nil
}

// Length returns the current byte length of the data file.
func (p *Pager) Length() (int64, error) {
	info, err := p.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat data file: %w: %w", ErrIO, err)
	}
	return info.Size(), nil
}

// SetLength truncates or extends the data file to exactly n bytes.
// Extension zero-fills, matching the semantics of os.File.Truncate.
func (p *Pager) SetLength(n int64) error {
	if n < 0 {
		return fmt.Errorf("set length %d: %w", n, ErrInvalidArgument)
	}
	if err := p.file.Truncate(n); err != nil {
		return fmt.Errorf("truncate data file to %d: %w: %w", n, ErrIO, err)
	}
	return nil
}
