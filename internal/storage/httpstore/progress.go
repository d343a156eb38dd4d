package httpstore

import (
	"io"

	"chunkup/internal/storage"
)

// progressReader reports the running byte count of everything read through it
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    storage.ProgressFunc
}

func newProgressReader(r io.Reader, total int64, fn storage.ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
