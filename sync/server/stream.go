package server

import (
	"bufio"
	"io"
	"net/http"
)

// defaultChunkSize is the buffer size used when streaming a large blob
// to the client, matching the teacher's backend/http flush writer.
const defaultChunkSize = 4096

// flushingWriter wraps an http.ResponseWriter so a long Version GET
// streams its body in bounded chunks instead of buffering the whole
// blob, flushing after every chunk when the underlying writer supports
// http.Flusher. Grounded on the teacher's backend/http/writer.go,
// generalized from its git-pack-specific use to this module's CAS blob
// downloads.
type flushingWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newFlushingWriter(w http.ResponseWriter) *flushingWriter {
	f, _ := w.(http.Flusher)
	return &flushingWriter{w: w, f: f}
}

// ReadFrom copies from r in defaultChunkSize chunks, flushing the
// underlying ResponseWriter after each one so a client streaming a
// large file sees bytes as they become available rather than waiting
// for the whole body to buffer server-side.
func (fw *flushingWriter) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, defaultChunkSize)
	var total int64
	br := bufio.NewReaderSize(r, defaultChunkSize)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			written, werr := fw.w.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
			if fw.f != nil {
				fw.f.Flush()
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

var _ io.ReaderFrom = (*flushingWriter)(nil)
