package commitbuilder

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tabvc/tabvc/hash"
	"github.com/tabvc/tabvc/objects"
	"github.com/tabvc/tabvc/tabvcerr"
)

// buildFileNode constructs the FileNode for contentHash, detecting its
// data type and MIME type from a sniff of its own bytes (mimetype,
// grounded on the mime-detection approach used elsewhere in the
// example pack, since neither go-git nor oxen-rust's filtered sources
// carry a detector of their own).
func (b *Builder) buildFileNode(rs *rewriteState, name string, contentHash hash.Hash) (*objects.FileNode, error) {
	r, err := b.cas.Open(rs.ctx, contentHash)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "stat content %s", contentHash.Short())
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, tabvcerr.Wrap(tabvcerr.IO, err, "rewind content %s", contentHash.Short())
	}
	head := make([]byte, 512)
	n, _ := io.ReadFull(r, head)
	head = head[:n]

	ext := strings.ToLower(filepath.Ext(name))
	dataType, mimeType := detectType(ext, head)

	f := &objects.FileNode{
		Name:        name,
		PayloadHash: contentHash,
		Length:      uint64(size),
		DataType:    dataType,
		MimeType:    mimeType,
		Extension:   ext,
		ModTimeSec:  rs.timestamp.Unix(),
		ModTimeNsec: int64(rs.timestamp.Nanosecond()),
		Backend:     objects.BackendDisk,
		CommitID:    rs.commitID,
	}
	f.Finalize()
	return f, nil
}

// tabularExtensions are recognized by extension rather than content
// sniffing, since a sniffed CSV/TSV is indistinguishable from generic
// text.
var tabularExtensions = map[string]string{
	".csv":     "text/csv",
	".tsv":     "text/tab-separated-values",
	".parquet": "application/vnd.apache.parquet",
}

func detectType(ext string, head []byte) (objects.DataType, string) {
	if mt, ok := tabularExtensions[ext]; ok {
		return objects.DataTabular, mt
	}
	if len(head) == 0 {
		return objects.DataBinary, "application/octet-stream"
	}

	mt := mimetype.Detect(head)
	mimeStr := mt.String()
	switch {
	case strings.HasPrefix(mimeStr, "image/"):
		return objects.DataImage, mimeStr
	case strings.HasPrefix(mimeStr, "audio/"):
		return objects.DataAudio, mimeStr
	case strings.HasPrefix(mimeStr, "video/"):
		return objects.DataVideo, mimeStr
	case strings.HasPrefix(mimeStr, "text/"):
		return objects.DataText, mimeStr
	default:
		return objects.DataBinary, mimeStr
	}
}
