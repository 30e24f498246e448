package swf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/tliron/commonlog"
	"github.com/ulikunitz/xz/lzma"
)

// logger is resolved on use so the backend chosen by the host applies.
func logger() commonlog.Logger {
	return commonlog.GetLogger("swfvm.swf")
}

// Header size constants
const (
	signatureSize  = 3
	fileHeaderSize = 8 // signature, version, file length
	lzmaPropsSize  = 5
	zwsHeaderSize  = fileHeaderSize + 4 + lzmaPropsSize

	// maxBodyLength bounds the buffer allocated from a declared length.
	maxBodyLength = 1 << 28
)

// MovieHeader is the fixed header in front of the root tag list.
type MovieHeader struct {
	Signature  string
	Version    uint8
	FileLength uint32
	FrameSize  Rect
	FrameRate  float64
	FrameCount uint16
}

// Movie is a fully read container: its header and root tag list.
type Movie struct {
	Header  MovieHeader
	Tags    []Tag
	Skipped []error
}

// FileAttributes returns the movie's FileAttributes tag, if any.
func (m *Movie) FileAttributes() *FileAttributes {
	for _, t := range m.Tags {
		if fa, ok := t.(*FileAttributes); ok {
			return fa
		}
	}
	return nil
}

// IsActionScript3 reports whether the movie runs modern-dialect code.
func (m *Movie) IsActionScript3() bool {
	fa := m.FileAttributes()
	return fa != nil && m.Header.Version >= 9 && fa.ActionScript3()
}

// Parse reads an entire container. Header and body failures are fatal;
// malformed tags are collected in Movie.Skipped.
func Parse(data []byte) (*Movie, error) {
	hdr, r, err := Open(data)
	if err != nil {
		return nil, err
	}
	tags, skipped, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, e := range skipped {
		logger().Warningf("skipped tag: %v", e)
	}
	return &Movie{Header: *hdr, Tags: tags, Skipped: skipped}, nil
}

// Open decompresses the container body, decodes the header and returns a
// Reader positioned at the first root tag.
func Open(data []byte) (*MovieHeader, *Reader, error) {
	if len(data) < fileHeaderSize {
		return nil, nil, &ContainerError{Offset: 0, Reason: "file shorter than header", Err: ErrUnexpectedEOF}
	}
	hdr := &MovieHeader{
		Signature:  string(data[:signatureSize]),
		Version:    data[3],
		FileLength: binary.LittleEndian.Uint32(data[4:8]),
	}

	if hdr.Version == 0 {
		return nil, nil, &ContainerError{Offset: 3, Reason: "version 0", Err: ErrUnsupportedVersion}
	}

	body, err := decompress(hdr, data)
	if err != nil {
		return nil, nil, err
	}

	s := newStream(body, hdr.Version)
	if hdr.FrameSize, err = s.rect(); err != nil {
		return nil, nil, &ContainerError{Offset: fileHeaderSize, Reason: "frame size", Err: err}
	}
	if hdr.FrameRate, err = s.fixed8(); err != nil {
		return nil, nil, &ContainerError{Offset: fileHeaderSize + s.pos, Reason: "frame rate", Err: err}
	}
	if hdr.FrameCount, err = s.u16(); err != nil {
		return nil, nil, &ContainerError{Offset: fileHeaderSize + s.pos, Reason: "frame count", Err: err}
	}

	logger().Debugf("opened %s v%d: %d frames at %.2f fps", hdr.Signature, hdr.Version, hdr.FrameCount, hdr.FrameRate)
	return hdr, NewReader(body[s.pos:], hdr.Version, fileHeaderSize+s.pos), nil
}

// decompress returns the body following the 8-byte file header, inflated
// according to the signature.
func decompress(hdr *MovieHeader, data []byte) ([]byte, error) {
	switch hdr.Signature {
	case "FWS":
		return data[fileHeaderSize:], nil

	case "CWS":
		zr, err := zlib.NewReader(bytes.NewReader(data[fileHeaderSize:]))
		if err != nil {
			return nil, &ContainerError{Offset: fileHeaderSize, Reason: "zlib stream", Err: err}
		}
		defer zr.Close()
		return inflate(zr, hdr)

	case "ZWS":
		if len(data) < zwsHeaderSize {
			return nil, &ContainerError{Offset: fileHeaderSize, Reason: "lzma header", Err: ErrUnexpectedEOF}
		}
		// Rebuild the classic LZMA header: properties then a 64-bit
		// uncompressed size.
		classic := make([]byte, lzmaPropsSize+8, lzmaPropsSize+8+len(data)-zwsHeaderSize)
		copy(classic, data[fileHeaderSize+4:zwsHeaderSize])
		binary.LittleEndian.PutUint64(classic[lzmaPropsSize:], uint64(bodyLength(hdr)))
		classic = append(classic, data[zwsHeaderSize:]...)
		lr, err := lzma.NewReader(bytes.NewReader(classic))
		if err != nil {
			return nil, &ContainerError{Offset: fileHeaderSize, Reason: "lzma stream", Err: err}
		}
		return inflate(lr, hdr)

	default:
		return nil, &ContainerError{
			Offset: 0,
			Reason: fmt.Sprintf("signature %q", hdr.Signature),
			Err:    ErrInvalidSignature,
		}
	}
}

func bodyLength(hdr *MovieHeader) int {
	if hdr.FileLength < fileHeaderSize {
		return 0
	}
	return int(hdr.FileLength) - fileHeaderSize
}

func inflate(r io.Reader, hdr *MovieHeader) ([]byte, error) {
	if bodyLength(hdr) > maxBodyLength {
		return nil, &ContainerError{Offset: 4, Reason: fmt.Sprintf("declared length %d too large", hdr.FileLength)}
	}
	body := make([]byte, bodyLength(hdr))
	n, err := io.ReadFull(r, body)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, &ContainerError{Offset: fileHeaderSize, Reason: "decompress body", Err: err}
	}
	if n < len(body) {
		// Some encoders overstate the length; keep what inflated.
		logger().Warningf("%s body inflated to %d of %d declared bytes", hdr.Signature, n, len(body))
		body = body[:n]
	}
	return body, nil
}
