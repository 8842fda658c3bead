package vault

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Snapshot files carry a fixed six-byte header before the body:
// magic "SVLT", a version byte, and a flags byte. The body is the JSON
// snapshot document, gzip-compressed and/or sealed per the flags.
const (
	envelopeMagic   = "SVLT"
	envelopeVersion = 1

	flagCompressed = 1 << 0
	flagSealed     = 1 << 1

	headerSize = 6
)

// encodeEnvelope prepends the header to a prepared body.
func encodeEnvelope(body []byte, compressed, sealed bool) []byte {
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, envelopeMagic...)
	out = append(out, envelopeVersion)
	var flags byte
	if compressed {
		flags |= flagCompressed
	}
	if sealed {
		flags |= flagSealed
	}
	out = append(out, flags)
	return append(out, body...)
}

// decodeEnvelope splits a stored file into flags and body, rejecting
// unknown magic or versions.
func decodeEnvelope(data []byte) (body []byte, compressed, sealed bool, err error) {
	if len(data) < headerSize {
		return nil, false, false, fmt.Errorf("%w: file shorter than envelope header", ErrCorrupted)
	}
	if string(data[:4]) != envelopeMagic {
		return nil, false, false, fmt.Errorf("%w: bad envelope magic", ErrCorrupted)
	}
	if data[4] != envelopeVersion {
		return nil, false, false, fmt.Errorf("unsupported envelope version %d", data[4])
	}
	flags := data[5]
	return data[headerSize:], flags&flagCompressed != 0, flags&flagSealed != 0, nil
}

// compressBody gzips the encoded document.
func compressBody(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}
	return buf.Bytes(), nil
}

// decompressBody reverses compressBody.
func decompressBody(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: bad gzip stream", ErrCorrupted)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated gzip stream", ErrCorrupted)
	}
	return out, nil
}
