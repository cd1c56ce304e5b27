package tbwatch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const maskDelta = 0xa282ead8

// maskedCRC returns the masked CRC32C used by TFRecord framing.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// ErrCorrupt reports a TFRecord checksum mismatch.
var ErrCorrupt = errors.New("tfrecord checksum mismatch")

// maxRecordSize bounds a single TFRecord payload.
const maxRecordSize = 256 << 20

// RecordReader reads TFRecord framed payloads:
//
//	uint64 length | uint32 masked crc(length) | data | uint32 masked crc(data)
type RecordReader struct {
	r io.Reader
}

// NewRecordReader creates a TFRecord reader.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: r}
}

// Next returns the next payload.
//
// Errors:
//   - io.EOF: clean end of stream
//   - io.ErrUnexpectedEOF: truncated record, usually a file still being written
//   - ErrCorrupt: checksum mismatch
func (rr *RecordReader) Next() ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(rr.r, header[:]); err != nil {
		return nil, err
	}
	if maskedCRC(header[:8]) != binary.LittleEndian.Uint32(header[8:]) {
		return nil, fmt.Errorf("%w: length", ErrCorrupt)
	}

	length := binary.LittleEndian.Uint64(header[:8])
	if length > maxRecordSize {
		return nil, fmt.Errorf("%w: record length %d", ErrCorrupt, length)
	}

	buf := make([]byte, length+4)
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	data := buf[:length]
	if maskedCRC(data) != binary.LittleEndian.Uint32(buf[length:]) {
		return nil, fmt.Errorf("%w: data", ErrCorrupt)
	}
	return data, nil
}

// RecordWriter writes TFRecord framed payloads.
type RecordWriter struct {
	w io.Writer
}

// NewRecordWriter creates a TFRecord writer.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

// Write frames and writes one payload.
func (rw *RecordWriter) Write(data []byte) error {
	buf := make([]byte, 12, 16+len(data))
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(buf[8:12], maskedCRC(buf[:8]))
	buf = append(buf, data...)
	buf = binary.LittleEndian.AppendUint32(buf, maskedCRC(data))
	_, err := rw.w.Write(buf)
	return err
}
