package compression

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
)

// gzipMagic is the first two bytes of every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// CompressImage run-length encodes a volume image from `input`, gzips it, and
// writes the result to `output`. It returns the number of bytes of RLE8 data
// handed to gzip.
func CompressImage(input io.Reader, output io.Writer) (int64, error) {
	gzWriter, err := gzip.NewWriterLevel(output, gzip.BestCompression)
	if err != nil {
		return 0, err
	}

	n, err := EncodeRLE8(input, gzWriter)
	if err != nil {
		gzWriter.Close()
		return n, err
	}
	return n, gzWriter.Close()
}

// DecompressImage reverses CompressImage and returns the size of the image
// written to `output`.
func DecompressImage(input io.Reader, output io.Writer) (int64, error) {
	gzReader, err := gzip.NewReader(input)
	if err != nil {
		return 0, err
	}
	defer gzReader.Close()
	return DecodeRLE8(gzReader, output)
}

// DecompressImageToBytes decompresses an entire image into memory.
func DecompressImageToBytes(input io.Reader) ([]byte, error) {
	var buffer bytes.Buffer
	_, err := DecompressImage(input, &buffer)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// IsCompressed reports whether `header`, the first bytes of a file, looks like
// the start of a compressed image.
func IsCompressed(header []byte) bool {
	return bytes.HasPrefix(header, gzipMagic)
}

// ReadImage reads a whole image from `input`, decompressing it first if it was
// produced by CompressImage. Raw images are returned as-is.
func ReadImage(input io.Reader) ([]byte, error) {
	buffered := bufio.NewReader(input)
	header, err := buffered.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if IsCompressed(header) {
		return DecompressImageToBytes(buffered)
	}
	return io.ReadAll(buffered)
}
