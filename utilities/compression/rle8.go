package compression

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// maxRunPerGroup is the longest run a single RLE8 group can describe: the two
// literal bytes plus up to 255 repeats.
const maxRunPerGroup = 257

// byteRun is a run of identical bytes in the input.
type byteRun struct {
	value  byte
	length int
}

// runScanner splits a stream into runs of identical bytes.
type runScanner struct {
	rd *bufio.Reader
}

func newRunScanner(rd io.Reader) runScanner {
	return runScanner{rd: bufio.NewReader(rd)}
}

// next returns the next run in the stream. At the end of the input it returns
// a zero-length run and io.EOF.
func (scanner runScanner) next() (byteRun, error) {
	first, err := scanner.rd.ReadByte()
	if err != nil {
		return byteRun{}, err
	}

	run := byteRun{value: first, length: 1}
	for {
		current, err := scanner.rd.ReadByte()
		if errors.Is(err, io.EOF) {
			return run, nil
		}
		if err != nil {
			return byteRun{}, err
		}
		if current != first {
			scanner.rd.UnreadByte()
			return run, nil
		}
		run.length++
	}
}

// EncodeRLE8 run-length encodes everything in `input` and writes it to
// `output`. It returns the number of bytes written.
func EncodeRLE8(input io.Reader, output io.Writer) (int64, error) {
	scanner := newRunScanner(input)
	written := int64(0)

	emit := func(chunk ...byte) error {
		n, err := output.Write(chunk)
		written += int64(n)
		return err
	}

	for {
		run, err := scanner.next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		for run.length >= 2 {
			group := run.length
			if group > maxRunPerGroup {
				group = maxRunPerGroup
			}
			err = emit(run.value, run.value, byte(group-2))
			if err != nil {
				return written, err
			}
			run.length -= group
		}

		if run.length == 1 {
			err = emit(run.value)
			if err != nil {
				return written, err
			}
		}
	}
}

// DecodeRLE8 expands RLE8 data from `input` into `output` and returns the
// number of bytes written. Input that ends between a pair and its count byte
// is reported as io.ErrUnexpectedEOF.
func DecodeRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	previous := -1
	written := int64(0)

	for {
		current, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("reading RLE8 input: %w", err)
		}

		var expanded []byte
		if int(current) == previous {
			count, err := source.ReadByte()
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			if err != nil {
				return written, fmt.Errorf("reading count after two %#02x bytes: %w", current, err)
			}

			// The first byte of the pair was already written out on its own.
			expanded = bytes.Repeat([]byte{current}, int(count)+1)
			previous = -1
		} else {
			expanded = []byte{current}
			previous = int(current)
		}

		n, err := output.Write(expanded)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("writing RLE8 output: %w", err)
		}
	}
}
