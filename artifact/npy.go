package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var npyMagic = []byte("\x93NUMPY")

// npyHeaderAlign is the alignment numpy uses for the start of array data.
const npyHeaderAlign = 64

func shapeString(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(dims, ", ") + ")"
}

// writeNPY encodes data as a little endian float64 array in NPY version 1.0.
func writeNPY(w io.Writer, shape []int, data []float64) error {
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': %s, }", shapeString(shape))
	// magic + version + header length + header + newline
	pad := npyHeaderAlign - (len(npyMagic)+4+len(header)+1)%npyHeaderAlign
	if pad == npyHeaderAlign {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.Grow(len(npyMagic) + 4 + len(header) + 8*len(data))
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	buf.WriteString(header)
	raw := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	buf.Write(raw)
	_, err := w.Write(buf.Bytes())
	return err
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// readNPY decodes an NPY array of any float or integer type into float64 values.
func readNPY(r io.Reader) ([]int, []float64, error) {
	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, nil, errors.Wrap(err, "reading npy preamble")
	}
	if !bytes.Equal(prefix[:len(npyMagic)], npyMagic) {
		return nil, nil, errors.New("not an npy array")
	}
	var headerLen int
	switch prefix[len(npyMagic)] {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, nil, err
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, nil, err
		}
		headerLen = int(n)
	default:
		return nil, nil, errors.Errorf("unsupported npy version %d", prefix[len(npyMagic)])
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, errors.Wrap(err, "reading npy header")
	}

	descr := descrRe.FindSubmatch(header)
	fortran := fortranRe.FindSubmatch(header)
	shapeMatch := shapeRe.FindSubmatch(header)
	if descr == nil || fortran == nil || shapeMatch == nil {
		return nil, nil, errors.Errorf("malformed npy header %q", header)
	}
	shape, count, err := parseShape(string(shapeMatch[1]))
	if err != nil {
		return nil, nil, err
	}
	data, err := decodeValues(r, string(descr[1]), count)
	if err != nil {
		return nil, nil, err
	}
	if string(fortran[1]) == "True" && len(shape) == 2 {
		data = transposeColumnMajor(data, shape[0], shape[1])
	}
	return shape, data, nil
}

func parseShape(s string) ([]int, int, error) {
	shape := []int{}
	count := 1
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return nil, 0, errors.Errorf("bad npy shape (%s)", s)
		}
		shape = append(shape, d)
		count *= d
	}
	return shape, count, nil
}

func decodeValues(r io.Reader, descr string, count int) ([]float64, error) {
	if len(descr) < 3 {
		return nil, errors.Errorf("unsupported npy dtype %q", descr)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if descr[0] == '>' {
		order = binary.BigEndian
	}
	size, err := strconv.Atoi(descr[2:])
	if err != nil {
		return nil, errors.Errorf("unsupported npy dtype %q", descr)
	}
	raw := make([]byte, size*count)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "reading npy data")
	}
	out := make([]float64, count)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch kind := descr[1:2] + strconv.Itoa(size); kind {
		case "f8":
			out[i] = math.Float64frombits(order.Uint64(b))
		case "f4":
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case "i8":
			out[i] = float64(int64(order.Uint64(b)))
		case "i4":
			out[i] = float64(int32(order.Uint32(b)))
		case "i2":
			out[i] = float64(int16(order.Uint16(b)))
		case "u1":
			out[i] = float64(b[0])
		case "b1":
			out[i] = float64(b[0])
		default:
			return nil, errors.Errorf("unsupported npy dtype %q", descr)
		}
	}
	return out, nil
}

func transposeColumnMajor(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			out[r*cols+c] = data[c*rows+r]
		}
	}
	return out
}
