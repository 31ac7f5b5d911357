package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereocam/utils"
)

// PLYType is the encoding of a ply file body.
type PLYType int

const (
	// PLYAscii writes one whitespace separated vertex per line.
	PLYAscii PLYType = iota
	// PLYBinary writes little endian records.
	PLYBinary
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given file.
func NewFromFile(fn string) (PointCloud, error) {
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	switch filepath.Ext(fn) {
	case ".ply":
		return ReadPLY(f)
	case ".pcd":
		return ReadPCD(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes cloud to fn, choosing the format from the extension. The file is replaced
// atomically.
func WriteToFile(cloud PointCloud, fn string, binaryBody bool) error {
	var write func(w io.Writer) error
	switch filepath.Ext(fn) {
	case ".ply":
		plyType := PLYAscii
		if binaryBody {
			plyType = PLYBinary
		}
		write = func(w io.Writer) error { return WritePLY(cloud, w, plyType) }
	case ".pcd":
		pcdType := PCDAscii
		if binaryBody {
			pcdType = PCDBinary
		}
		write = func(w io.Writer) error { return ToPCD(cloud, w, pcdType) }
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}
	return utils.WriteFileAtomic(fn, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := write(w); err != nil {
			return err
		}
		return w.Flush()
	})
}

func pointColor(d Data) (uint8, uint8, uint8) {
	if d == nil || !d.HasColor() {
		return 255, 255, 255
	}
	return d.RGB255()
}

// WritePLY writes cloud as a ply file with float32 positions and, when the cloud is colored,
// 8-bit red, green and blue properties.
func WritePLY(cloud PointCloud, out io.Writer, plyType PLYType) error {
	format := "ascii"
	if plyType == PLYBinary {
		format = "binary_little_endian"
	}
	hasColor := cloud.MetaData().HasColor
	header := fmt.Sprintf("ply\nformat %s 1.0\nelement vertex %d\n"+
		"property float x\nproperty float y\nproperty float z\n", format, cloud.Size())
	if hasColor {
		header += "property uchar red\nproperty uchar green\nproperty uchar blue\n"
	}
	header += "end_header\n"
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 15)
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		r, g, b := pointColor(d)
		switch plyType {
		case PLYBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			n := 12
			if hasColor {
				buf[12], buf[13], buf[14] = r, g, b
				n = 15
			}
			_, err = out.Write(buf[:n])
		default:
			if hasColor {
				_, err = fmt.Fprintf(out, "%g %g %g %d %d %d\n",
					float32(pos.X), float32(pos.Y), float32(pos.Z), r, g, b)
			} else {
				_, err = fmt.Fprintf(out, "%g %g %g\n", float32(pos.X), float32(pos.Y), float32(pos.Z))
			}
		}
		return err == nil
	})
	return err
}

// plyNumber converts a decoded ply property to a float.
func plyNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

// ReadPLY reads the vertex element of an ascii ply file. Vertices with red, green and blue
// properties become colored points. Binary bodies are rejected.
func ReadPLY(in io.Reader) (pc PointCloud, err error) {
	// The decoder panics on malformed input.
	defer func() {
		if r := recover(); r != nil {
			pc, err = nil, errors.Errorf("malformed ply file: %v", r)
		}
	}()
	ply := goply.New(in)
	vertices := ply.Elements("vertex")
	pc = NewWithPrealloc(len(vertices))
	for i, v := range vertices {
		var pos [3]float64
		for j, name := range []string{"x", "y", "z"} {
			n, ok := plyNumber(v[name])
			if !ok {
				return nil, errors.Errorf("vertex %d has no numeric %q property", i, name)
			}
			pos[j] = n
		}
		var data Data
		red, okR := plyNumber(v["red"])
		green, okG := plyNumber(v["green"])
		blue, okB := plyNumber(v["blue"])
		if okR && okG && okB {
			data = NewColoredData(color.NRGBA{R: uint8(red), G: uint8(green), B: uint8(blue), A: 255})
		} else {
			data = NewBasicData()
		}
		if err := pc.Add(r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func colorToPCDInt(pt Data) int {
	r, g, b := pointColor(pt)
	x := 0

	x |= (int(r) << 16)
	x |= (int(g) << 8)
	x |= (int(b) << 0)
	return x
}

func pcdIntToColor(c int) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// ToPCD writes cloud as an unorganized pcd file. Positions keep the cloud's units.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	switch cloud.MetaData().HasColor {
	case true:
		_, err = fmt.Fprintf(out, "FIELDS x y z rgb\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F I\n"+
			"COUNT 1 1 1 1\n")
	case false:
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	default:
		return errors.New("compressed PCD not supported")
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	hasColor := cloud.MetaData().HasColor
	var err error
	buf := make([]byte, 16)
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		x, y, z := float32(pos.X), float32(pos.Y), float32(pos.Z)
		switch pcdtype {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(y))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(z))
			n := 12
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], uint32(colorToPCDInt(d)))
				n = 16
			}
			_, err = out.Write(buf[:n])
		default:
			if hasColor {
				_, err = fmt.Fprintf(out, "%g %g %g %d\n", x, y, z, colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(out, "%g %g %g\n", x, y, z)
			}
		}
		return err == nil
	})
	return err
}

type pcdFieldType int

const (
	pcdPointOnly  pcdFieldType = 3
	pcdPointColor pcdFieldType = 4
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parseUints(tokens []string, fields pcdFieldType, name string) ([]uint64, error) {
	if len(tokens) != int(fields) {
		return nil, errors.Errorf("unexpected number of fields in %s line", name)
	}
	out := make([]uint64, len(tokens))
	for i, token := range tokens {
		v, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid %s field %s", name, token)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z rgb":
			header.fields = pcdPointColor
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		header.size, err = parseUints(tokens, header.fields, name)
		if err != nil {
			return err
		}
		for _, s := range header.size {
			if s != 4 {
				return errors.Errorf("unsupported field size %d", s)
			}
		}
	case "TYPE", "VIEWPOINT":
	case "COUNT":
		if _, err := parseUints(tokens, header.fields, name); err != nil {
			return err
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid WIDTH field %s: %s", value, err)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid HEIGHT field %s: %s", value, err)
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid POINTS field %s: %s", value, err)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads an ascii or binary pcd file written by ToPCD.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	pc := NewWithPrealloc(int(header.points))
	point := make([]float64, int(header.fields))
	buf := make([]byte, 4)
	for i := 0; i < int(header.points); i++ {
		if header.data == PCDAscii {
			line, err := in.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				return nil, err
			}
			tokens := strings.Fields(line)
			if len(tokens) != int(header.fields) {
				return nil, errors.Errorf("unexpected number of fields in point %d", i)
			}
			for j, token := range tokens {
				point[j], err = strconv.ParseFloat(token, 64)
				if err != nil {
					return nil, errors.Errorf("invalid point %d field %s: %s", i, token, err)
				}
			}
		} else {
			for j := range point {
				if _, err := io.ReadFull(in, buf); err != nil {
					return nil, errors.Wrapf(err, "point %d", i)
				}
				bits := binary.LittleEndian.Uint32(buf)
				if j == 3 {
					point[j] = float64(bits)
				} else {
					point[j] = float64(math.Float32frombits(bits))
				}
			}
		}
		var data Data = NewBasicData()
		if header.fields == pcdPointColor {
			data = NewColoredData(pcdIntToColor(int(point[3])))
		}
		if err := pc.Add(r3.Vector{X: point[0], Y: point[1], Z: point[2]}, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
