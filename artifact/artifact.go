// Package artifact persists named numeric fields as NumPy .npz archives so calibration,
// rectification and disparity outputs can be shared with numpy tooling.
package artifact

import (
	"archive/zip"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocam/utils"
)

// ErrArtifactLoadFailed is returned when an artifact is missing, malformed or lacks a field.
var ErrArtifactLoadFailed = errors.New("artifact load failed")

// NewLoadFailedError wraps ErrArtifactLoadFailed with the path and reason.
func NewLoadFailedError(path string, cause error) error {
	return errors.Wrapf(ErrArtifactLoadFailed, "%s: %v", path, cause)
}

// Kind tags a field as a single number or an n-dimensional array.
type Kind int

const (
	// KindScalar fields hold one value and have an empty shape.
	KindScalar Kind = iota
	// KindArray fields hold a row-major array of Shape.
	KindArray
)

func (k Kind) String() string {
	if k == KindScalar {
		return "scalar"
	}
	return "array"
}

// Field is one named value of a Record.
type Field struct {
	Name  string
	Kind  Kind
	Shape []int
	Data  []float64
}

// Scalar returns a scalar field.
func Scalar(name string, v float64) Field {
	return Field{Name: name, Kind: KindScalar, Shape: []int{}, Data: []float64{v}}
}

// Vector returns a one dimensional field.
func Vector(name string, v []float64) Field {
	return Field{Name: name, Kind: KindArray, Shape: []int{len(v)}, Data: append([]float64(nil), v...)}
}

// Matrix returns a two dimensional field copied from m.
func Matrix(name string, m mat.Matrix) Field {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return Field{Name: name, Kind: KindArray, Shape: []int{r, c}, Data: data}
}

// Record is an ordered set of uniquely named fields.
type Record struct {
	Fields []Field
}

// Add appends fields to the record.
func (r *Record) Add(fields ...Field) {
	r.Fields = append(r.Fields, fields...)
}

// Get returns the field called name.
func (r Record) Get(name string) (Field, error) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, nil
		}
	}
	return Field{}, errors.Errorf("missing field %q", name)
}

// Scalar returns the value of a scalar field.
func (r Record) Scalar(name string) (float64, error) {
	f, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	if f.Kind != KindScalar {
		return 0, errors.Errorf("field %q is %v, expected %v", name, f.Kind, KindScalar)
	}
	if len(f.Data) != 1 {
		return 0, errors.Errorf("field %q has %d values, expected one", name, len(f.Data))
	}
	return f.Data[0], nil
}

// Vector returns the values of a field of exactly n values, whatever its shape.
func (r Record) Vector(name string, n int) ([]float64, error) {
	f, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if len(f.Data) != n {
		return nil, errors.Errorf("field %q has %d values, expected %d", name, len(f.Data), n)
	}
	return f.Data, nil
}

// Matrix returns a two dimensional field of the given size.
func (r Record) Matrix(name string, rows, cols int) (*mat.Dense, error) {
	f, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if len(f.Shape) != 2 || f.Shape[0] != rows || f.Shape[1] != cols {
		return nil, errors.Errorf("field %q has shape %v, expected [%d %d]", name, f.Shape, rows, cols)
	}
	return mat.NewDense(rows, cols, append([]float64(nil), f.Data...)), nil
}

// AnyMatrix returns a two dimensional field of any size.
func (r Record) AnyMatrix(name string) (*mat.Dense, error) {
	f, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if len(f.Shape) != 2 || f.Shape[0] == 0 || f.Shape[1] == 0 {
		return nil, errors.Errorf("field %q has shape %v, expected a non-empty matrix", name, f.Shape)
	}
	return mat.NewDense(f.Shape[0], f.Shape[1], append([]float64(nil), f.Data...)), nil
}

func (f Field) validate() error {
	if f.Name == "" || strings.ContainsAny(f.Name, "/\\") {
		return errors.Errorf("invalid field name %q", f.Name)
	}
	count := 1
	for _, d := range f.Shape {
		count *= d
	}
	if f.Kind == KindScalar && len(f.Shape) != 0 {
		return errors.Errorf("scalar field %q has shape %v", f.Name, f.Shape)
	}
	if count != len(f.Data) {
		return errors.Errorf("field %q has %d values for shape %v", f.Name, len(f.Data), f.Shape)
	}
	return nil
}

// Save writes rec to path as an .npz archive with one .npy member per field. The file is
// replaced atomically.
func Save(path string, rec Record) error {
	seen := map[string]bool{}
	for _, f := range rec.Fields {
		if err := f.validate(); err != nil {
			return err
		}
		if seen[f.Name] {
			return errors.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
	}
	return utils.WriteFileAtomic(path, func(file *os.File) (err error) {
		zw := zip.NewWriter(file)
		defer func() {
			err = multierr.Combine(err, zw.Close())
		}()
		for _, f := range rec.Fields {
			w, err := zw.Create(f.Name + ".npy")
			if err != nil {
				return err
			}
			if err := writeNPY(w, f.Shape, f.Data); err != nil {
				return errors.Wrapf(err, "writing field %q", f.Name)
			}
		}
		return nil
	})
}

// Load reads an .npz archive. Fields are returned in name order. Every failure wraps
// ErrArtifactLoadFailed.
func Load(path string) (Record, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Record{}, NewLoadFailedError(path, err)
	}
	defer utils.UncheckedErrorFunc(zr.Close)

	var rec Record
	for _, member := range zr.File {
		if !strings.HasSuffix(member.Name, ".npy") {
			continue
		}
		field, err := readMember(member)
		if err != nil {
			return Record{}, NewLoadFailedError(path, errors.Wrap(err, member.Name))
		}
		rec.Fields = append(rec.Fields, field)
	}
	sort.Slice(rec.Fields, func(i, j int) bool { return rec.Fields[i].Name < rec.Fields[j].Name })
	return rec, nil
}

func readMember(member *zip.File) (Field, error) {
	rc, err := member.Open()
	if err != nil {
		return Field{}, err
	}
	defer utils.UncheckedErrorFunc(rc.Close)
	shape, data, err := readNPY(rc)
	if err != nil {
		return Field{}, err
	}
	kind := KindArray
	if len(shape) == 0 {
		kind = KindScalar
	}
	return Field{Name: strings.TrimSuffix(member.Name, ".npy"), Kind: kind, Shape: shape, Data: data}, nil
}

// LoadFields loads path and checks that every name is present.
func LoadFields(path string, names ...string) (Record, error) {
	rec, err := Load(path)
	if err != nil {
		return Record{}, err
	}
	for _, name := range names {
		if _, err := rec.Get(name); err != nil {
			return Record{}, NewLoadFailedError(path, err)
		}
	}
	return rec, nil
}
