package transform

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// transposeDense returns a copy of the transpose of m.
func transposeDense(m mat.Matrix) *mat.Dense {
	nRows, nCols := m.Dims()
	m2 := mat.NewDense(nCols, nRows, nil)
	m2.Copy(m.T())
	return m2
}

// Eye creates an identity matrix of size nxn.
func Eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V from the decomposition.
func performSVD(inputMatrix mat.Matrix) *matsSVD {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil
	}

	u, v, sigma, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())
	singularValues := svd.Values(nil)
	sigma.CloneFrom(mat.NewDiagDense(len(singularValues), singularValues))

	return &matsSVD{u, v, vt, sigma}
}

// nullVector returns the right singular vector of m with the smallest singular value.
func nullVector(m mat.Matrix) []float64 {
	mats := performSVD(m)
	if mats == nil {
		return nil
	}
	_, cols := mats.V.Dims()
	return mat.Col(nil, cols-1, mats.V)
}

// CrossProductMatrix returns [p]x, the matrix such that [p]x * q = p x q.
func CrossProductMatrix(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

// NearestRotation returns the rotation matrix closest to m in the Frobenius norm.
func NearestRotation(m mat.Matrix) *mat.Dense {
	mats := performSVD(m)
	var r mat.Dense
	r.Mul(mats.U, mats.VT)
	if mat.Det(&r) < 0 {
		d := Eye(3)
		d.Set(2, 2, -1)
		r.Mul(mats.U, d)
		r.Mul(&r, mats.VT)
	}
	return &r
}

// MulVec returns m * v for a 3x3 matrix.
func MulVec(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// VecToDense returns v as a 3x1 matrix.
func VecToDense(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 1, []float64{v.X, v.Y, v.Z})
}

// DenseToVec reads the first three entries of a 3x1 or 1x3 matrix.
func DenseToVec(m mat.Matrix) r3.Vector {
	r, _ := m.Dims()
	if r == 1 {
		return r3.Vector{X: m.At(0, 0), Y: m.At(0, 1), Z: m.At(0, 2)}
	}
	return r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
}
