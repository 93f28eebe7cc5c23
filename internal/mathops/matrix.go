// Package mathops provides the dense linear algebra and polynomial
// operations behind the MathService gRPC API.
package mathops

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidArgument marks caller errors: bad shapes, singular or
// ill-conditioned input, empty polynomials.
var ErrInvalidArgument = errors.New("invalid argument")

// MaxConditionNumber is the largest condition number Invert accepts.
const MaxConditionNumber = 1e15

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Matrix is a row-major dense matrix as carried on the wire.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Complex is a complex number split into its parts.
type Complex struct {
	Real float64 `json:"real"`
	Imag float64 `json:"imag"`
}

func toComplex(v []complex128) []Complex {
	out := make([]Complex, len(v))
	for i, c := range v {
		out[i] = Complex{Real: real(c), Imag: imag(c)}
	}
	return out
}

// Dense validates m and returns it as a gonum matrix.
func (m Matrix) Dense() (*mat.Dense, error) {
	if m.Rows <= 0 || m.Cols <= 0 {
		return nil, invalidf("matrix dimensions must be positive, got %dx%d", m.Rows, m.Cols)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return nil, invalidf("Data length %d doesn't match dimensions %dx%d", len(m.Data), m.Rows, m.Cols)
	}
	return mat.NewDense(m.Rows, m.Cols, append([]float64(nil), m.Data...)), nil
}

// FromDense flattens a gonum matrix.
func FromDense(d mat.Matrix) Matrix {
	r, c := d.Dims()
	out := Matrix{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Data = append(out.Data, d.At(i, j))
		}
	}
	return out
}

// Multiply returns a·b.
func Multiply(a, b Matrix) (Matrix, error) {
	da, err := a.Dense()
	if err != nil {
		return Matrix{}, err
	}
	db, err := b.Dense()
	if err != nil {
		return Matrix{}, err
	}
	if a.Cols != b.Rows {
		return Matrix{}, invalidf("Incompatible dimensions: (%d,%d) x (%d,%d)", a.Rows, a.Cols, b.Rows, b.Cols)
	}
	var c mat.Dense
	c.Mul(da, db)
	return FromDense(&c), nil
}

// Invert returns the inverse of a square matrix and its 2-norm condition
// number.
func Invert(a Matrix) (Matrix, float64, error) {
	if a.Rows != a.Cols {
		return Matrix{}, 0, invalidf("Matrix must be square for inversion")
	}
	d, err := a.Dense()
	if err != nil {
		return Matrix{}, 0, err
	}
	cond := mat.Cond(d, 2)
	if math.IsInf(cond, 0) || math.IsNaN(cond) || cond > MaxConditionNumber {
		return Matrix{}, 0, invalidf("Matrix is ill-conditioned (condition number: %.2e)", cond)
	}
	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		return Matrix{}, 0, invalidf("Matrix inversion failed: %v", err)
	}
	return FromDense(&inv), cond, nil
}

// Solution is the least-squares answer to A·x = b.
type Solution struct {
	X              []float64 `json:"x"`
	ResidualNorm   float64   `json:"residual_norm"`
	Rank           int       `json:"rank"`
	SingularValues []float64 `json:"singular_values"`
}

// Solve finds the minimum-norm least-squares solution of A·x = b through a
// thin SVD, discarding singular values below max(m,n)·eps·σmax.
func Solve(a Matrix, b []float64) (*Solution, error) {
	d, err := a.Dense()
	if err != nil {
		return nil, err
	}
	if a.Rows != len(b) {
		return nil, invalidf("Incompatible dimensions: A is %dx%d, b has length %d", a.Rows, a.Cols, len(b))
	}
	var svd mat.SVD
	if ok := svd.Factorize(d, mat.SVDThin); !ok {
		return nil, errors.New("linear solve failed: SVD did not converge")
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := float64(max(a.Rows, a.Cols)) * 2.220446049250313e-16
	if len(s) > 0 {
		tol *= s[0]
	}
	rank := 0
	x := make([]float64, a.Cols)
	for k, sk := range s {
		if sk <= tol {
			continue
		}
		rank++
		var ub float64
		for i := 0; i < a.Rows; i++ {
			ub += u.At(i, k) * b[i]
		}
		coef := ub / sk
		for j := 0; j < a.Cols; j++ {
			x[j] += coef * v.At(j, k)
		}
	}

	var resid float64
	for i := 0; i < a.Rows; i++ {
		r := -b[i]
		for j := 0; j < a.Cols; j++ {
			r += d.At(i, j) * x[j]
		}
		resid += r * r
	}
	return &Solution{X: x, ResidualNorm: math.Sqrt(resid), Rank: rank, SingularValues: s}, nil
}

// EigenResult holds eigenvalues and, when requested, the right
// eigenvectors as columns split into real and imaginary parts.
type EigenResult struct {
	Values      []Complex `json:"eigenvalues"`
	VectorsReal *Matrix   `json:"eigenvectors,omitempty"`
	VectorsImag *Matrix   `json:"eigenvectors_imag,omitempty"`
}

// Eigen computes the eigen-decomposition of a square matrix.
func Eigen(a Matrix, vectors bool) (*EigenResult, error) {
	if a.Rows != a.Cols {
		return nil, invalidf("Matrix must be square for eigendecomposition")
	}
	d, err := a.Dense()
	if err != nil {
		return nil, err
	}
	kind := mat.EigenNone
	if vectors {
		kind = mat.EigenRight
	}
	var eig mat.Eigen
	if ok := eig.Factorize(d, kind); !ok {
		return nil, errors.New("eigendecomposition failed to converge")
	}
	res := &EigenResult{Values: toComplex(eig.Values(nil))}
	if vectors {
		var cv mat.CDense
		eig.VectorsTo(&cv)
		n := a.Rows
		re := Matrix{Rows: n, Cols: n, Data: make([]float64, 0, n*n)}
		im := Matrix{Rows: n, Cols: n, Data: make([]float64, 0, n*n)}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				c := cv.At(i, j)
				re.Data = append(re.Data, real(c))
				im.Data = append(im.Data, imag(c))
			}
		}
		res.VectorsReal, res.VectorsImag = &re, &im
	}
	return res, nil
}

// SVDResult is U·diag(S)·Vt.
type SVDResult struct {
	U  Matrix    `json:"u"`
	S  []float64 `json:"singular_values"`
	Vt Matrix    `json:"vt"`
}

// SVD factorises a. With full set, U and Vt are square.
func SVD(a Matrix, full bool) (*SVDResult, error) {
	d, err := a.Dense()
	if err != nil {
		return nil, err
	}
	kind := mat.SVDThin
	if full {
		kind = mat.SVDFull
	}
	var svd mat.SVD
	if ok := svd.Factorize(d, kind); !ok {
		return nil, errors.New("SVD failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	return &SVDResult{U: FromDense(&u), S: svd.Values(nil), Vt: FromDense(v.T())}, nil
}
