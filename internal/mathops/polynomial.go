package mathops

import (
	"errors"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Polynomials are coefficient slices from the highest degree to the lowest.

const coefTolerance = 1e-14

func trimLeading(c []float64) []float64 {
	for len(c) > 0 && c[0] == 0 {
		c = c[1:]
	}
	return c
}

// Roots returns the complex roots of p from the eigenvalues of its
// companion matrix. Leading zeros are ignored; a constant has no roots.
func Roots(p []float64) ([]Complex, error) {
	if len(p) == 0 {
		return nil, invalidf("Polynomial must have at least one coefficient")
	}
	c := trimLeading(p)
	if len(c) == 0 {
		return nil, invalidf("Polynomial cannot be all zeros")
	}
	switch len(c) {
	case 1:
		return []Complex{}, nil
	case 2:
		return []Complex{{Real: -c[1] / c[0]}}, nil
	}

	// Trailing zeros are roots at the origin.
	zeros := 0
	for len(c) > 1 && c[len(c)-1] == 0 {
		c = c[:len(c)-1]
		zeros++
	}
	var roots []complex128
	if n := len(c) - 1; n > 0 {
		comp := mat.NewDense(n, n, nil)
		for j := 0; j < n; j++ {
			comp.Set(0, j, -c[j+1]/c[0])
		}
		for i := 1; i < n; i++ {
			comp.Set(i, i-1, 1)
		}
		var eig mat.Eigen
		if ok := eig.Factorize(comp, mat.EigenNone); !ok {
			return nil, errors.New("failed to find polynomial roots: eigenvalue iteration did not converge")
		}
		roots = eig.Values(nil)
	}
	for i := 0; i < zeros; i++ {
		roots = append(roots, 0)
	}
	return toComplex(roots), nil
}

// Evaluate computes p(x) by Horner's rule.
func Evaluate(p []float64, x float64) float64 {
	if len(p) == 0 {
		return 0
	}
	r := p[0]
	for _, c := range p[1:] {
		r = r*x + c
	}
	return r
}

// EvaluateComplex computes p(z) by Horner's rule.
func EvaluateComplex(p []float64, z complex128) complex128 {
	if len(p) == 0 {
		return 0
	}
	r := complex(p[0], 0)
	for _, c := range p[1:] {
		r = r*z + complex(c, 0)
	}
	return r
}

// MultiplyPoly convolves two coefficient slices.
func MultiplyPoly(a, b []float64) []float64 {
	if len(a) == 0 || len(b) == 0 {
		return []float64{}
	}
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

// AddPoly sums two polynomials and drops negligible leading terms.
func AddPoly(a, b []float64) []float64 {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	n := max(len(a), len(b))
	out := make([]float64, n)
	for i := range a {
		out[n-len(a)+i] += a[i]
	}
	for i := range b {
		out[n-len(b)+i] += b[i]
	}
	for len(out) > 0 && math.Abs(out[0]) < coefTolerance {
		out = out[1:]
	}
	if len(out) == 0 {
		return []float64{0}
	}
	return out
}

// Derivative returns dp/dx.
func Derivative(p []float64) []float64 {
	if len(p) <= 1 {
		return []float64{0}
	}
	n := len(p) - 1
	out := make([]float64, n)
	for i, c := range p[:n] {
		out[i] = c * float64(n-i)
	}
	return out
}

// Integral returns the antiderivative with the given constant term.
func Integral(p []float64, constant float64) []float64 {
	if len(p) == 0 {
		return []float64{constant}
	}
	n := len(p) - 1
	out := make([]float64, 0, len(p)+1)
	for i, c := range p {
		out = append(out, c/float64(n-i+1))
	}
	return append(out, constant)
}

// FromRoots builds the monic polynomial with the given roots. The
// coefficients are complex in general; RealCoefficients drops negligible
// imaginary parts.
func FromRoots(roots []complex128) []complex128 {
	poly := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(poly)+1)
		for i, c := range poly {
			next[i] += c
			next[i+1] -= c * r
		}
		poly = next
	}
	return poly
}

// RealCoefficients returns the real parts of c and whether every
// imaginary part is negligible.
func RealCoefficients(c []complex128) ([]float64, bool) {
	out := make([]float64, len(c))
	ok := true
	for i, v := range c {
		out[i] = real(v)
		if math.Abs(imag(v)) > 1e-8*math.Max(1, cmplx.Abs(v)) {
			ok = false
		}
	}
	return out, ok
}

// Divide performs polynomial long division and returns the quotient and
// remainder.
func Divide(dividend, divisor []float64) (quotient, remainder []float64, err error) {
	d := trimLeading(divisor)
	if len(d) == 0 {
		return nil, nil, invalidf("Division by zero polynomial")
	}
	num := append([]float64(nil), trimLeading(dividend)...)
	if len(num) < len(d) {
		if len(num) == 0 {
			num = []float64{0}
		}
		return []float64{0}, num, nil
	}
	q := make([]float64, len(num)-len(d)+1)
	for i := range q {
		coef := num[i] / d[0]
		q[i] = coef
		for j := range d {
			num[i+j] -= coef * d[j]
		}
	}
	r := num[len(q):]
	for len(r) > 1 && math.Abs(r[0]) < coefTolerance {
		r = r[1:]
	}
	if len(r) == 0 {
		r = []float64{0}
	}
	return q, r, nil
}
