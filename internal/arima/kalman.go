package arima

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// stateSpace is the Harvey representation of a zero-mean ARMA process
// with state dimension r = max(p, q+1):
//
//	a_{t+1} = T a_t + R e_t,  y_t = a_t[0].
type stateSpace struct {
	r   int
	phi []float64
	T   *mat.Dense
	Q   *mat.Dense
	R   *mat.VecDense
}

func newStateSpace(phi, theta []float64) *stateSpace {
	r := max(len(phi), len(theta)+1)
	T := mat.NewDense(r, r, nil)
	for i := 0; i < r; i++ {
		if i < len(phi) {
			T.Set(i, 0, phi[i])
		}
		if i+1 < r {
			T.Set(i, i+1, 1)
		}
	}
	R := mat.NewVecDense(r, nil)
	R.SetVec(0, 1)
	for j, c := range theta {
		R.SetVec(j+1, c)
	}
	Q := mat.NewDense(r, r, nil)
	Q.Outer(1, R, R)
	return &stateSpace{r: r, phi: phi, T: T, Q: Q, R: R}
}

// transition computes T·x using the companion structure of T.
func (s *stateSpace) transition(dst, x []float64) {
	for i := 0; i < s.r; i++ {
		v := 0.0
		if i < len(s.phi) {
			v = s.phi[i] * x[0]
		}
		if i+1 < s.r {
			v += x[i+1]
		}
		dst[i] = v
	}
}

// stationaryCov solves P = T P T' + Q by the doubling algorithm.
func (s *stateSpace) stationaryCov() (*mat.Dense, bool) {
	A := mat.DenseCopyOf(s.T)
	P := mat.DenseCopyOf(s.Q)
	for i := 0; i < 64; i++ {
		var ap, apa, aa mat.Dense
		ap.Mul(A, P)
		apa.Mul(&ap, A.T())
		P.Add(P, &apa)
		if mat.Norm(&apa, math.Inf(1)) <= 1e-12*(1+mat.Norm(P, math.Inf(1))) {
			return P, true
		}
		aa.Mul(A, A)
		A = &aa
	}
	return P, false
}

// exactLogLik returns the concentrated Gaussian log-likelihood of the
// zero-mean ARMA series y together with the innovation variance estimate,
// which is floored at minVar.
func exactLogLik(y, phi, theta []float64, minVar float64) (ll, sigma2 float64, ok bool) {
	n := len(y)
	if n == 0 {
		return 0, 0, false
	}
	ss := newStateSpace(phi, theta)
	P, ok := ss.stationaryCov()
	if !ok {
		return 0, 0, false
	}

	r := ss.r
	a := make([]float64, r)
	ta := make([]float64, r)
	K := mat.NewVecDense(r, nil)
	var (
		sumLogF, sumSq float64
		steady         bool
	)
	for t := 0; t < n; t++ {
		F := P.At(0, 0)
		if !steady {
			if F <= 0 || math.IsNaN(F) {
				return 0, 0, false
			}
			// K = T P e1 / F
			col := mat.Col(nil, 0, P)
			ss.transition(K.RawVector().Data, col)
			K.ScaleVec(1/F, K)
		}
		v := y[t] - a[0]
		sumLogF += math.Log(F)
		sumSq += v * v / F

		ss.transition(ta, a)
		for i := range a {
			a[i] = ta[i] + K.AtVec(i)*v
		}

		if steady {
			continue
		}
		var tp, next mat.Dense
		tp.Mul(ss.T, P)
		next.Mul(&tp, ss.T.T())
		next.Add(&next, ss.Q)
		next.RankOne(&next, -F, K, K)
		P = &next
		if math.Abs(P.At(0, 0)-1) < 1e-10 {
			steady = true
		}
	}
	sigma2 = max(sumSq/float64(n), minVar)
	if sigma2 <= 0 || math.IsNaN(sigma2) {
		return 0, 0, false
	}
	ll = -0.5 * (float64(n)*(math.Log(2*math.Pi)+math.Log(sigma2)+1) + sumLogF)
	return ll, sigma2, true
}
