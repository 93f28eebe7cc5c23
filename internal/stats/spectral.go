package stats

import (
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Periodogram returns the frequencies j/n (cycles per observation) and the
// raw periodogram |FFT|²/n for j = 1..n/2, after removing the mean.
func Periodogram(x []float64) (freqs, power []float64) {
	n := len(x)
	if n < 2 {
		return nil, nil
	}
	m := Mean(x)
	centred := make([]float64, n)
	for i, v := range x {
		centred[i] = v - m
	}
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, centred)
	for j := 1; j <= n/2 && j < len(coeffs); j++ {
		a := cmplx.Abs(coeffs[j])
		freqs = append(freqs, float64(j)/float64(n))
		power = append(power, a*a/float64(n))
	}
	return freqs, power
}

// SpectralPeak is a local maximum of the periodogram.
type SpectralPeak struct {
	Frequency float64 `json:"frequency"`
	Period    float64 `json:"period"`
	Power     float64 `json:"power"`
}

// Peaks returns up to top periodogram ordinates above threshold, sorted by
// decreasing power.
func Peaks(freqs, power []float64, threshold float64, top int) []SpectralPeak {
	var peaks []SpectralPeak
	for i, p := range power {
		if p <= threshold {
			continue
		}
		if i > 0 && power[i-1] > p {
			continue
		}
		if i+1 < len(power) && power[i+1] > p {
			continue
		}
		pk := SpectralPeak{Frequency: freqs[i], Power: p}
		if freqs[i] > 0 {
			pk.Period = 1 / freqs[i]
		}
		peaks = append(peaks, pk)
	}
	sort.Slice(peaks, func(a, b int) bool { return peaks[a].Power > peaks[b].Power })
	if top > 0 && len(peaks) > top {
		peaks = peaks[:top]
	}
	return peaks
}
