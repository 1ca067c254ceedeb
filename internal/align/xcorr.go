// Package align finds the time offset between two recordings and decides
// whether they carry the same piece of music.
package align

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/dancesync/dancesync-agent/internal/audio"
)

// directLimit bounds len(a)*len(b) below which the direct sum is used
// instead of the FFT.
const directLimit = 1 << 16

// ErrSampleRateMismatch is returned when two signals cannot be compared
// sample for sample.
var ErrSampleRateMismatch = errors.New("sample rate mismatch")

// CrossCorrelate returns the full cross-correlation of a and b:
//
//	z[k] = sum_l a[l] * b[l - k + len(b) - 1],  k = 0 .. len(a)+len(b)-2
//
// so index k corresponds to a lag of k - (len(b) - 1) samples of a behind b.
func CrossCorrelate(a, b []float64) []float64 {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	if len(a)*len(b) <= directLimit {
		return correlateDirect(a, b)
	}
	return correlateFFT(a, b)
}

func correlateDirect(a, b []float64) []float64 {
	n, m := len(a), len(b)
	out := make([]float64, n+m-1)
	for k := range out {
		lag := k - (m - 1)
		var sum float64
		lo := 0
		if lag > 0 {
			lo = lag
		}
		hi := n
		if lag+m < hi {
			hi = lag + m
		}
		for l := lo; l < hi; l++ {
			sum += a[l] * b[l-lag]
		}
		out[k] = sum
	}
	return out
}

// correlateFFT convolves a with the reversed b in the frequency domain.
func correlateFFT(a, b []float64) []float64 {
	n, m := len(a), len(b)
	size := nextPow2(n + m - 1)

	pa := make([]float64, size)
	copy(pa, a)
	pb := make([]float64, size)
	for i := 0; i < m; i++ {
		pb[i] = b[m-1-i]
	}

	fft := fourier.NewFFT(size)
	ca := fft.Coefficients(nil, pa)
	cb := fft.Coefficients(nil, pb)
	for i := range ca {
		ca[i] *= cb[i]
	}
	seq := fft.Sequence(nil, ca)

	scale := 1 / float64(size)
	out := make([]float64, n+m-1)
	for i := range out {
		out[i] = seq[i] * scale
	}
	return out
}

// ArgMax returns the first index holding the maximum value, or -1 for an
// empty slice.
func ArgMax(values []float64) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// OffsetSamples returns the lag at the correlation peak, measured as the
// peak index minus (len(ref) - 1).
func OffsetSamples(ref, user []float64) (int, error) {
	if len(ref) == 0 || len(user) == 0 {
		return 0, fmt.Errorf("%w: cannot correlate empty signal", audio.ErrEmptyInput)
	}
	corr := CrossCorrelate(ref, user)
	return ArgMax(corr) - (len(ref) - 1), nil
}

// Offset returns the time shift between ref and user in seconds. A positive
// value means the reference lags the user and should start later.
func Offset(ref, user audio.Signal) (float64, error) {
	if err := ref.Validate(); err != nil {
		return 0, fmt.Errorf("reference: %w", err)
	}
	if err := user.Validate(); err != nil {
		return 0, fmt.Errorf("user: %w", err)
	}
	if ref.SampleRate != user.SampleRate {
		return 0, fmt.Errorf("%w: reference %d Hz, user %d Hz", ErrSampleRateMismatch, ref.SampleRate, user.SampleRate)
	}

	lag, err := OffsetSamples(ref.Samples, user.Samples)
	if err != nil {
		return 0, err
	}
	return float64(lag) / float64(ref.SampleRate), nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
