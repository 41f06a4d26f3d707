// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/sarchlab/alphasim/insts"
)

// ScientificUnit implements the transform and matrix opcodes. Vectors are
// F32 lanes: eight complex (re, im) pairs for transforms, a row-major 4x4
// matrix for the rest.
type ScientificUnit struct{}

// NewScientificUnit creates a scientific unit.
func NewScientificUnit() *ScientificUnit {
	return &ScientificUnit{}
}

const transformPoints = 8

const sciLanes = insts.DataTypeF32

func complexLanes(v Vector) []complex128 {
	xs := v.Floats(sciLanes)
	out := make([]complex128, transformPoints)
	for i := range out {
		out[i] = complex(xs[2*i], xs[2*i+1])
	}
	return out
}

func fromComplex(cs []complex128) Vector {
	xs := make([]float64, 0, 2*len(cs))
	for _, c := range cs {
		xs = append(xs, real(c), imag(c))
	}
	return VectorFromFloats(xs, sciLanes)
}

// Transform computes fft, ifft, dft or idft over eight points. The inverse
// transforms scale by 1/8.
func (u *ScientificUnit) Transform(op insts.Op, v Vector) Vector {
	x := complexLanes(v)
	inverse := op == insts.OpIFFT || op == insts.OpIDFT

	var y []complex128
	if op == insts.OpFFT || op == insts.OpIFFT {
		y = fft(x, inverse)
	} else {
		y = dft(x, inverse)
	}
	if inverse {
		for i := range y {
			y[i] /= complex(float64(len(y)), 0)
		}
	}
	return fromComplex(y)
}

func twiddle(k, n int, inverse bool) complex128 {
	angle := -2 * math.Pi * float64(k) / float64(n)
	if inverse {
		angle = -angle
	}
	return cmplx.Exp(complex(0, angle))
}

func dft(x []complex128, inverse bool) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for k := range out {
		for j, v := range x {
			out[k] += v * twiddle(j*k%n, n, inverse)
		}
	}
	return out
}

// fft is an iterative radix-2 Cooley-Tukey transform. len(x) must be a
// power of two.
func fft(x []complex128, inverse bool) []complex128 {
	n := len(x)
	a := make([]complex128, n)
	bits := 0
	for 1<<bits < n {
		bits++
	}
	for i := range x {
		r := 0
		for b := 0; b < bits; b++ {
			if i&(1<<b) != 0 {
				r |= 1 << (bits - 1 - b)
			}
		}
		a[r] = x[i]
	}
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				w := twiddle(k, size, inverse)
				even, odd := a[start+k], w*a[start+k+half]
				a[start+k] = even + odd
				a[start+k+half] = even - odd
			}
		}
	}
	return a
}

func sciMatrix(v Vector) matrix {
	return toMatrix(v.Floats(sciLanes))
}

func fromMatrix(m matrix) Vector {
	return VectorFromFloats(m.flat(), sciLanes)
}

func nanMatrix() matrix {
	var m matrix
	for i := range m {
		for j := range m[i] {
			m[i][j] = math.NaN()
		}
	}
	return m
}

// MatrixMul multiplies two 4x4 matrices.
func (u *ScientificUnit) MatrixMul(a, b Vector) Vector {
	return fromMatrix(sciMatrix(a).mul(sciMatrix(b)))
}

// Inverse inverts a 4x4 matrix by Gauss-Jordan elimination with partial
// pivoting. A singular matrix gives all NaN.
func (u *ScientificUnit) Inverse(a Vector) Vector {
	m := sciMatrix(a)
	var inv matrix
	for i := range inv {
		inv[i][i] = 1
	}
	for col := 0; col < dim; col++ {
		pivot := col
		for r := col + 1; r < dim; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if m[pivot][col] == 0 {
			return fromMatrix(nanMatrix())
		}
		m[col], m[pivot] = m[pivot], m[col]
		inv[col], inv[pivot] = inv[pivot], inv[col]

		p := m[col][col]
		for j := 0; j < dim; j++ {
			m[col][j] /= p
			inv[col][j] /= p
		}
		for r := 0; r < dim; r++ {
			if r == col {
				continue
			}
			f := m[r][col]
			for j := 0; j < dim; j++ {
				m[r][j] -= f * m[col][j]
				inv[r][j] -= f * inv[col][j]
			}
		}
	}
	return fromMatrix(inv)
}

// Determinant returns the determinant of a 4x4 matrix.
func (u *ScientificUnit) Determinant(a Vector) float64 {
	m := sciMatrix(a)
	det := 1.0
	for col := 0; col < dim; col++ {
		pivot := col
		for r := col + 1; r < dim; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if m[pivot][col] == 0 {
			return 0
		}
		if pivot != col {
			m[col], m[pivot] = m[pivot], m[col]
			det = -det
		}
		det *= m[col][col]
		for r := col + 1; r < dim; r++ {
			f := m[r][col] / m[col][col]
			for j := col; j < dim; j++ {
				m[r][j] -= f * m[col][j]
			}
		}
	}
	return det
}

// jacobiEigenvalues returns the eigenvalues of a symmetric matrix in
// descending order.
func jacobiEigenvalues(m matrix) []float64 {
	for sweep := 0; sweep < 50; sweep++ {
		off := 0.0
		for i := 0; i < dim; i++ {
			for j := i + 1; j < dim; j++ {
				off += m[i][j] * m[i][j]
			}
		}
		if off < 1e-20 {
			break
		}
		for p := 0; p < dim; p++ {
			for q := p + 1; q < dim; q++ {
				if m[p][q] == 0 {
					continue
				}
				theta := (m[q][q] - m[p][p]) / (2 * m[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c
				for k := 0; k < dim; k++ {
					mkp, mkq := m[k][p], m[k][q]
					m[k][p] = c*mkp - s*mkq
					m[k][q] = s*mkp + c*mkq
				}
				for k := 0; k < dim; k++ {
					mpk, mqk := m[p][k], m[q][k]
					m[p][k] = c*mpk - s*mqk
					m[q][k] = s*mpk + c*mqk
				}
			}
		}
	}
	out := make([]float64, dim)
	for i := range out {
		out[i] = m[i][i]
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}

// Eigen returns the eigenvalues of the symmetric part of a 4x4 matrix in
// lanes 0-3, largest first.
func (u *ScientificUnit) Eigen(a Vector) Vector {
	m := sciMatrix(a)
	t := m.transpose()
	for i := range m {
		for j := range m[i] {
			m[i][j] = (m[i][j] + t[i][j]) / 2
		}
	}
	return VectorFromFloats(jacobiEigenvalues(m), sciLanes)
}

// SVD returns the singular values of a 4x4 matrix in lanes 0-3, largest
// first.
func (u *ScientificUnit) SVD(a Vector) Vector {
	m := sciMatrix(a)
	ev := jacobiEigenvalues(m.transpose().mul(m))
	for i, e := range ev {
		ev[i] = math.Sqrt(math.Max(e, 0))
	}
	return VectorFromFloats(ev, sciLanes)
}

// QR returns the R factor of a modified Gram-Schmidt QR decomposition.
func (u *ScientificUnit) QR(a Vector) Vector {
	cols := sciMatrix(a).transpose()
	var r matrix
	for j := 0; j < dim; j++ {
		for i := 0; i < j; i++ {
			dot := 0.0
			for k := 0; k < dim; k++ {
				dot += cols[i][k] * cols[j][k]
			}
			r[i][j] = dot
			for k := 0; k < dim; k++ {
				cols[j][k] -= dot * cols[i][k]
			}
		}
		norm := 0.0
		for k := 0; k < dim; k++ {
			norm += cols[j][k] * cols[j][k]
		}
		norm = math.Sqrt(norm)
		r[j][j] = norm
		if norm == 0 {
			continue
		}
		for k := 0; k < dim; k++ {
			cols[j][k] /= norm
		}
	}
	return fromMatrix(r)
}

// LU returns the Doolittle factors packed in one matrix: L below the
// diagonal (unit diagonal implied) and U on and above it. A zero pivot
// gives all NaN.
func (u *ScientificUnit) LU(a Vector) Vector {
	m := sciMatrix(a)
	for k := 0; k < dim; k++ {
		if m[k][k] == 0 {
			return fromMatrix(nanMatrix())
		}
		for i := k + 1; i < dim; i++ {
			m[i][k] /= m[k][k]
			for j := k + 1; j < dim; j++ {
				m[i][j] -= m[i][k] * m[k][j]
			}
		}
	}
	return fromMatrix(m)
}

// Cholesky returns the lower factor L with A = L*L^T. A matrix that is not
// positive definite gives all NaN.
func (u *ScientificUnit) Cholesky(a Vector) Vector {
	m := sciMatrix(a)
	var l matrix
	for i := 0; i < dim; i++ {
		for j := 0; j <= i; j++ {
			sum := m[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return fromMatrix(nanMatrix())
				}
				l[i][i] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return fromMatrix(l)
}
