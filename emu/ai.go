// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"math"

	"github.com/sarchlab/alphasim/insts"
)

// AIUnit implements the AI/ML opcodes. Vectors are read as float lanes;
// operations that need a shape read the first 16 lanes as a row-major 4x4
// matrix.
type AIUnit struct{}

// NewAIUnit creates an AI unit.
func NewAIUnit() *AIUnit {
	return &AIUnit{}
}

const dim = 4

type matrix [dim][dim]float64

func toMatrix(xs []float64) matrix {
	var m matrix
	for i := 0; i < dim*dim && i < len(xs); i++ {
		m[i/dim][i%dim] = xs[i]
	}
	return m
}

func (m matrix) flat() []float64 {
	out := make([]float64, 0, dim*dim)
	for i := range m {
		out = append(out, m[i][:]...)
	}
	return out
}

func (m matrix) mul(o matrix) matrix {
	var r matrix
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			for k := 0; k < dim; k++ {
				r[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return r
}

func (m matrix) add(o matrix) matrix {
	for i := range m {
		for j := range m[i] {
			m[i][j] += o[i][j]
		}
	}
	return m
}

func (m matrix) transpose() matrix {
	var r matrix
	for i := range m {
		for j := range m[i] {
			r[j][i] = m[i][j]
		}
	}
	return r
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax(xs []float64) []float64 {
	out := make([]float64, len(xs))
	maxv := math.Inf(-1)
	for _, x := range xs {
		maxv = math.Max(maxv, x)
	}
	sum := 0.0
	for i, x := range xs {
		out[i] = math.Exp(x - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func normalize(xs []float64, gamma, beta float64) []float64 {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))

	out := make([]float64, len(xs))
	inv := 1 / math.Sqrt(variance+1e-5)
	for i, x := range xs {
		out[i] = (x-mean)*inv*gamma + beta
	}
	return out
}

// Activation applies relu, sigmoid, tanh or softmax.
func (u *AIUnit) Activation(op insts.Op, dt insts.DataType, a Vector) Vector {
	xs := a.Floats(dt)
	if op == insts.OpSOFTMAX {
		return VectorFromFloats(softmax(xs), dt)
	}
	for i, x := range xs {
		switch op {
		case insts.OpRELU:
			xs[i] = math.Max(0, x)
		case insts.OpSIGMOID:
			xs[i] = sigmoid(x)
		case insts.OpTANH:
			xs[i] = math.Tanh(x)
		}
	}
	return VectorFromFloats(xs, dt)
}

// Pool applies maxpool or avgpool with a non-overlapping window. Output
// lane i covers input lanes [i*window, (i+1)*window).
func (u *AIUnit) Pool(op insts.Op, dt insts.DataType, a Vector, window uint64) Vector {
	xs := a.Floats(dt)
	w := int(min(max(window, 1), uint64(len(xs))))
	out := make([]float64, len(xs)/w)
	for i := range out {
		acc := xs[i*w]
		for _, x := range xs[i*w+1 : (i+1)*w] {
			if op == insts.OpMAXPOOL {
				acc = math.Max(acc, x)
			} else {
				acc += x
			}
		}
		if op == insts.OpAVGPOOL {
			acc /= float64(w)
		}
		out[i] = acc
	}
	return VectorFromFloats(out, dt)
}

// Norm applies batchnorm (per column of the 4x4 view) or layernorm (per
// row).
func (u *AIUnit) Norm(op insts.Op, dt insts.DataType, a Vector, gamma, beta float64) Vector {
	m := toMatrix(a.Floats(dt))
	if op == insts.OpBATCHNORM {
		m = m.transpose()
	}
	for i := range m {
		copy(m[i][:], normalize(m[i][:], gamma, beta))
	}
	if op == insts.OpBATCHNORM {
		m = m.transpose()
	}
	return VectorFromFloats(m.flat(), dt)
}

// Conv2D convolves a 4x4 input with the 2x2 kernel held in the first lanes
// of k, giving a 3x3 valid output plus the bias in lane 0 of bias.
func (u *AIUnit) Conv2D(dt insts.DataType, in, k, bias Vector) Vector {
	x := toMatrix(in.Floats(dt))
	kw := k.Floats(dt)
	b := bias.Floats(dt)[0]
	out := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s := b
			for ki := 0; ki < 2; ki++ {
				for kj := 0; kj < 2; kj++ {
					s += x[i+ki][j+kj] * kw[ki*2+kj]
				}
			}
			out = append(out, s)
		}
	}
	return VectorFromFloats(out, dt)
}

// Conv3D convolves a 4x2x2 (depth, row, column) input with a 2x2x2 kernel,
// giving three outputs plus the bias.
func (u *AIUnit) Conv3D(dt insts.DataType, in, k, bias Vector) Vector {
	x := in.Floats(dt)
	kw := k.Floats(dt)
	b := bias.Floats(dt)[0]
	out := make([]float64, 3)
	for d := range out {
		s := b
		for i := 0; i < 8; i++ {
			s += x[d*4+i] * kw[i]
		}
		out[d] = s
	}
	return VectorFromFloats(out, dt)
}

// MatMul multiplies two 4x4 matrices.
func (u *AIUnit) MatMul(dt insts.DataType, a, b Vector) Vector {
	m := toMatrix(a.Floats(dt)).mul(toMatrix(b.Floats(dt)))
	return VectorFromFloats(m.flat(), dt)
}

// GEMM computes a*b + c.
func (u *AIUnit) GEMM(dt insts.DataType, a, b, c Vector) Vector {
	m := toMatrix(a.Floats(dt)).mul(toMatrix(b.Floats(dt))).add(toMatrix(c.Floats(dt)))
	return VectorFromFloats(m.flat(), dt)
}

func attention(q, k, v matrix) matrix {
	s := q.mul(k.transpose())
	for i := range s {
		for j := range s[i] {
			s[i][j] /= math.Sqrt(dim)
		}
		copy(s[i][:], softmax(s[i][:]))
	}
	return s.mul(v)
}

// Attention computes softmax(Q*K^T/sqrt(4))*V row by row.
func (u *AIUnit) Attention(dt insts.DataType, q, k, v Vector) Vector {
	m := attention(toMatrix(q.Floats(dt)), toMatrix(k.Floats(dt)), toMatrix(v.Floats(dt)))
	return VectorFromFloats(m.flat(), dt)
}

// Transformer computes one block: layernorm(x + attention(x, x, x))*w + b.
func (u *AIUnit) Transformer(dt insts.DataType, x, w, b Vector) Vector {
	xm := toMatrix(x.Floats(dt))
	h := xm.add(attention(xm, xm, xm))
	for i := range h {
		copy(h[i][:], normalize(h[i][:], 1, 0))
	}
	m := h.mul(toMatrix(w.Floats(dt))).add(toMatrix(b.Floats(dt)))
	return VectorFromFloats(m.flat(), dt)
}

func matVec(w matrix, x []float64) []float64 {
	out := make([]float64, dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			out[i] += w[i][j] * x[j]
		}
	}
	return out
}

// LSTM performs one cell step. x holds the input in lanes 0-3, state holds
// h in lanes 0-3 and c in lanes 4-7, and w is the 4x4 input weight. The
// result holds the new h and c in the same layout.
func (u *AIUnit) LSTM(dt insts.DataType, x, state, w Vector) Vector {
	s := state.Floats(dt)
	h, c := s[0:dim], s[dim:2*dim]
	pre := matVec(toMatrix(w.Floats(dt)), x.Floats(dt)[:dim])
	out := make([]float64, 2*dim)
	for i := 0; i < dim; i++ {
		z := pre[i] + h[i]
		input, forget, gate := sigmoid(z), 1-sigmoid(z), sigmoid(z+1)
		cell := forget*c[i] + input*math.Tanh(z)
		out[i] = gate * math.Tanh(cell)
		out[dim+i] = cell
	}
	return VectorFromFloats(out, dt)
}

// GRU performs one cell step. x holds the input and h the state in lanes
// 0-3, and w is the 4x4 input weight.
func (u *AIUnit) GRU(dt insts.DataType, x, h, w Vector) Vector {
	hs := h.Floats(dt)[:dim]
	pre := matVec(toMatrix(w.Floats(dt)), x.Floats(dt)[:dim])
	out := make([]float64, dim)
	for i := range out {
		z := sigmoid(pre[i] + hs[i])
		r := sigmoid(pre[i] - hs[i])
		n := math.Tanh(pre[i] + r*hs[i])
		out[i] = (1-z)*n + z*hs[i]
	}
	return VectorFromFloats(out, dt)
}
