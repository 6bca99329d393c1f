// Package xform provides the affine 4x4 transforms used to place meshes in
// the working frame: composition from position, Euler rotation and scale,
// point and direction transforms, and inversion.
package xform

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrSingular is returned when a matrix has no inverse.
var ErrSingular = errors.New("xform: singular matrix")

// Mat4 is a 4x4 matrix in column-major order.
// Layout: [m0 m4 m8  m12]
//
//	[m1 m5 m9  m13]
//	[m2 m6 m10 m14]
//	[m3 m7 m11 m15]
type Mat4 [16]float64

// Identity returns an identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translate returns a translation matrix.
func Translate(v r3.Vec) Mat4 {
	m := Identity()
	m[12], m[13], m[14] = v.X, v.Y, v.Z
	return m
}

// Scale returns a scale matrix.
func Scale(v r3.Vec) Mat4 {
	m := Identity()
	m[0], m[5], m[10] = v.X, v.Y, v.Z
	return m
}

// RotateX returns a rotation matrix around the X axis (radians).
func RotateX(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{
		1, 0, 0, 0,
		0, c, s, 0,
		0, -s, c, 0,
		0, 0, 0, 1,
	}
}

// RotateY returns a rotation matrix around the Y axis (radians).
func RotateY(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{
		c, 0, -s, 0,
		0, 1, 0, 0,
		s, 0, c, 0,
		0, 0, 0, 1,
	}
}

// RotateZ returns a rotation matrix around the Z axis (radians).
func RotateZ(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{
		c, s, 0, 0,
		-s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// RotateEuler returns the rotation for Euler angles in degrees applied in
// XYZ order, i.e. Rx * Ry * Rz.
func RotateEuler(deg r3.Vec) Mat4 {
	toRad := math.Pi / 180
	return RotateX(deg.X * toRad).Mul(RotateY(deg.Y * toRad)).Mul(RotateZ(deg.Z * toRad))
}

// Compose builds T * R * S from a position, Euler rotation in degrees and
// per-axis scale.
func Compose(position, rotationDeg, scale r3.Vec) Mat4 {
	return Translate(position).Mul(RotateEuler(rotationDeg)).Mul(Scale(scale))
}

// Mul returns m * other.
func (m Mat4) Mul(other Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * other[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

// TransformPoint applies the full affine transform to p.
func (m Mat4) TransformPoint(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		Y: m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		Z: m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
	}
}

// TransformDirection applies only the linear part of the transform to d.
func (m Mat4) TransformDirection(d r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*d.X + m[4]*d.Y + m[8]*d.Z,
		Y: m[1]*d.X + m[5]*d.Y + m[9]*d.Z,
		Z: m[2]*d.X + m[6]*d.Y + m[10]*d.Z,
	}
}

// Transpose returns the transposed matrix.
func (m Mat4) Transpose() Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			out[row*4+col] = m[col*4+row]
		}
	}
	return out
}

// dense converts m to a row-major gonum matrix.
func (m Mat4) dense() *mat.Dense {
	data := make([]float64, 16)
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			data[row*4+col] = m[col*4+row]
		}
	}
	return mat.NewDense(4, 4, data)
}

func fromDense(d mat.Matrix) Mat4 {
	var m Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			m[col*4+row] = d.At(row, col)
		}
	}
	return m
}

// Determinant returns the determinant of the upper 3x3 linear part, which
// is the volume scale of the transform. A negative value means the
// transform mirrors.
func (m Mat4) Determinant() float64 {
	linear := mat.NewDense(3, 3, []float64{
		m[0], m[4], m[8],
		m[1], m[5], m[9],
		m[2], m[6], m[10],
	})
	return mat.Det(linear)
}

// Inverse returns the inverse matrix, or ErrSingular.
func (m Mat4) Inverse() (Mat4, error) {
	if math.Abs(m.Determinant()) < 1e-12 {
		return Mat4{}, ErrSingular
	}
	var inv mat.Dense
	if err := inv.Inverse(m.dense()); err != nil {
		return Mat4{}, ErrSingular
	}
	return fromDense(&inv), nil
}

// NormalMatrix returns the inverse transpose of the linear part, embedded
// in a 4x4 matrix without translation. Use it with TransformDirection to
// carry surface normals through non-uniform scale.
func (m Mat4) NormalMatrix() (Mat4, error) {
	linear := m
	linear[12], linear[13], linear[14] = 0, 0, 0
	inv, err := linear.Inverse()
	if err != nil {
		return Mat4{}, err
	}
	return inv.Transpose(), nil
}

// IsIdentity reports whether m equals the identity within tol.
func (m Mat4) IsIdentity(tol float64) bool {
	return m.ApproxEqual(Identity(), tol)
}

// ApproxEqual reports whether every element of m is within tol of other.
func (m Mat4) ApproxEqual(other Mat4, tol float64) bool {
	for i := range m {
		if math.Abs(m[i]-other[i]) > tol {
			return false
		}
	}
	return true
}
