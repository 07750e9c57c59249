package physics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

const tol = 1e-9

// rotate applies q to v as q·v·q*.
func rotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: p.Imag, Y: p.Jmag, Z: p.Kmag}
}

func randomUnitQuat(rng *rand.Rand) quat.Number {
	for {
		q := NewQuat(rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64())
		if n := quat.Abs(q); n > 1e-3 {
			return quat.Scale(1/n, q)
		}
	}
}

func randomVector(rng *rand.Rand) r3.Vector {
	return r3.Vector{X: rng.Float64()*10 - 5, Y: rng.Float64()*10 - 5, Z: rng.Float64()*10 - 5}
}

func randomTransform(t *testing.T, rng *rand.Rand) Transform {
	t.Helper()
	tr, err := FromPose(randomVector(rng), randomUnitQuat(rng))
	require.NoError(t, err)
	return tr
}

func TestFromPose_IdentityQuaternion(t *testing.T) {
	p := r3.Vector{X: 0.5, Y: -1.25, Z: 3}
	tr, err := FromPose(p, IdentityQuat())
	require.NoError(t, err)

	assert.Equal(t, Identity().Rotation(), tr.Rotation())
	assert.Equal(t, p, tr.Translation())
}

func TestFromPose_MatchesMathGL(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		q := randomUnitQuat(rng)
		p := randomVector(rng)

		tr, err := FromPose(p, q)
		require.NoError(t, err)

		ref := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Mat4()
		ref = mgl64.Translate3D(p.X, p.Y, p.Z).Mul4(ref)
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				assert.InDelta(t, ref.At(r, c), tr[r][c], tol, "element (%d,%d)", r, c)
			}
		}
	}
}

func TestFromPose_NormalizesInput(t *testing.T) {
	q := NewQuat(math.Cos(math.Pi/8), 0, math.Sin(math.Pi/8), 0)
	scaled := quat.Scale(3.5, q)

	want, err := FromPose(r3.Vector{X: 1}, q)
	require.NoError(t, err)
	got, err := FromPose(r3.Vector{X: 1}, scaled)
	require.NoError(t, err)

	assert.True(t, got.ApproxEqual(want, tol))
	assert.True(t, got.IsRigid(tol))
}

func TestFromPose_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		p    r3.Vector
		q    quat.Number
		want error
	}{
		{"zero quaternion", r3.Vector{}, quat.Number{}, ErrDegenerateQuaternion},
		{"tiny quaternion", r3.Vector{}, NewQuat(1e-12, 0, 0, 0), ErrDegenerateQuaternion},
		{"nan quaternion", r3.Vector{}, NewQuat(math.NaN(), 0, 0, 0), ErrDegenerateQuaternion},
		{"inf position", r3.Vector{X: math.Inf(1)}, IdentityQuat(), ErrNonFinitePose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromPose(tt.p, tt.q)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInverse_Involution(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		tr := randomTransform(t, rng)
		assert.True(t, tr.Inverse().Inverse().ApproxEqual(tr, tol))
	}
}

func TestCompose_WithInverseIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	for i := 0; i < 100; i++ {
		tr := randomTransform(t, rng)
		assert.True(t, tr.Compose(tr.Inverse()).ApproxEqual(Identity(), tol))
		assert.True(t, tr.Inverse().Compose(tr).ApproxEqual(Identity(), tol))
	}
}

func TestCompose_Associative(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for i := 0; i < 100; i++ {
		a, b, c := randomTransform(t, rng), randomTransform(t, rng), randomTransform(t, rng)
		left := a.Compose(b).Compose(c)
		right := a.Compose(b.Compose(c))
		assert.True(t, left.ApproxEqual(right, tol))
	}
}

func TestCompose_AppliesRightOperandFirst(t *testing.T) {
	rot := MustFromPose(r3.Vector{}, QuatFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2))
	shift := MustFromPose(r3.Vector{X: 1}, IdentityQuat())

	p := rot.Compose(shift).Apply(r3.Vector{})
	assert.InDelta(t, 0, p.X, tol)
	assert.InDelta(t, 1, p.Y, tol)

	p = shift.Compose(rot).Apply(r3.Vector{})
	assert.InDelta(t, 1, p.X, tol)
	assert.InDelta(t, 0, p.Y, tol)
}

func TestApply_MatchesQuaternionRotation(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	for i := 0; i < 50; i++ {
		q := randomUnitQuat(rng)
		p, v := randomVector(rng), randomVector(rng)
		tr := MustFromPose(p, q)

		got := tr.Apply(v)
		want := rotate(q, v).Add(p)
		assert.InDelta(t, want.X, got.X, tol)
		assert.InDelta(t, want.Y, got.Y, tol)
		assert.InDelta(t, want.Z, got.Z, tol)
	}
}

func TestOrientation_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	for i := 0; i < 100; i++ {
		q := randomUnitQuat(rng)
		if q.Real < 0 {
			q = quat.Scale(-1, q)
		}
		got := MustFromPose(r3.Vector{}, q).Orientation()
		assert.InDelta(t, q.Real, got.Real, 1e-7)
		assert.InDelta(t, q.Imag, got.Imag, 1e-7)
		assert.InDelta(t, q.Jmag, got.Jmag, 1e-7)
		assert.InDelta(t, q.Kmag, got.Kmag, 1e-7)
	}
}

func TestIsRigid(t *testing.T) {
	assert.True(t, Identity().IsRigid(tol))

	sheared := Identity()
	sheared[0][1] = 0.3
	assert.False(t, sheared.IsRigid(1e-6))

	mirrored := Identity()
	mirrored[2][2] = -1
	assert.False(t, mirrored.IsRigid(1e-6))
}

func TestRelative_Scenarios(t *testing.T) {
	t.Run("translation only", func(t *testing.T) {
		ref := MustFromPose(r3.Vector{}, IdentityQuat())
		sub := MustFromPose(r3.Vector{X: 1, Y: 2, Z: 3}, IdentityQuat())

		pos := Relative(ref, sub).Translation()
		assert.InDelta(t, 1, pos.X, tol)
		assert.InDelta(t, 2, pos.Y, tol)
		assert.InDelta(t, 3, pos.Z, tol)
		assert.InDelta(t, math.Sqrt(14), Distance(pos), tol)
	})

	t.Run("reference yawed 90 degrees", func(t *testing.T) {
		ref := MustFromPose(r3.Vector{}, NewQuat(math.Cos(math.Pi/4), 0, 0, math.Sin(math.Pi/4)))
		sub := MustFromPose(r3.Vector{X: 1}, IdentityQuat())

		pos := Relative(ref, sub).Translation()
		assert.InDelta(t, 0, pos.X, tol)
		assert.InDelta(t, -1, pos.Y, tol)
		assert.InDelta(t, 0, pos.Z, tol)
	})

	t.Run("coincident devices", func(t *testing.T) {
		q := NewQuat(0.5, 0.5, 0.5, 0.5)
		ref := MustFromPose(r3.Vector{X: 2, Y: -1, Z: 0.5}, q)
		sub := MustFromPose(r3.Vector{X: 2, Y: -1, Z: 0.5}, q)

		rel := Relative(ref, sub)
		assert.InDelta(t, 0, Distance(rel.Translation()), tol)
		assert.True(t, rel.ApproxEqual(Identity(), tol))
	})
}
