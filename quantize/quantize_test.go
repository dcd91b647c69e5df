package quantize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedq/model"
	"fedq/tensor"
)

func sampleParams() *model.Params {
	p := model.NewParams()
	w := tensor.New(3, 2)
	vals := []float64{0.25, -1.5, 0.875, 2.0, -0.0625, 1.125}
	copy(w.Data, vals)
	p.Set("fc.weight", w)
	p.Set("fc.bias", tensor.NewWithData([]float64{0.5, -0.5}))
	return p
}

func TestParseScheme(t *testing.T) {
	for _, c := range []struct {
		in   string
		want Scheme
	}{
		{"none", None},
		{"", None},
		{"float16", HalfFloat},
		{"half", HalfFloat},
		{"int8", AffineInt8},
	} {
		got, err := ParseScheme(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "scheme for %q", c.in)
	}
	_, err := ParseScheme("int4")
	assert.Error(t, err)
}

func TestNoneRoundTripExact(t *testing.T) {
	p := sampleParams()
	pl, err := Encode(p, None)
	require.NoError(t, err)
	got, err := Decode(pl)
	require.NoError(t, err)
	require.NoError(t, model.Compatible(p, got))
	for _, name := range p.Names() {
		want, _ := p.Get(name)
		dec, _ := got.Get(name)
		assert.Equal(t, want.Data, dec.Data, "tensor %s", name)
	}
}

func TestHalfFloatRoundTrip(t *testing.T) {
	p := sampleParams()
	pl, err := Encode(p, HalfFloat)
	require.NoError(t, err)
	got, err := Decode(pl)
	require.NoError(t, err)
	require.NoError(t, model.Compatible(p, got))

	for _, name := range p.Names() {
		want, _ := p.Get(name)
		dec, _ := got.Get(name)
		for i := range want.Data {
			if want.Data[i] == 0 {
				assert.Zero(t, dec.Data[i])
				continue
			}
			rel := math.Abs(dec.Data[i]-want.Data[i]) / math.Abs(want.Data[i])
			assert.LessOrEqual(t, rel, math.Pow(2, -10), "tensor %s element %d", name, i)
		}
	}
}

func TestHalfFloatSaturates(t *testing.T) {
	p := model.NewParams()
	p.Set("big", tensor.NewWithData([]float64{1e9, -1e9}))
	pl, err := Encode(p, HalfFloat)
	require.NoError(t, err)
	got, err := Decode(pl)
	require.NoError(t, err)
	dec, _ := got.Get("big")
	assert.True(t, math.IsInf(dec.Data[0], 1), "overflow must saturate to +Inf")
	assert.True(t, math.IsInf(dec.Data[1], -1), "overflow must saturate to -Inf")
}

func TestHalfFloatReEncodeIdempotent(t *testing.T) {
	p := sampleParams()
	pl1, err := Encode(p, HalfFloat)
	require.NoError(t, err)
	dec1, err := Decode(pl1)
	require.NoError(t, err)
	pl2, err := Encode(dec1, HalfFloat)
	require.NoError(t, err)
	dec2, err := Decode(pl2)
	require.NoError(t, err)
	for _, name := range p.Names() {
		a, _ := dec1.Get(name)
		b, _ := dec2.Get(name)
		assert.Equal(t, a.Data, b.Data, "second encode lost information for %s", name)
	}
}

func TestInt8KnownValues(t *testing.T) {
	p := model.NewParams()
	p.Set("w", tensor.NewWithData([]float64{1.0, -2.0, 0.5}))
	pl, err := Encode(p, AffineInt8)
	require.NoError(t, err)

	assert.Equal(t, 63.5, pl.Multiplier)
	require.Len(t, pl.Tensors, 1)
	enc := pl.Tensors[0].Data
	assert.Equal(t, int8(64), int8(enc[0]))
	assert.Equal(t, int8(-127), int8(enc[1]))
	assert.Equal(t, int8(32), int8(enc[2]))

	got, err := Decode(pl)
	require.NoError(t, err)
	dec, _ := got.Get("w")
	want := []float64{1.0, -2.0, 0.5}
	for i := range want {
		assert.LessOrEqual(t, math.Abs(dec.Data[i]-want[i]), 1.0/63.5, "element %d", i)
	}
}

func TestInt8RelativeError(t *testing.T) {
	p := sampleParams()
	pl, err := Encode(p, AffineInt8)
	require.NoError(t, err)
	got, err := Decode(pl)
	require.NoError(t, err)
	require.NoError(t, model.Compatible(p, got))

	// error bound is 1/127 of the payload's max absolute value (2.0 here)
	bound := 2.0 / 127.0
	for _, name := range p.Names() {
		want, _ := p.Get(name)
		dec, _ := got.Get(name)
		for i := range want.Data {
			assert.LessOrEqual(t, math.Abs(dec.Data[i]-want.Data[i]), bound+1e-12, "tensor %s element %d", name, i)
		}
	}
}

func TestInt8FreshMultiplierPerEncode(t *testing.T) {
	a := model.NewParams()
	a.Set("w", tensor.NewWithData([]float64{2.0}))
	b := model.NewParams()
	b.Set("w", tensor.NewWithData([]float64{0.5}))

	plA, err := Encode(a, AffineInt8)
	require.NoError(t, err)
	plB, err := Encode(b, AffineInt8)
	require.NoError(t, err)
	assert.Equal(t, 63.5, plA.Multiplier)
	assert.Equal(t, 254.0, plB.Multiplier)
}

func TestInt8ZeroPayloadClampsScale(t *testing.T) {
	p := model.NewParams()
	p.Set("w", tensor.New(4))
	pl, err := Encode(p, AffineInt8)
	require.NoError(t, err)
	assert.Equal(t, 1.0, pl.Multiplier, "all-zero payload must clamp the scale")
	got, err := Decode(pl)
	require.NoError(t, err)
	dec, _ := got.Get("w")
	for i, v := range dec.Data {
		assert.Zero(t, v, "element %d", i)
	}
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	p := sampleParams()
	pl, err := Encode(p, AffineInt8)
	require.NoError(t, err)
	pl.Tensors[0].Data = pl.Tensors[0].Data[:1]
	_, err = Decode(pl)
	assert.Error(t, err)

	pl2, err := Encode(p, AffineInt8)
	require.NoError(t, err)
	pl2.Multiplier = 0
	_, err = Decode(pl2)
	assert.Error(t, err)
}
