// Package quantize re-encodes parameter tensors at reduced bit-width for
// transfer between coordinator and clients.
package quantize

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"fedq/model"
	"fedq/tensor"
)

// Scheme selects the codec applied to a parameter mapping before transfer.
type Scheme int

const (
	// None passes values through at full 64-bit width.
	None Scheme = iota
	// HalfFloat casts every value to IEEE binary16. Values outside the
	// half-width exponent range saturate to ±Inf.
	HalfFloat
	// AffineInt8 scales the whole payload by a single multiplier so that
	// every value fits a signed 8-bit range.
	AffineInt8
)

func (s Scheme) String() string {
	switch s {
	case None:
		return "none"
	case HalfFloat:
		return "float16"
	case AffineInt8:
		return "int8"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// ParseScheme maps a configuration string to a Scheme.
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "none", "":
		return None, nil
	case "float16", "half":
		return HalfFloat, nil
	case "int8":
		return AffineInt8, nil
	default:
		return None, fmt.Errorf("quantize: unknown scheme %q", s)
	}
}

// EncodedTensor is one parameter re-encoded as raw bytes at the scheme's
// element width.
type EncodedTensor struct {
	Name  string
	Shape []int
	Data  []byte
}

// Payload is a quantized parameter mapping plus the side information needed
// to decode it. It carries no semantic validity until decoded.
type Payload struct {
	Scheme  Scheme
	Tensors []EncodedTensor
	// Multiplier is the AffineInt8 scale factor, computed fresh on every
	// encode call from the payload's own value range. Zero for other schemes.
	Multiplier float64
}

type codec struct {
	encode func(*model.Params) (*Payload, error)
	decode func(*Payload) (*model.Params, error)
}

var codecs = map[Scheme]codec{
	None:       {encode: encodeNone, decode: decodeNone},
	HalfFloat:  {encode: encodeHalf, decode: decodeHalf},
	AffineInt8: {encode: encodeInt8, decode: decodeInt8},
}

// Encode re-encodes p under the given scheme.
func Encode(p *model.Params, s Scheme) (*Payload, error) {
	c, ok := codecs[s]
	if !ok {
		return nil, fmt.Errorf("quantize: unknown scheme %d", int(s))
	}
	return c.encode(p)
}

// Decode restores a full-precision parameter mapping from pl. Decoding is
// the inverse of encoding up to the scheme's declared precision loss.
func Decode(pl *Payload) (*model.Params, error) {
	c, ok := codecs[pl.Scheme]
	if !ok {
		return nil, fmt.Errorf("quantize: unknown scheme %d", int(pl.Scheme))
	}
	return c.decode(pl)
}

func encodeNone(p *model.Params) (*Payload, error) {
	pl := &Payload{Scheme: None}
	for _, name := range p.Names() {
		t, _ := p.Get(name)
		data := make([]byte, 8*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
		}
		pl.Tensors = append(pl.Tensors, EncodedTensor{Name: name, Shape: append([]int(nil), t.Shape...), Data: data})
	}
	return pl, nil
}

func decodeNone(pl *Payload) (*model.Params, error) {
	p := model.NewParams()
	for _, et := range pl.Tensors {
		t := tensor.New(et.Shape...)
		if len(et.Data) != 8*len(t.Data) {
			return nil, fmt.Errorf("quantize: tensor %q has %d bytes, want %d", et.Name, len(et.Data), 8*len(t.Data))
		}
		for i := range t.Data {
			t.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(et.Data[8*i:]))
		}
		p.Set(et.Name, t)
	}
	return p, nil
}

func encodeHalf(p *model.Params) (*Payload, error) {
	pl := &Payload{Scheme: HalfFloat}
	for _, name := range p.Names() {
		t, _ := p.Get(name)
		data := make([]byte, 2*len(t.Data))
		for i, v := range t.Data {
			binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(float32(v)).Bits())
		}
		pl.Tensors = append(pl.Tensors, EncodedTensor{Name: name, Shape: append([]int(nil), t.Shape...), Data: data})
	}
	return pl, nil
}

func decodeHalf(pl *Payload) (*model.Params, error) {
	p := model.NewParams()
	for _, et := range pl.Tensors {
		t := tensor.New(et.Shape...)
		if len(et.Data) != 2*len(t.Data) {
			return nil, fmt.Errorf("quantize: tensor %q has %d bytes, want %d", et.Name, len(et.Data), 2*len(t.Data))
		}
		for i := range t.Data {
			t.Data[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(et.Data[2*i:])).Float32())
		}
		p.Set(et.Name, t)
	}
	return p, nil
}

func encodeInt8(p *model.Params) (*Payload, error) {
	maxAbs := 0.0
	for _, name := range p.Names() {
		t, _ := p.Get(name)
		for _, v := range t.Data {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
	}
	// A degenerate all-zero payload would give an infinite scale; clamp to 1
	// so that decode divides by something finite.
	multiplier := 1.0
	if maxAbs > 0 {
		multiplier = 127.0 / maxAbs
	}

	pl := &Payload{Scheme: AffineInt8, Multiplier: multiplier}
	for _, name := range p.Names() {
		t, _ := p.Get(name)
		data := make([]byte, len(t.Data))
		for i, v := range t.Data {
			q := math.Round(v * multiplier)
			if q > 127 {
				q = 127
			} else if q < -128 {
				q = -128
			}
			data[i] = byte(int8(q))
		}
		pl.Tensors = append(pl.Tensors, EncodedTensor{Name: name, Shape: append([]int(nil), t.Shape...), Data: data})
	}
	return pl, nil
}

func decodeInt8(pl *Payload) (*model.Params, error) {
	if pl.Multiplier == 0 {
		return nil, fmt.Errorf("quantize: int8 payload has zero multiplier")
	}
	p := model.NewParams()
	for _, et := range pl.Tensors {
		t := tensor.New(et.Shape...)
		if len(et.Data) != len(t.Data) {
			return nil, fmt.Errorf("quantize: tensor %q has %d bytes, want %d", et.Name, len(et.Data), len(t.Data))
		}
		for i := range t.Data {
			t.Data[i] = float64(int8(et.Data[i])) / pl.Multiplier
		}
		p.Set(et.Name, t)
	}
	return p, nil
}
