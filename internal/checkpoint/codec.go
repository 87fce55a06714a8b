package checkpoint

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrCorrupt wraps every decoding failure.
var ErrCorrupt = errors.New("checkpoint: corrupt data")

// Field numbers of the checkpoint message.
const (
	fieldEpoch        protowire.Number = 1
	fieldArch         protowire.Number = 2
	fieldRunID        protowire.Number = 3
	fieldCreatedAt    protowire.Number = 4
	fieldHeadPath     protowire.Number = 5
	fieldHead         protowire.Number = 6
	fieldStateDict    protowire.Number = 7
	fieldOptimizer    protowire.Number = 8
	fieldClassToIdx   protowire.Number = 9
	fieldBestAccuracy protowire.Number = 10
)

// Encode serializes c in protobuf wire format. Map entries are written in
// key order so equal checkpoints encode identically.
func Encode(c *Checkpoint) []byte {
	var b []byte
	b = appendVarint(b, fieldEpoch, uint64(c.Epoch))
	b = appendString(b, fieldArch, c.Arch)
	b = appendBytes(b, fieldRunID, c.RunID[:])
	b = appendVarint(b, fieldCreatedAt, uint64(c.CreatedAt.UnixNano()))
	b = appendString(b, fieldHeadPath, c.HeadPath)
	for _, l := range c.Head {
		var m []byte
		m = appendString(m, 1, l.Name)
		m = appendString(m, 2, l.Kind)
		b = appendBytes(b, fieldHead, m)
	}
	b = appendTensors(b, fieldStateDict, c.StateDict)
	b = appendBytes(b, fieldOptimizer, encodeOptimizer(c.Optimizer))
	for _, k := range sortedKeys(c.ClassToIdx) {
		var m []byte
		m = appendString(m, 1, k)
		m = appendVarint(m, 2, uint64(c.ClassToIdx[k]))
		b = appendBytes(b, fieldClassToIdx, m)
	}
	b = appendDouble(b, fieldBestAccuracy, c.BestAccuracy)
	return b
}

// Decode parses data produced by Encode. Unknown fields are skipped.
func Decode(data []byte) (*Checkpoint, error) {
	c := &Checkpoint{StateDict: map[string]Tensor{}, ClassToIdx: map[string]int{}}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch num {
		case fieldEpoch:
			c.Epoch = int(v.u)
		case fieldArch:
			c.Arch = string(v.b)
		case fieldRunID:
			id, err := uuid.FromBytes(v.b)
			if err != nil {
				return err
			}
			c.RunID = id
		case fieldCreatedAt:
			c.CreatedAt = time.Unix(0, int64(v.u)).UTC()
		case fieldHeadPath:
			c.HeadPath = string(v.b)
		case fieldHead:
			var l LayerSpec
			err := walk(v.b, func(n protowire.Number, _ protowire.Type, f value) error {
				switch n {
				case 1:
					l.Name = string(f.b)
				case 2:
					l.Kind = string(f.b)
				}
				return nil
			})
			if err != nil {
				return err
			}
			c.Head = append(c.Head, l)
		case fieldStateDict:
			return decodeNamedTensor(v.b, c.StateDict)
		case fieldOptimizer:
			opt, err := decodeOptimizer(v.b)
			if err != nil {
				return err
			}
			c.Optimizer = opt
		case fieldClassToIdx:
			var key string
			var idx int
			err := walk(v.b, func(n protowire.Number, _ protowire.Type, f value) error {
				switch n {
				case 1:
					key = string(f.b)
				case 2:
					idx = int(f.u)
				}
				return nil
			})
			if err != nil {
				return err
			}
			c.ClassToIdx[key] = idx
		case fieldBestAccuracy:
			c.BestAccuracy = math.Float64frombits(v.u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func encodeOptimizer(o OptimizerState) []byte {
	var b []byte
	b = appendString(b, 1, o.Kind)
	b = appendVarint(b, 2, uint64(o.Step))
	b = appendDouble(b, 3, o.LR)
	b = appendDouble(b, 4, o.Beta1)
	b = appendDouble(b, 5, o.Beta2)
	b = appendDouble(b, 6, o.Eps)
	b = appendTensors(b, 7, o.M)
	b = appendTensors(b, 8, o.V)
	return b
}

func decodeOptimizer(data []byte) (OptimizerState, error) {
	o := OptimizerState{M: map[string]Tensor{}, V: map[string]Tensor{}}
	err := walk(data, func(num protowire.Number, _ protowire.Type, v value) error {
		switch num {
		case 1:
			o.Kind = string(v.b)
		case 2:
			o.Step = int(v.u)
		case 3:
			o.LR = math.Float64frombits(v.u)
		case 4:
			o.Beta1 = math.Float64frombits(v.u)
		case 5:
			o.Beta2 = math.Float64frombits(v.u)
		case 6:
			o.Eps = math.Float64frombits(v.u)
		case 7:
			return decodeNamedTensor(v.b, o.M)
		case 8:
			return decodeNamedTensor(v.b, o.V)
		}
		return nil
	})
	return o, err
}

// A named tensor is {1: name, 2: packed varint shape, 3: packed double data}.
func appendTensors(b []byte, num protowire.Number, tensors map[string]Tensor) []byte {
	for _, name := range sortedKeys(tensors) {
		t := tensors[name]
		var m []byte
		m = appendString(m, 1, name)
		var shape []byte
		for _, d := range t.Shape {
			shape = protowire.AppendVarint(shape, uint64(d))
		}
		m = appendBytes(m, 2, shape)
		data := make([]byte, 0, 8*len(t.Data))
		for _, v := range t.Data {
			data = protowire.AppendFixed64(data, math.Float64bits(v))
		}
		m = appendBytes(m, 3, data)
		b = appendBytes(b, num, m)
	}
	return b
}

func decodeNamedTensor(data []byte, into map[string]Tensor) error {
	var name string
	var t Tensor
	err := walk(data, func(num protowire.Number, _ protowire.Type, v value) error {
		switch num {
		case 1:
			name = string(v.b)
		case 2:
			for rest := v.b; len(rest) > 0; {
				d, n := protowire.ConsumeVarint(rest)
				if n < 0 {
					return protowire.ParseError(n)
				}
				if d == 0 || d > math.MaxInt32 {
					return fmt.Errorf("tensor dimension %d out of range", d)
				}
				t.Shape = append(t.Shape, int(d))
				rest = rest[n:]
			}
		case 3:
			if len(v.b)%8 != 0 {
				return fmt.Errorf("tensor data length %d not a multiple of 8", len(v.b))
			}
			t.Data = make([]float64, 0, len(v.b)/8)
			for rest := v.b; len(rest) > 0; {
				bits, n := protowire.ConsumeFixed64(rest)
				if n < 0 {
					return protowire.ParseError(n)
				}
				t.Data = append(t.Data, math.Float64frombits(bits))
				rest = rest[n:]
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := t.check(); err != nil {
		return fmt.Errorf("%w: tensor %q: %v", ErrCorrupt, name, err)
	}
	into[name] = t
	return nil
}

// value holds a decoded scalar (u) or length-delimited payload (b).
type value struct {
	u uint64
	b []byte
}

func walk(data []byte, fn func(protowire.Number, protowire.Type, value) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		data = data[n:]
		var v value
		switch typ {
		case protowire.VarintType:
			v.u, n = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			v.u, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			v.b, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(n))
		}
		data = data[n:]
		if err := fn(num, typ, v); err != nil {
			if errors.Is(err, ErrCorrupt) {
				return err
			}
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, err)
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
