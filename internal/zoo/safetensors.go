package zoo

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// SafeTensors layout:
// [8 bytes: header size, uint64 LE][JSON header][raw tensor data]

const maxHeaderSize = 100 << 20

// TensorInfo describes one tensor in the header.
type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// SafetensorsReader reads tensors from a .safetensors file on demand.
type SafetensorsReader struct {
	file       *os.File
	tensors    map[string]TensorInfo
	dataOffset int64
}

// OpenSafetensors parses the header of the file at path.
func OpenSafetensors(path string) (*SafetensorsReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var size uint64
	if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read header size: %w", err)
	}
	if size > maxHeaderSize {
		_ = f.Close()
		return nil, fmt.Errorf("invalid header size %d", size)
	}
	header := make([]byte, size)
	if _, err := io.ReadFull(f, header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("parse header: %w", err)
	}
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		tensors[name] = info
	}
	return &SafetensorsReader{file: f, tensors: tensors, dataOffset: int64(8 + size)}, nil
}

func (r *SafetensorsReader) Close() error { return r.file.Close() }

// Info returns the header entry for name.
func (r *SafetensorsReader) Info(name string) (TensorInfo, bool) {
	info, ok := r.tensors[name]
	return info, ok
}

// ReadInto decodes an F32 or F64 tensor into dst, which must have exactly
// as many elements as the tensor.
func (r *SafetensorsReader) ReadInto(name string, dst []float64) error {
	info, ok := r.tensors[name]
	if !ok {
		return fmt.Errorf("tensor %s not found", name)
	}
	var elem int64
	switch info.DType {
	case "F32":
		elem = 4
	case "F64":
		elem = 8
	default:
		return fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
	count := int64(1)
	for _, d := range info.Shape {
		count *= int64(d)
	}
	if count != int64(len(dst)) {
		return fmt.Errorf("tensor %s: shape %v holds %d values, parameter holds %d", name, info.Shape, count, len(dst))
	}
	size := info.DataOffsets[1] - info.DataOffsets[0]
	if size != count*elem {
		return fmt.Errorf("tensor %s: data span %d does not match shape %v", name, size, info.Shape)
	}
	buf := make([]byte, size)
	if _, err := r.file.ReadAt(buf, r.dataOffset+info.DataOffsets[0]); err != nil {
		return fmt.Errorf("read tensor %s: %w", name, err)
	}
	for i := range dst {
		if elem == 4 {
			dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
		} else {
			dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	}
	return nil
}
