// Package safetensors reads and writes the safetensors checkpoint
// format. Reading prefers mmap so whole-model scans do not double
// memory; writing always emits F32 payloads since rotated checkpoints
// are an intermediate artifact, not a serving format.
package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

// TensorInfo describes one tensor in a safetensors file. Start and End
// are byte offsets relative to the start of the data section.
type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an open safetensors file.
type File struct {
	Path    string
	Tensors map[string]TensorInfo

	data      []byte
	dataStart int64
	mmapped   bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps a safetensors file read-only and parses its header. If
// mmap is unavailable it falls back to reading the file into memory.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("safetensors: %s: invalid file size %d", path, size64)
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	mmapped := err == nil
	if err != nil {
		data = make([]byte, size)
		if _, err := f.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
		}
	}

	sf, err := parse(path, data, mmapped)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	return sf, nil
}

func parse(path string, data []byte, mmapped bool) (*File, error) {
	headerLen := binary.LittleEndian.Uint64(data)
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("safetensors: %s: header length %d exceeds file", path, headerLen)
	}
	headerBytes := data[8 : 8+headerLen]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("safetensors: %s: parse header: %w", path, err)
	}
	delete(raw, "__metadata__")

	dataStart := int64(8 + headerLen)
	dataLen := int64(len(data)) - dataStart

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("safetensors: %s: tensor %s: %w", path, name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[0] < 0 || th.DataOffsets[1] < th.DataOffsets[0] || th.DataOffsets[1] > dataLen {
			return nil, fmt.Errorf("safetensors: %s: tensor %s: invalid data_offsets", path, name)
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}

	return &File{
		Path:      path,
		Tensors:   tensors,
		data:      data,
		dataStart: dataStart,
		mmapped:   mmapped,
	}, nil
}

// Close releases the mapping, if any. The file must not be used after
// Close.
func (f *File) Close() error {
	data := f.data
	f.data = nil
	if f.mmapped && data != nil {
		return unix.Munmap(data)
	}
	return nil
}

// Names returns all tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensor looks up a tensor by name.
func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Bytes returns the raw payload of a tensor. The slice aliases the
// mapping and is only valid until Close.
func (f *File) Bytes(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor not found: %s", name)
	}
	start := f.dataStart + t.Start
	end := f.dataStart + t.End
	return f.data[start:end], t, nil
}

// Float64s decodes a tensor into float64 values. F32, F16 and BF16
// payloads are supported.
func (f *File) Float64s(name string) ([]float64, TensorInfo, error) {
	raw, info, err := f.Bytes(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: %w", name, err)
	}

	out := make([]float64, n)
	switch info.DType {
	case "F32":
		if len(raw) != n*4 {
			return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: f32 payload size mismatch", name)
		}
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case "F16":
		if len(raw) != n*2 {
			return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: f16 payload size mismatch", name)
		}
		for i := 0; i < n; i++ {
			out[i] = float64(fp16ToF32(binary.LittleEndian.Uint16(raw[i*2:])))
		}
	case "BF16":
		if len(raw) != n*2 {
			return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: bf16 payload size mismatch", name)
		}
		for i := 0; i < n; i++ {
			out[i] = float64(bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:])))
		}
	default:
		return nil, TensorInfo{}, fmt.Errorf("safetensors: tensor %s: unsupported dtype %s", name, info.DType)
	}
	return out, info, nil
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}
