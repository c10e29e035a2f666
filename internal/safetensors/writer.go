package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
)

// Tensor is one tensor queued for writing.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// Write serialises tensors to path as an F32 safetensors file. Tensors
// are laid out in name order. Metadata, when non-nil, is stored under
// the __metadata__ key.
func Write(path string, tensors []Tensor, metadata map[string]string) error {
	if len(tensors) == 0 {
		return fmt.Errorf("safetensors: nothing to write")
	}

	sorted := make([]Tensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]any, len(sorted)+1)
	var offset int64
	for _, t := range sorted {
		n, err := numElements(t.Shape)
		if err != nil {
			return fmt.Errorf("safetensors: tensor %s: %w", t.Name, err)
		}
		if n != len(t.Data) {
			return fmt.Errorf("safetensors: tensor %s: shape wants %d elements, have %d", t.Name, n, len(t.Data))
		}
		if _, dup := header[t.Name]; dup {
			return fmt.Errorf("safetensors: duplicate tensor %s", t.Name)
		}
		size := int64(n) * 4
		header[t.Name] = tensorHeader{
			DType:       "F32",
			Shape:       t.Shape,
			DataOffsets: []int64{offset, offset + size},
		}
		offset += size
	}
	if metadata != nil {
		header["__metadata__"] = metadata
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriterSize(f, 1<<20)

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		_ = f.Close()
		return err
	}

	var elem [4]byte
	for _, t := range sorted {
		for _, v := range t.Data {
			binary.LittleEndian.PutUint32(elem[:], math.Float32bits(float32(v)))
			if _, err := w.Write(elem[:]); err != nil {
				_ = f.Close()
				return err
			}
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
