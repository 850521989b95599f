package inference

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, volume(shape))}
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Validate checks that the data length matches the shape.
func (t *Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor has no shape")
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor has non-positive dimension in shape %v", t.Shape)
		}
	}
	if want := volume(t.Shape); want != len(t.Data) {
		return fmt.Errorf("tensor shape %v needs %d values, got %d", t.Shape, want, len(t.Data))
	}
	return nil
}

func volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// wireTensor is the JSON form exchanged with the model server:
// little-endian float32 values, base64 encoded.
type wireTensor struct {
	Shape []int  `json:"shape"`
	Data  string `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (t *Tensor) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return json.Marshal(wireTensor{Shape: t.Shape, Data: base64.StdEncoding.EncodeToString(buf)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tensor) UnmarshalJSON(b []byte) error {
	var w wireTensor
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return fmt.Errorf("decode tensor data: %w", err)
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("tensor payload length %d is not a multiple of 4", len(raw))
	}
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	t.Shape = w.Shape
	t.Data = data
	return t.Validate()
}
