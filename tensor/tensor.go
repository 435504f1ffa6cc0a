// Package tensor 提供后端张量的轻量类型封装
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType 张量元素类型
type DataType int

const (
	// Float float32
	Float DataType = iota + 1
	// Int64 int64
	Int64
	// Bool 布尔
	Bool
)

// String 返回类型名
func (d DataType) String() string {
	switch d {
	case Float:
		return "float32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// elementSize 单元素字节数
func (d DataType) elementSize() int {
	switch d {
	case Float:
		return 4
	case Int64:
		return 8
	case Bool:
		return 1
	default:
		return 0
	}
}

// Element 张量支持的元素类型
type Element interface {
	float32 | int64 | bool
}

// Tensor n 维类型化数组。构造后仅允许唯一写入方通过 MutableData 填充，
// 之后以只读方式在多个消费方之间共享
type Tensor struct {
	dtype DataType
	shape []int64

	f32 []float32
	i64 []int64
	b   []bool
}

// elementCount 按形状计算元素总数，非法形状返回 -1
func elementCount(shape []int64) int64 {
	if len(shape) == 0 {
		return 1
	}
	count := int64(1)
	for _, dim := range shape {
		if dim < 0 {
			return -1
		}
		count *= dim
	}
	return count
}

// New 创建指定类型与形状的零值张量
func New(dtype DataType, shape []int64) (*Tensor, error) {
	n := elementCount(shape)
	if n < 0 {
		return nil, fmt.Errorf("非法张量形状: %v", shape)
	}
	t := &Tensor{dtype: dtype, shape: append([]int64(nil), shape...)}
	switch dtype {
	case Float:
		t.f32 = make([]float32, n)
	case Int64:
		t.i64 = make([]int64, n)
	case Bool:
		t.b = make([]bool, n)
	default:
		return nil, fmt.Errorf("未知张量元素类型: %d", dtype)
	}
	return t, nil
}

// dataTypeOf 由元素类型推导 DataType
func dataTypeOf[T Element]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float
	case int64:
		return Int64
	default:
		return Bool
	}
}

// Filled 创建按给定值填充的张量
func Filled[T Element](shape []int64, value T) (*Tensor, error) {
	t, err := New(dataTypeOf[T](), shape)
	if err != nil {
		return nil, err
	}
	data, _ := MutableData[T](t)
	for i := range data {
		data[i] = value
	}
	return t, nil
}

// Scalar 创建标量张量（形状为空）
func Scalar[T Element](value T) (*Tensor, error) {
	return Filled[T](nil, value)
}

// FromSlice 拷贝切片内容创建张量，元素数必须与形状一致
func FromSlice[T Element](shape []int64, data []T) (*Tensor, error) {
	n := elementCount(shape)
	if n != int64(len(data)) {
		return nil, fmt.Errorf("张量形状 %v 与数据长度 %d 不匹配", shape, len(data))
	}
	t, err := New(dataTypeOf[T](), shape)
	if err != nil {
		return nil, err
	}
	dst, _ := MutableData[T](t)
	copy(dst, data)
	return t, nil
}

// FromRawData 由小端字节流创建张量
func FromRawData(dtype DataType, shape []int64, raw []byte) (*Tensor, error) {
	n := elementCount(shape)
	if n < 0 {
		return nil, fmt.Errorf("非法张量形状: %v", shape)
	}
	if int64(len(raw)) != n*int64(dtype.elementSize()) {
		return nil, fmt.Errorf("张量字节长度 %d 与形状 %v 不匹配", len(raw), shape)
	}
	t, err := New(dtype, shape)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case Float:
		for i := range t.f32 {
			bits := binary.LittleEndian.Uint32(raw[i*4:])
			t.f32[i] = math.Float32frombits(bits)
		}
	case Int64:
		for i := range t.i64 {
			t.i64[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case Bool:
		for i := range t.b {
			t.b[i] = raw[i] != 0
		}
	}
	return t, nil
}

// DataType 元素类型
func (t *Tensor) DataType() DataType { return t.dtype }

// Shape 形状（拷贝）
func (t *Tensor) Shape() []int64 { return append([]int64(nil), t.shape...) }

// ElementCount 元素总数
func (t *Tensor) ElementCount() int64 {
	return elementCount(t.shape)
}

// ByteSize 数据总字节数
func (t *Tensor) ByteSize() int64 {
	return t.ElementCount() * int64(t.dtype.elementSize())
}

// typedSlice 取出与 T 对应的底层切片，调用前必须已校验 dtype
func typedSlice[T Element](t *Tensor) []T {
	switch t.dtype {
	case Float:
		return any(t.f32).([]T)
	case Int64:
		return any(t.i64).([]T)
	default:
		return any(t.b).([]T)
	}
}

// View 返回只读数据视图，类型不符时报错。调用方不得修改返回的切片
func View[T Element](t *Tensor) ([]T, error) {
	if want := dataTypeOf[T](); t.dtype != want {
		return nil, fmt.Errorf("张量类型不匹配: 期望 %s, 实际 %s", want, t.dtype)
	}
	return typedSlice[T](t), nil
}

// MutableData 返回可写数据视图，类型不符时报错
func MutableData[T Element](t *Tensor) ([]T, error) {
	if want := dataTypeOf[T](); t.dtype != want {
		return nil, fmt.Errorf("张量类型不匹配: 期望 %s, 实际 %s", want, t.dtype)
	}
	return typedSlice[T](t), nil
}

// RawData 以小端字节流导出数据
func (t *Tensor) RawData() []byte {
	out := make([]byte, t.ByteSize())
	switch t.dtype {
	case Float:
		for i, v := range t.f32 {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case Int64:
		for i, v := range t.i64 {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
	case Bool:
		for i, v := range t.b {
			if v {
				out[i] = 1
			}
		}
	}
	return out
}
