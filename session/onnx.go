package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	ort "github.com/getcharzp/onnxruntime_purego"

	svs "github.com/getcharzp/go-svs"
	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/tensor"
)

// OnnxDriver 基于 onnxruntime 的会话工厂
type OnnxDriver struct {
	config *svs.OnnxConfig
}

// NewOnnxDriver 创建 ONNX 会话工厂，config 未初始化时先完成初始化
func NewOnnxDriver(config *svs.OnnxConfig) (*OnnxDriver, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: onnx config 为空", api.ErrInvalidArgument)
	}
	if config.OnnxEngine == nil {
		if err := config.New(); err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrFeatureNotSupported, err)
		}
	}
	return &OnnxDriver{config: config}, nil
}

// NewSession 创建未打开的会话
func (d *OnnxDriver) NewSession() Session {
	return &onnxSession{config: d.config}
}

// onnxSession 持有一个 ONNX 会话，整个阶段生命周期内只打开一次
type onnxSession struct {
	config  *svs.OnnxConfig
	session *ort.Session

	mu      sync.Mutex
	stopped atomic.Bool
}

func (s *onnxSession) Open(modelPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return fmt.Errorf("%w: 会话已打开", api.ErrSession)
	}
	sess, err := s.config.OnnxEngine.NewSession(modelPath, s.config.SessionOptions)
	if err != nil {
		return fmt.Errorf("%w: 创建 ONNX 会话失败 (%s): %v", api.ErrSession, modelPath, err)
	}
	s.session = sess
	return nil
}

func (s *onnxSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *onnxSession) Run(inputs map[string]*tensor.Tensor, outputNames []string) (map[string]*tensor.Tensor, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("%w: 会话未打开", api.ErrSession)
	}
	if s.stopped.Load() {
		return nil, fmt.Errorf("%w: 会话已被终止", api.ErrSession)
	}

	// 构建后端输入张量
	inputValues := make(map[string]*ort.Value, len(inputs))
	defer func() {
		for _, v := range inputValues {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	for name, t := range inputs {
		v, err := toOrtValue(t)
		if err != nil {
			return nil, fmt.Errorf("%w: 构建输入 %q 失败: %v", api.ErrSession, name, err)
		}
		inputValues[name] = v
	}

	outputValues, err := sess.Run(inputValues)
	if err != nil {
		return nil, fmt.Errorf("%w: 推理运行失败: %v", api.ErrSession, err)
	}
	defer func() {
		for _, v := range outputValues {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	// 仅取出调用方要求的输出
	results := make(map[string]*tensor.Tensor, len(outputNames))
	for _, name := range outputNames {
		value, ok := outputValues[name]
		if !ok || value == nil {
			return nil, fmt.Errorf("%w: 模型未产出输出 %q", api.ErrSession, name)
		}
		t, err := fromOrtValue(value)
		if err != nil {
			return nil, fmt.Errorf("%w: 读取输出 %q 失败: %v", api.ErrSession, name, err)
		}
		results[name] = t
	}
	return results, nil
}

func (s *onnxSession) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return false
	}
	s.stopped.Store(true)
	return true
}

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return nil
}

// toOrtValue 将张量转换为后端值
func toOrtValue(t *tensor.Tensor) (*ort.Value, error) {
	shape := t.Shape()
	switch t.DataType() {
	case tensor.Float:
		data, err := tensor.View[float32](t)
		if err != nil {
			return nil, err
		}
		return ort.NewTensor(shape, data)
	case tensor.Int64:
		data, err := tensor.View[int64](t)
		if err != nil {
			return nil, err
		}
		return ort.NewTensor(shape, data)
	case tensor.Bool:
		data, err := tensor.View[bool](t)
		if err != nil {
			return nil, err
		}
		return ort.NewTensor(shape, data)
	default:
		return nil, fmt.Errorf("未知张量元素类型: %d", t.DataType())
	}
}

// fromOrtValue 拷贝后端值为张量
func fromOrtValue(v *ort.Value) (*tensor.Tensor, error) {
	shape, err := v.GetShape()
	if err != nil {
		return nil, err
	}
	if data, err := ort.GetTensorData[float32](v); err == nil {
		return tensor.FromSlice(shape, data)
	}
	if data, err := ort.GetTensorData[int64](v); err == nil {
		return tensor.FromSlice(shape, data)
	}
	if data, err := ort.GetTensorData[bool](v); err == nil {
		return tensor.FromSlice(shape, data)
	}
	return nil, fmt.Errorf("不支持的输出张量类型")
}
