// Package vocoder 实现声码器阶段：梅尔谱 + F0 → 波形
package vocoder

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/session"
	"github.com/getcharzp/go-svs/tensor"
)

// Engine 声码器推理引擎
type Engine struct {
	config  *api.VocoderConfiguration
	options *api.ImportOptions
	driver  session.Driver

	mu      sync.RWMutex
	state   atomic.Int32
	result  *api.VocoderResult
	session session.Session
}

// New 创建声码器推理引擎
func New(config *api.VocoderConfiguration, options *api.ImportOptions, driver session.Driver) *Engine {
	return &Engine{config: config, options: options, driver: driver}
}

// State 当前任务状态
func (e *Engine) State() api.TaskState {
	return api.TaskState(e.state.Load())
}

func (e *Engine) setState(s api.TaskState) {
	e.state.Store(int32(s))
}

// Result 最近一次成功推理的结果
func (e *Engine) Result() *api.VocoderResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// Initialize 校验初始化参数并打开模型会话
func (e *Engine) Initialize(args api.TaskInitArgs) error {
	if args == nil {
		return fmt.Errorf("%w: vocoder 初始化参数为空", api.ErrInvalidArgument)
	}
	if name := args.ObjectName(); name != api.VocoderAPIName {
		return fmt.Errorf("%w: vocoder 初始化参数名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.VocoderAPIName, name)
	}
	if e.config == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: vocoder 配置为空", api.ErrInvalidArgument)
	}
	if e.driver == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: 推理驱动未初始化", api.ErrSession)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.result = nil

	sess := e.driver.NewSession()
	if err := sess.Open(e.config.Model); err != nil {
		e.setState(api.StateFailed)
		return err
	}
	e.session = sess

	e.setState(api.StateIdle)
	return nil
}

// Start 同步执行声码器推理
func (e *Engine) Start(input api.TaskStartInput) (*api.VocoderResult, error) {
	e.mu.RLock()
	driverReady := e.driver != nil && e.session != nil
	e.mu.RUnlock()
	if !driverReady {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: vocoder 会话未初始化", api.ErrSession)
	}

	e.setState(api.StateRunning)

	if input == nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: vocoder 输入为空", api.ErrInvalidArgument)
	}
	if name := input.ObjectName(); name != api.VocoderAPIName {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: vocoder 输入名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.VocoderAPIName, name)
	}
	vocoderInput, ok := input.(*api.VocoderStartInput)
	if !ok {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: vocoder 输入类型非法", api.ErrInvalidArgument)
	}
	if vocoderInput.Mel == nil || vocoderInput.F0 == nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: vocoder 输入缺少 mel 或 f0 张量", api.ErrInvalidArgument)
	}

	sessionInputs := map[string]*tensor.Tensor{
		"mel": vocoderInput.Mel,
		"f0":  vocoderInput.F0,
	}

	const outParamWaveform = "waveform"

	e.mu.Lock()
	sess := e.session
	if sess == nil || !sess.IsOpen() {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: vocoder 会话未初始化", api.ErrSession)
	}
	outputs, err := sess.Run(sessionInputs, []string{outParamWaveform})
	if err != nil {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, err
	}

	waveform := outputs[outParamWaveform]
	view, err := tensor.View[float32](waveform)
	if err != nil {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 波形输出不是 float 类型: %v", api.ErrSession, err)
	}
	audio := make([]float32, len(view))
	copy(audio, view)

	result := &api.VocoderResult{AudioData: audio}
	e.result = result
	e.mu.Unlock()

	e.setState(api.StateIdle)
	return result, nil
}

// StartAsync 异步启动，尚未实现
func (e *Engine) StartAsync(api.TaskStartInput, func(*api.VocoderResult, error)) error {
	return api.ErrNotImplemented
}

// Stop 请求终止会话
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || !e.session.IsOpen() {
		return false
	}
	if !e.session.Stop() {
		return false
	}
	e.setState(api.StateTerminated)
	return true
}

// Destroy 释放会话
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
	return nil
}
