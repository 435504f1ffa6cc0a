// Package duration 实现时长推理阶段：语言学编码器 + 时长预测模型，
// 产出逐音素时长（秒）
package duration

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/inferutil"
	"github.com/getcharzp/go-svs/session"
	"github.com/getcharzp/go-svs/tensor"
)

// Engine 时长推理引擎，持有编码器与预测模型两个会话
type Engine struct {
	config  *api.DurationConfiguration
	options *api.ImportOptions
	driver  session.Driver

	mu               sync.RWMutex
	state            atomic.Int32
	result           *api.DurationResult
	encoderSession   session.Session
	predictorSession session.Session
}

// New 创建时长推理引擎，调用 Initialize 前不可用
func New(config *api.DurationConfiguration, options *api.ImportOptions, driver session.Driver) *Engine {
	return &Engine{config: config, options: options, driver: driver}
}

// State 当前任务状态，可被任意线程读取
func (e *Engine) State() api.TaskState {
	return api.TaskState(e.state.Load())
}

func (e *Engine) setState(s api.TaskState) {
	e.state.Store(int32(s))
}

// Result 最近一次成功推理的结果
func (e *Engine) Result() *api.DurationResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// Initialize 校验初始化参数并打开模型会话，成功后进入 Idle 状态
func (e *Engine) Initialize(args api.TaskInitArgs) error {
	if args == nil {
		return fmt.Errorf("%w: duration 初始化参数为空", api.ErrInvalidArgument)
	}
	if name := args.ObjectName(); name != api.DurationAPIName {
		return fmt.Errorf("%w: duration 初始化参数名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.DurationAPIName, name)
	}
	if e.config == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: duration 配置为空", api.ErrInvalidArgument)
	}
	if e.driver == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: 推理驱动未初始化", api.ErrSession)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// 既有结果作废
	e.result = nil

	encoder := e.driver.NewSession()
	if err := encoder.Open(e.config.Encoder); err != nil {
		e.setState(api.StateFailed)
		return err
	}
	predictor := e.driver.NewSession()
	if err := predictor.Open(e.config.Predictor); err != nil {
		encoder.Close()
		e.setState(api.StateFailed)
		return err
	}
	e.encoderSession = encoder
	e.predictorSession = predictor

	e.setState(api.StateIdle)
	return nil
}

// Start 同步执行时长推理
func (e *Engine) Start(input api.TaskStartInput) (*api.DurationResult, error) {
	e.mu.RLock()
	driverReady := e.driver != nil && e.predictorSession != nil
	e.mu.RUnlock()
	if !driverReady {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: duration 会话未初始化", api.ErrSession)
	}

	e.setState(api.StateRunning)

	config := e.config
	if input == nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: duration 输入为空", api.ErrInvalidArgument)
	}
	if name := input.ObjectName(); name != api.DurationAPIName {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: duration 输入名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.DurationAPIName, name)
	}
	durationInput, ok := input.(*api.DurationStartInput)
	if !ok {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: duration 输入类型非法", api.ErrInvalidArgument)
	}

	frameWidth := config.FrameWidth
	if math.IsNaN(frameWidth) || math.IsInf(frameWidth, 0) || frameWidth <= 0 {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 帧宽必须为正数", api.ErrInvalidArgument)
	}

	predictorInputs := make(map[string]*tensor.Tensor)

	// 第一部分：语言学编码器推理（单词粒度），隐层输出与掩码转发给预测模型
	linguisticInputs, err := inferutil.PreprocessLinguisticWord(
		durationInput.Words, config.Phonemes, config.Languages, config.UseLanguageId, frameWidth)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}
	e.mu.Lock()
	if e.encoderSession == nil || !e.encoderSession.IsOpen() {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: duration 语言学编码器会话未初始化", api.ErrSession)
	}
	err = inferutil.RunEncoder(e.encoderSession, linguisticInputs, predictorInputs, true)
	e.mu.Unlock()
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}

	// 第二部分：时长预测
	phMidi, err := preprocessPhonemeMidi(durationInput.Words)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}
	predictorInputs["ph_midi"] = phMidi

	phoneCount := inferutil.PhoneCount(durationInput.Words)
	if config.UseSpeakerEmbedding {
		var mapping map[string]string
		if e.options != nil {
			mapping = e.options.SpeakerMapping
		}
		spkEmbed, err := inferutil.MixPhoneSpeakerEmbeddings(
			durationInput.Words, config.Speakers, mapping, config.HiddenSize)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, err
		}
		predictorInputs["spk_embed"] = spkEmbed
	}

	const outParamPhDurPred = "ph_dur_pred"

	e.mu.Lock()
	predictor := e.predictorSession
	if predictor == nil || !predictor.IsOpen() {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: duration 预测会话未初始化", api.ErrSession)
	}
	outputs, err := predictor.Run(predictorInputs, []string{outParamPhDurPred})
	if err != nil {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, err
	}

	view, err := tensor.View[float32](outputs[outParamPhDurPred])
	if err != nil {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 模型输出不是 float 类型: %v", api.ErrSession, err)
	}
	if len(view) == 0 {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 模型输出为空", api.ErrSession)
	}

	durations := make([]float64, len(view))
	for i, v := range view {
		durations[i] = float64(v)
	}

	// 按单词把预测时长缩放回原始单词时长
	if err := scaleToWordDurations(durations, durationInput.Words); err != nil {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, err
	}

	if len(durations) != phoneCount {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 预测音素数不匹配: 期望 %d, 实际 %d",
			api.ErrSession, phoneCount, len(durations))
	}

	result := &api.DurationResult{Durations: durations}
	e.result = result
	e.mu.Unlock()

	e.setState(api.StateIdle)
	return result, nil
}

// StartAsync 异步启动，尚未实现
func (e *Engine) StartAsync(api.TaskStartInput, func(*api.DurationResult, error)) error {
	return api.ErrNotImplemented
}

// Stop 请求终止全部会话，全部接受时返回 true
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	flag := true
	for _, sess := range []session.Session{e.encoderSession, e.predictorSession} {
		if sess != nil {
			flag = sess.Stop() && flag
		}
	}
	e.setState(api.StateTerminated)
	return flag
}

// Destroy 释放全部会话
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.encoderSession != nil {
		e.encoderSession.Close()
		e.encoderSession = nil
	}
	if e.predictorSession != nil {
		e.predictorSession.Close()
		e.predictorSession = nil
	}
	return nil
}

// preprocessPhonemeMidi 为每个音素取其起始时刻所在音符的 MIDI 音高，
// 休止音符先记 0，每处理完一个单词就在已累积的序列上按最近非休止值
// 填充，产出 1×N int64 张量
func preprocessPhonemeMidi(words []api.Word) (*tensor.Tensor, error) {
	phoneCount := inferutil.PhoneCount(words)
	isRest := make([]uint8, 0, phoneCount)
	phMidi := make([]int64, 0, phoneCount)

	for _, word := range words {
		if len(word.Notes) == 0 {
			continue
		}

		cumDur := make([]float64, 0, len(word.Notes))
		var s float64
		for _, note := range word.Notes {
			s += note.Duration
			cumDur = append(cumDur, s)
		}

		for _, phone := range word.Phones {
			idx := 0
			for idx < len(cumDur) && phone.Start > cumDur[idx] {
				idx++
			}
			if idx >= len(word.Notes) {
				idx = len(word.Notes) - 1
			}

			note := word.Notes[idx]
			if note.IsRest {
				isRest = append(isRest, 1)
				phMidi = append(phMidi, 0)
			} else {
				isRest = append(isRest, 0)
				phMidi = append(phMidi, int64(note.Key))
			}
		}

		if !inferutil.FillRestMidiWithNearest(phMidi, isRest) {
			return nil, fmt.Errorf("%w: 休止音符填充失败", api.ErrSession)
		}
	}

	return tensor.FromSlice([]int64{1, int64(len(phMidi))}, phMidi)
}

// scaleToWordDurations 逐单词把预测时长之和缩放为单词原始时长
func scaleToWordDurations(durations []float64, words []api.Word) error {
	begin := 0
	for _, word := range words {
		if len(word.Phones) == 0 {
			return fmt.Errorf("%w: 时长缩放失败: 单词没有音素", api.ErrSession)
		}
		end := begin + len(word.Phones)
		if begin >= len(durations) || end > len(durations) {
			break
		}
		var predWordDur float64
		for i := begin; i < end; i++ {
			predWordDur += durations[i]
		}
		if predWordDur == 0 || math.IsNaN(predWordDur) || math.IsInf(predWordDur, 0) {
			return fmt.Errorf("%w: 时长缩放失败: 预测单词时长非法: %v", api.ErrSession, predWordDur)
		}
		scale := word.Duration() / predWordDur
		for i := begin; i < end; i++ {
			durations[i] *= scale
		}
		begin = end
	}
	return nil
}
