// Package pitch 实现音高推理阶段：语言学编码器 + 音高预测模型，
// 产出帧粒度的 MIDI 音高曲线
package pitch

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

// Engine 音高推理引擎
type Engine struct {
	config  *api.PitchConfiguration
	options *api.ImportOptions
	driver  session.Driver

	mu               sync.RWMutex
	state            atomic.Int32
	result           *api.PitchResult
	encoderSession   session.Session
	predictorSession session.Session
}

// New 创建音高推理引擎，调用 Initialize 前不可用
func New(config *api.PitchConfiguration, options *api.ImportOptions, driver session.Driver) *Engine {
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
func (e *Engine) Result() *api.PitchResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// Initialize 校验初始化参数并打开模型会话
func (e *Engine) Initialize(args api.TaskInitArgs) error {
	if args == nil {
		return fmt.Errorf("%w: pitch 初始化参数为空", api.ErrInvalidArgument)
	}
	if name := args.ObjectName(); name != api.PitchAPIName {
		return fmt.Errorf("%w: pitch 初始化参数名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.PitchAPIName, name)
	}
	if e.config == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: pitch 配置为空", api.ErrInvalidArgument)
	}
	if e.driver == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: 推理驱动未初始化", api.ErrSession)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

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

// Start 同步执行音高推理
func (e *Engine) Start(input api.TaskStartInput) (*api.PitchResult, error) {
	e.mu.RLock()
	driverReady := e.driver != nil && e.predictorSession != nil
	e.mu.RUnlock()
	if !driverReady {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: pitch 会话未初始化", api.ErrSession)
	}

	e.setState(api.StateRunning)

	config := e.config
	if input == nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: pitch 输入为空", api.ErrInvalidArgument)
	}
	if name := input.ObjectName(); name != api.PitchAPIName {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: pitch 输入名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.PitchAPIName, name)
	}
	pitchInput, ok := input.(*api.PitchStartInput)
	if !ok {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: pitch 输入类型非法", api.ErrInvalidArgument)
	}

	frameWidth := config.FrameWidth
	if math.IsNaN(frameWidth) || math.IsInf(frameWidth, 0) || frameWidth <= 0 {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 帧宽必须为正数", api.ErrInvalidArgument)
	}

	predictorInputs := make(map[string]*tensor.Tensor)

	// 第一部分：语言学编码器推理，粒度由配置决定
	var linguisticInputs map[string]*tensor.Tensor
	var err error
	switch config.LinguisticMode {
	case api.LinguisticWord:
		linguisticInputs, err = inferutil.PreprocessLinguisticWord(
			pitchInput.Words, config.Phonemes, config.Languages, config.UseLanguageId, frameWidth)
	case api.LinguisticPhoneme:
		linguisticInputs, err = inferutil.PreprocessLinguisticPhoneme(
			pitchInput.Words, config.Phonemes, config.Languages, config.UseLanguageId, frameWidth)
	default:
		err = fmt.Errorf("%w: 非法的 LinguisticMode", api.ErrSession)
	}
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}
	e.mu.Lock()
	if e.encoderSession == nil || !e.encoderSession.IsOpen() {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: pitch 语言学编码器会话未初始化", api.ErrSession)
	}
	err = inferutil.RunEncoder(e.encoderSession, linguisticInputs, predictorInputs, false)
	e.mu.Unlock()
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}

	// 第二部分：音高预测

	noteCount := inferutil.NoteCount(pitchInput.Words)
	noteRest := make([]uint8, 0, noteCount)
	noteMidi := make([]float32, 0, noteCount)
	noteDur, targetLen := inferutil.PreprocessNoteDurations(pitchInput.Words, frameWidth)
	for _, word := range pitchInput.Words {
		for _, note := range word.Notes {
			if note.IsRest {
				noteRest = append(noteRest, 1)
				noteMidi = append(noteMidi, 0)
			} else {
				noteRest = append(noteRest, 0)
				noteMidi = append(noteMidi, float32(note.Key)+float32(note.Cents)/100.0)
			}
		}
	}

	if !inferutil.FillRestMidiWithNearest(noteMidi, noteRest) {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 休止音符填充失败", api.ErrSession)
	}

	if t, err := tensor.FromSlice([]int64{1, int64(len(noteMidi))}, noteMidi); err == nil {
		predictorInputs["note_midi"] = t
	} else {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}

	if config.UseRestFlags {
		flags := make([]bool, len(noteRest))
		for i, r := range noteRest {
			flags[i] = r != 0
		}
		if t, err := tensor.FromSlice([]int64{1, int64(len(flags))}, flags); err == nil {
			predictorInputs["note_rest"] = t
		} else {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}
	}

	if t, err := tensor.FromSlice([]int64{1, int64(len(noteDur))}, noteDur); err == nil {
		predictorInputs["note_dur"] = t
	} else {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}

	phDur, _, err := inferutil.PreprocessPhonemeDurations(pitchInput.Words, frameWidth)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}
	predictorInputs["ph_dur"] = phDur

	// 用户音高与表现力曲线；缺失时分别回退为全零/全一
	satisfyPitch := false
	satisfyExpr := !config.UseExpressiveness
	for _, param := range pitchInput.Parameters {
		isPitch := param.Tag == api.TagPitch
		isExpr := param.Tag == api.TagExpr
		if !isPitch && !isExpr {
			continue
		}
		samples := inferutil.Resample(param.Values, param.Interval, frameWidth, targetLen, true)
		if int64(len(samples)) != targetLen {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: 参数 %s 重采样失败", api.ErrSession, param.Tag.Name())
		}

		if isPitch {
			pitchData := make([]float32, targetLen)
			for i, v := range samples {
				pitchData[i] = float32(v)
			}
			t, err := tensor.FromSlice([]int64{1, targetLen}, pitchData)
			if err != nil {
				e.setState(api.StateFailed)
				return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
			}
			predictorInputs["pitch"] = t

			retake := inferutil.BuildRetakeMask(param.Retake, frameWidth, targetLen)
			rt, err := tensor.FromSlice([]int64{1, targetLen}, retake)
			if err != nil {
				e.setState(api.StateFailed)
				return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
			}
			predictorInputs["retake"] = rt
			satisfyPitch = true
		} else if !satisfyExpr && isExpr {
			exprData := make([]float32, targetLen)
			for i, v := range samples {
				exprData[i] = float32(v)
			}
			t, err := tensor.FromSlice([]int64{1, targetLen}, exprData)
			if err != nil {
				e.setState(api.StateFailed)
				return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
			}
			predictorInputs["expr"] = t
			satisfyExpr = true
		}
	}

	if !satisfyPitch {
		// 未提供音高曲线：传全零音高与全真 retake 掩码
		zeros, err := tensor.Filled[float32]([]int64{1, targetLen}, 0)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}
		predictorInputs["pitch"] = zeros
		allTrue, err := tensor.Filled([]int64{1, targetLen}, true)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}
		predictorInputs["retake"] = allTrue
	}

	if !satisfyExpr {
		// 模型需要 expr 但未提供：以全一代替
		ones, err := tensor.Filled[float32]([]int64{1, targetLen}, 1)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}
		predictorInputs["expr"] = ones
	}

	// 说话人嵌入
	if config.UseSpeakerEmbedding {
		if len(pitchInput.Speakers) == 0 {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: pitch 输入缺少说话人曲线", api.ErrSession)
		}
		var mapping map[string]string
		if e.options != nil {
			mapping = e.options.SpeakerMapping
		}
		spkEmbed, err := inferutil.PreprocessSpeakerEmbeddingFrames(
			pitchInput.Speakers, config.Speakers, mapping, config.HiddenSize, frameWidth, targetLen)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, err
		}
		predictorInputs["spk_embed"] = spkEmbed
	}

	// steps / speedup
	acceleration := pitchInput.Steps
	if !config.UseContinuousAcceleration {
		acceleration = inferutil.GetSpeedupFromSteps(acceleration)
	}
	accTensor, err := tensor.Scalar(acceleration)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}
	if config.UseContinuousAcceleration {
		predictorInputs["steps"] = accTensor
	} else {
		predictorInputs["speedup"] = accTensor
	}

	const outParamPitchPred = "pitch_pred"

	e.mu.Lock()
	predictor := e.predictorSession
	if predictor == nil || !predictor.IsOpen() {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: pitch 预测会话未初始化", api.ErrSession)
	}
	outputs, err := predictor.Run(predictorInputs, []string{outParamPitchPred})
	if err != nil {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, err
	}

	view, err := tensor.View[float32](outputs[outParamPitchPred])
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

	result := &api.PitchResult{Interval: frameWidth, Pitch: make([]float64, len(view))}
	for i, v := range view {
		result.Pitch[i] = float64(v)
	}
	e.result = result
	e.mu.Unlock()

	e.setState(api.StateIdle)
	return result, nil
}

// StartAsync 异步启动，尚未实现
func (e *Engine) StartAsync(api.TaskStartInput, func(*api.PitchResult, error)) error {
	return api.ErrNotImplemented
}

// Stop 请求终止全部会话
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
