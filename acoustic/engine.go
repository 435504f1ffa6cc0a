// Package acoustic 实现声学推理阶段：把符号化乐谱与控制曲线
// 变换为梅尔谱，同时产出供声码器使用的 F0 张量
package acoustic

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

// Engine 声学推理引擎
type Engine struct {
	config  *api.AcousticConfiguration
	options *api.ImportOptions
	driver  session.Driver

	mu      sync.RWMutex
	state   atomic.Int32
	result  *api.AcousticResult
	session session.Session
}

// New 创建声学推理引擎
func New(config *api.AcousticConfiguration, options *api.ImportOptions, driver session.Driver) *Engine {
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
func (e *Engine) Result() *api.AcousticResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// Initialize 校验初始化参数并打开模型会话
func (e *Engine) Initialize(args api.TaskInitArgs) error {
	if args == nil {
		return fmt.Errorf("%w: acoustic 初始化参数为空", api.ErrInvalidArgument)
	}
	if name := args.ObjectName(); name != api.AcousticAPIName {
		return fmt.Errorf("%w: acoustic 初始化参数名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.AcousticAPIName, name)
	}
	if e.config == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: acoustic 配置为空", api.ErrInvalidArgument)
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

// Start 同步执行声学推理
func (e *Engine) Start(input api.TaskStartInput) (*api.AcousticResult, error) {
	e.mu.RLock()
	driverReady := e.driver != nil && e.session != nil
	e.mu.RUnlock()
	if !driverReady {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: acoustic 会话未初始化", api.ErrSession)
	}

	e.setState(api.StateRunning)

	config := e.config
	if input == nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: acoustic 输入为空", api.ErrInvalidArgument)
	}
	if name := input.ObjectName(); name != api.AcousticAPIName {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: acoustic 输入名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.AcousticAPIName, name)
	}
	acousticInput, ok := input.(*api.AcousticStartInput)
	if !ok {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: acoustic 输入类型非法", api.ErrInvalidArgument)
	}

	if config.SampleRate <= 0 || config.HopSize <= 0 {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: sampleRate 与 hopSize 必须为正数", api.ErrInvalidArgument)
	}
	frameWidth := float64(config.HopSize) / float64(config.SampleRate)

	sessionInputs := make(map[string]*tensor.Tensor)

	// tokens
	tokens, err := inferutil.PreprocessPhonemeTokens(acousticInput.Words, config.Phonemes)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}
	sessionInputs["tokens"] = tokens

	// languages
	if config.UseLanguageId {
		languages, err := inferutil.PreprocessPhonemeLanguages(acousticInput.Words, config.Languages)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, err
		}
		sessionInputs["languages"] = languages
	}

	// durations
	durations, targetLen, err := inferutil.PreprocessPhonemeDurations(acousticInput.Words, frameWidth)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}
	sessionInputs["durations"] = durations

	// steps / speedup
	acceleration := acousticInput.Steps
	if !config.UseContinuousAcceleration {
		acceleration = inferutil.GetSpeedupFromSteps(acceleration)
	}
	accTensor, err := tensor.Scalar(acceleration)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}
	if config.UseContinuousAcceleration {
		sessionInputs["steps"] = accTensor
	} else {
		sessionInputs["speedup"] = accTensor
	}

	// depth：连续深度直接传浮点，离散深度取整、钳上限并向下对齐到加速比的倍数
	if config.UseVariableDepth {
		depthTensor, err := tensor.Scalar(float32(acousticInput.Depth))
		if err != nil {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}
		sessionInputs["depth"] = depthTensor
	} else {
		intDepth := int64(math.Round(acousticInput.Depth * 1000))
		if intDepth < 0 {
			intDepth = 0
		}
		if intDepth > int64(config.MaxDepth) {
			intDepth = int64(config.MaxDepth)
		}
		// 深度须能被加速比整除
		intDepth = intDepth / acceleration * acceleration
		depthTensor, err := tensor.Scalar(intDepth)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}
		sessionInputs["depth"] = depthTensor
	}

	// 配置声明支持的参数尚未满足时置 false，输入给到后翻真；
	// 未声明的参数无需检查
	hasParam := func(tag api.ParamTag) bool {
		_, ok := config.Parameters[tag]
		return ok
	}
	satisfyGender := !hasParam(api.TagGender)
	satisfyVelocity := !hasParam(api.TagVelocity)
	satisfyEnergy := !hasParam(api.TagEnergy)
	satisfyBreathiness := !hasParam(api.TagBreathiness)
	satisfyVoicing := !hasParam(api.TagVoicing)
	satisfyTension := !hasParam(api.TagTension)
	satisfyMouthOpening := !hasParam(api.TagMouthOpening)

	var pitchParam, f0Param, toneShiftParam *api.Parameter

	for i := range acousticInput.Parameters {
		param := &acousticInput.Parameters[i]
		switch param.Tag {
		case api.TagF0:
			f0Param = param
			continue
		case api.TagPitch:
			pitchParam = param
			continue
		case api.TagToneShift:
			toneShiftParam = param
			continue
		}

		samples := inferutil.Resample(param.Values, param.Interval, frameWidth, targetLen, true)
		if len(samples) == 0 {
			// 可缺省的过渡参数以默认值填充
			if param.Tag == api.TagGender {
				filled, err := tensor.Filled[float32]([]int64{1, targetLen}, 0)
				if err != nil {
					e.setState(api.StateFailed)
					return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
				}
				sessionInputs["gender"] = filled
				satisfyGender = true
				continue
			}
			if param.Tag == api.TagVelocity {
				filled, err := tensor.Filled[float32]([]int64{1, targetLen}, 1)
				if err != nil {
					e.setState(api.StateFailed)
					return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
				}
				sessionInputs["velocity"] = filled
				satisfyVelocity = true
				continue
			}
		}
		if int64(len(samples)) != targetLen {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: 参数 %s 重采样失败", api.ErrSession, param.Tag.Name())
		}

		data := make([]float32, targetLen)
		for i, v := range samples {
			data[i] = float32(v)
		}
		t, err := tensor.FromSlice([]int64{1, targetLen}, data)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}

		switch {
		case !satisfyGender && param.Tag == api.TagGender:
			sessionInputs["gender"] = t
			satisfyGender = true
		case !satisfyVelocity && param.Tag == api.TagVelocity:
			sessionInputs["velocity"] = t
			satisfyVelocity = true
		case !satisfyEnergy && param.Tag == api.TagEnergy:
			sessionInputs["energy"] = t
			satisfyEnergy = true
		case !satisfyBreathiness && param.Tag == api.TagBreathiness:
			sessionInputs["breathiness"] = t
			satisfyBreathiness = true
		case !satisfyVoicing && param.Tag == api.TagVoicing:
			sessionInputs["voicing"] = t
			satisfyVoicing = true
		case !satisfyTension && param.Tag == api.TagTension:
			sessionInputs["tension"] = t
			satisfyTension = true
		case !satisfyMouthOpening && param.Tag == api.TagMouthOpening:
			sessionInputs["mouth_opening"] = t
			satisfyMouthOpening = true
		}
	}

	// 声明了但输入中缺失的过渡参数同样以默认值填充
	for tag, value := range map[api.ParamTag]float32{api.TagGender: 0, api.TagVelocity: 1} {
		if (tag == api.TagGender && satisfyGender) || (tag == api.TagVelocity && satisfyVelocity) {
			continue
		}
		filled, err := tensor.Filled[float32]([]int64{1, targetLen}, value)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}
		sessionInputs[tag.Name()] = filled
	}

	// F0 解析：优先取 f0 参数，其次把 pitch (MIDI) 换算为 Hz；
	// 两者皆无则报错。产出的 F0 张量同时供声学模型与声码器使用
	f0Tensor, err := resolveF0(f0Param, pitchParam, toneShiftParam, frameWidth, targetLen)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}
	sessionInputs["f0"] = f0Tensor

	// 必需的唱法参数缺失时一次性列出
	if !satisfyEnergy || !satisfyBreathiness || !satisfyVoicing || !satisfyTension {
		missing := ""
		if !satisfyEnergy {
			missing += ` "energy"`
		}
		if !satisfyBreathiness {
			missing += ` "breathiness"`
		}
		if !satisfyVoicing {
			missing += ` "voicing"`
		}
		if !satisfyTension {
			missing += ` "tension"`
		}
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 缺少必需参数:%s", api.ErrSession, missing)
	}

	// 说话人嵌入
	if config.UseSpeakerEmbedding {
		if len(acousticInput.Speakers) == 0 {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: acoustic 输入缺少说话人曲线", api.ErrSession)
		}
		var mapping map[string]string
		if e.options != nil {
			mapping = e.options.SpeakerMapping
		}
		spkEmbed, err := inferutil.PreprocessSpeakerEmbeddingFrames(
			acousticInput.Speakers, config.Speakers, mapping, config.HiddenSize,
			frameWidth, targetLen)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, err
		}
		sessionInputs["spk_embed"] = spkEmbed
	}

	const outParamMel = "mel"

	e.mu.Lock()
	sess := e.session
	if sess == nil || !sess.IsOpen() {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: acoustic 会话未初始化", api.ErrSession)
	}
	outputs, err := sess.Run(sessionInputs, []string{outParamMel})
	if err != nil {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, err
	}

	result := &api.AcousticResult{Mel: outputs[outParamMel], F0: f0Tensor}
	e.result = result
	e.mu.Unlock()

	e.setState(api.StateIdle)
	return result, nil
}

// resolveF0 按 f0 / pitch / tone_shift 参数合成最终 F0 张量
func resolveF0(f0Param, pitchParam, toneShiftParam *api.Parameter,
	frameWidth float64, targetLen int64) (*tensor.Tensor, error) {

	var source *api.Parameter
	convertToF0 := false
	switch {
	case f0Param != nil:
		source = f0Param
	case pitchParam != nil:
		source = pitchParam
		convertToF0 = true
	default:
		return nil, fmt.Errorf("%w: 缺少 f0 或 pitch 参数", api.ErrSession)
	}

	samples := inferutil.Resample(source.Values, source.Interval, frameWidth, targetLen, true)
	if int64(len(samples)) != targetLen {
		return nil, fmt.Errorf("%w: 参数 %s 重采样失败", api.ErrSession, source.Tag.Name())
	}

	if toneShiftParam != nil && len(toneShiftParam.Values) > 0 {
		toneShift := inferutil.Resample(toneShiftParam.Values, toneShiftParam.Interval,
			frameWidth, targetLen, false)
		if int64(len(toneShift)) != targetLen {
			return nil, fmt.Errorf("%w: 参数 %s 重采样失败",
				api.ErrSession, toneShiftParam.Tag.Name())
		}
		if convertToF0 {
			// MIDI 域直接加音分偏移
			for i := range samples {
				samples[i] += toneShift[i] / 100.0
			}
		} else {
			// Hz 域按音分比例缩放
			for i := range samples {
				samples[i] *= math.Exp2(toneShift[i] / 1200.0)
			}
		}
	}

	data := make([]float32, targetLen)
	if convertToF0 {
		for i, midiNote := range samples {
			data[i] = float32(inferutil.MidiToHz(midiNote))
		}
	} else {
		for i, v := range samples {
			data[i] = float32(v)
		}
	}
	t, err := tensor.FromSlice([]int64{1, targetLen}, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}
	return t, nil
}

// StartAsync 异步启动，尚未实现
func (e *Engine) StartAsync(api.TaskStartInput, func(*api.AcousticResult, error)) error {
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
