// Package variance 实现唱法参数推理阶段：按 schema 预测
// Energy/Breathiness 等帧粒度控制曲线
package variance

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

// Engine 唱法参数推理引擎
type Engine struct {
	config  *api.VarianceConfiguration
	schema  *api.VarianceSchema
	options *api.ImportOptions
	driver  session.Driver

	mu               sync.RWMutex
	state            atomic.Int32
	result           *api.VarianceResult
	encoderSession   session.Session
	predictorSession session.Session
}

// New 创建唱法参数推理引擎，schema 描述模型预测哪些参数
func New(config *api.VarianceConfiguration, schema *api.VarianceSchema,
	options *api.ImportOptions, driver session.Driver) *Engine {
	return &Engine{config: config, schema: schema, options: options, driver: driver}
}

// State 当前任务状态
func (e *Engine) State() api.TaskState {
	return api.TaskState(e.state.Load())
}

func (e *Engine) setState(s api.TaskState) {
	e.state.Store(int32(s))
}

// Result 最近一次成功推理的结果
func (e *Engine) Result() *api.VarianceResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.result
}

// Initialize 校验初始化参数并打开模型会话
func (e *Engine) Initialize(args api.TaskInitArgs) error {
	if args == nil {
		return fmt.Errorf("%w: variance 初始化参数为空", api.ErrInvalidArgument)
	}
	if name := args.ObjectName(); name != api.VarianceAPIName {
		return fmt.Errorf("%w: variance 初始化参数名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.VarianceAPIName, name)
	}
	if e.config == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: variance 配置为空", api.ErrInvalidArgument)
	}
	if e.schema == nil {
		e.setState(api.StateFailed)
		return fmt.Errorf("%w: variance schema 为空", api.ErrInvalidArgument)
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

// Start 同步执行唱法参数推理
func (e *Engine) Start(input api.TaskStartInput) (*api.VarianceResult, error) {
	e.mu.RLock()
	driverReady := e.driver != nil && e.predictorSession != nil
	e.mu.RUnlock()
	if !driverReady {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: variance 会话未初始化", api.ErrSession)
	}

	e.setState(api.StateRunning)

	config := e.config
	schema := e.schema
	if input == nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: variance 输入为空", api.ErrInvalidArgument)
	}
	if name := input.ObjectName(); name != api.VarianceAPIName {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: variance 输入名非法: 期望 %q, 实际 %q",
			api.ErrInvalidArgument, api.VarianceAPIName, name)
	}
	varianceInput, ok := input.(*api.VarianceStartInput)
	if !ok {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: variance 输入类型非法", api.ErrInvalidArgument)
	}

	frameWidth := config.FrameWidth
	if math.IsNaN(frameWidth) || math.IsInf(frameWidth, 0) || frameWidth <= 0 {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 帧宽必须为正数", api.ErrInvalidArgument)
	}

	predictorInputs := make(map[string]*tensor.Tensor)

	// 第一部分：语言学编码器推理
	var linguisticInputs map[string]*tensor.Tensor
	var err error
	switch config.LinguisticMode {
	case api.LinguisticWord:
		linguisticInputs, err = inferutil.PreprocessLinguisticWord(
			varianceInput.Words, config.Phonemes, config.Languages, config.UseLanguageId, frameWidth)
	case api.LinguisticPhoneme:
		linguisticInputs, err = inferutil.PreprocessLinguisticPhoneme(
			varianceInput.Words, config.Phonemes, config.Languages, config.UseLanguageId, frameWidth)
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
		return nil, fmt.Errorf("%w: variance 语言学编码器会话未初始化", api.ErrSession)
	}
	err = inferutil.RunEncoder(e.encoderSession, linguisticInputs, predictorInputs, false)
	e.mu.Unlock()
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}

	// 第二部分：唱法参数预测

	// 总帧数按全部单词时长取整
	totalDuration := inferutil.TotalDuration(varianceInput.Words)
	targetLen := int64(math.Round(totalDuration / frameWidth))

	phDur, _, err := inferutil.PreprocessPhonemeDurations(varianceInput.Words, frameWidth)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, err
	}
	predictorInputs["ph_dur"] = phDur

	if len(schema.Predictions) == 0 {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 没有可预测的参数", api.ErrSession)
	}
	satisfyPitch := false
	satisfyParams := make([]bool, len(schema.Predictions))
	outputNames := make([]string, 0, len(schema.Predictions))

	// 三维 retake 掩码：每个预测参数一列
	retake := make([]bool, targetLen*int64(len(schema.Predictions)))
	for i := range retake {
		retake[i] = true
	}

	for _, param := range varianceInput.Parameters {
		samples := inferutil.Resample(param.Values, param.Interval, frameWidth, targetLen, true)
		if int64(len(samples)) != targetLen {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: 参数 %s 重采样失败", api.ErrSession, param.Tag.Name())
		}

		if param.Tag == api.TagPitch {
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
			satisfyPitch = true
			continue
		}

		for j, prediction := range schema.Predictions {
			if param.Tag != prediction {
				continue
			}
			paramData := make([]float32, targetLen)
			for i, v := range samples {
				paramData[i] = float32(v)
			}
			t, err := tensor.FromSlice([]int64{1, targetLen}, paramData)
			if err != nil {
				e.setState(api.StateFailed)
				return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
			}
			predictorInputs[param.Tag.Name()] = t
			outputNames = append(outputNames, param.Tag.Name()+"_pred")

			// 本参数对应的 retake 列
			inferutil.FillRetakeRegion(retake, param.Retake, frameWidth, targetLen,
				int64(j)*targetLen)
			satisfyParams[j] = true
		}
	}

	retakeTensor, err := tensor.FromSlice(
		[]int64{1, targetLen, int64(len(schema.Predictions))}, retake)
	if err != nil {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}
	predictorInputs["retake"] = retakeTensor

	if !satisfyPitch {
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 缺少 pitch 输入", api.ErrSession)
	}

	// 未提供的预测参数以全零曲线占位
	for j, prediction := range schema.Predictions {
		if satisfyParams[j] {
			continue
		}
		zeros, err := tensor.Filled[float32]([]int64{1, targetLen}, 0)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
		}
		predictorInputs[prediction.Name()] = zeros
		outputNames = append(outputNames, prediction.Name()+"_pred")
	}

	// 说话人嵌入
	if config.UseSpeakerEmbedding {
		if len(varianceInput.Speakers) == 0 {
			e.setState(api.StateFailed)
			return nil, fmt.Errorf("%w: variance 输入缺少说话人曲线", api.ErrSession)
		}
		var mapping map[string]string
		if e.options != nil {
			mapping = e.options.SpeakerMapping
		}
		spkEmbed, err := inferutil.PreprocessSpeakerEmbeddingFrames(
			varianceInput.Speakers, config.Speakers, mapping, config.HiddenSize,
			frameWidth, targetLen)
		if err != nil {
			e.setState(api.StateFailed)
			return nil, err
		}
		predictorInputs["spk_embed"] = spkEmbed
	}

	// steps / speedup
	acceleration := varianceInput.Steps
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

	e.mu.Lock()
	predictor := e.predictorSession
	if predictor == nil || !predictor.IsOpen() {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: variance 预测会话未初始化", api.ErrSession)
	}
	outputs, err := predictor.Run(predictorInputs, outputNames)
	if err != nil {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, err
	}

	result := &api.VarianceResult{Predictions: make([]api.Parameter, 0, len(schema.Predictions))}
	for outputName, output := range outputs {
		for _, prediction := range schema.Predictions {
			if outputName != prediction.Name()+"_pred" {
				continue
			}
			view, err := tensor.View[float32](output)
			if err != nil {
				e.mu.Unlock()
				e.setState(api.StateFailed)
				return nil, fmt.Errorf("%w: 模型输出不是 float 类型: %v", api.ErrSession, err)
			}
			values := make([]float64, len(view))
			for i, v := range view {
				values[i] = float64(v)
			}
			result.Predictions = append(result.Predictions, api.Parameter{
				Tag:      prediction,
				Values:   values,
				Interval: frameWidth,
			})
		}
	}

	if len(result.Predictions) != len(schema.Predictions) {
		e.mu.Unlock()
		e.setState(api.StateFailed)
		return nil, fmt.Errorf("%w: 预测参数个数不匹配: 期望 %d, 实际 %d",
			api.ErrSession, len(schema.Predictions), len(result.Predictions))
	}
	e.result = result
	e.mu.Unlock()

	e.setState(api.StateIdle)
	return result, nil
}

// StartAsync 异步启动，尚未实现
func (e *Engine) StartAsync(api.TaskStartInput, func(*api.VarianceResult, error)) error {
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
