package api

import "github.com/getcharzp/go-svs/tensor"

// 各阶段的 API 名与类名，用于任务参数校验与包内导入匹配
const (
	DurationAPIName = "duration"
	PitchAPIName    = "pitch"
	VarianceAPIName = "variance"
	AcousticAPIName = "acoustic"
	VocoderAPIName  = "vocoder"

	DurationAPIClass = "ai.svs.DurationInference"
	PitchAPIClass    = "ai.svs.PitchInference"
	VarianceAPIClass = "ai.svs.VarianceInference"
	AcousticAPIClass = "ai.svs.AcousticInference"
	VocoderAPIClass  = "ai.svs.VocoderInference"
)

// TaskState 推理任务状态机
type TaskState int32

const (
	// StateUninitialized 尚未初始化
	StateUninitialized TaskState = iota
	// StateIdle 就绪，可发起推理
	StateIdle
	// StateRunning 推理进行中
	StateRunning
	// StateFailed 出错，重新初始化前不可再启动
	StateFailed
	// StateTerminated 被 Stop 终止
	StateTerminated
)

// String 返回状态名
func (s TaskState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateFailed:
		return "Failed"
	case StateTerminated:
		return "Terminated"
	default:
		return "Uninitialized"
	}
}

// TaskInitArgs 阶段初始化参数，ObjectName 必须与阶段 API 名一致
type TaskInitArgs interface {
	ObjectName() string
}

// TaskStartInput 阶段启动输入
type TaskStartInput interface {
	ObjectName() string
}

// DurationInitArgs 时长阶段初始化参数
type DurationInitArgs struct{}

func (DurationInitArgs) ObjectName() string { return DurationAPIName }

// PitchInitArgs 音高阶段初始化参数
type PitchInitArgs struct{}

func (PitchInitArgs) ObjectName() string { return PitchAPIName }

// VarianceInitArgs Variance 阶段初始化参数
type VarianceInitArgs struct{}

func (VarianceInitArgs) ObjectName() string { return VarianceAPIName }

// AcousticInitArgs 声学阶段初始化参数
type AcousticInitArgs struct{}

func (AcousticInitArgs) ObjectName() string { return AcousticAPIName }

// VocoderInitArgs 声码器阶段初始化参数
type VocoderInitArgs struct{}

func (VocoderInitArgs) ObjectName() string { return VocoderAPIName }

// DurationStartInput 时长阶段输入
type DurationStartInput struct {
	// Duration 乐谱总时长（秒）
	Duration float64
	Words    []Word
}

func (*DurationStartInput) ObjectName() string { return DurationAPIName }

// PitchStartInput 音高阶段输入
type PitchStartInput struct {
	Duration   float64
	Words      []Word
	Parameters []Parameter
	Speakers   []SpeakerMix
	Steps      int64
}

func (*PitchStartInput) ObjectName() string { return PitchAPIName }

// VarianceStartInput Variance 阶段输入
type VarianceStartInput struct {
	Duration   float64
	Words      []Word
	Parameters []Parameter
	Speakers   []SpeakerMix
	Steps      int64
}

func (*VarianceStartInput) ObjectName() string { return VarianceAPIName }

// AcousticStartInput 声学阶段输入，也是输入文档的主体
type AcousticStartInput struct {
	Duration   float64
	Words      []Word
	Parameters []Parameter
	Speakers   []SpeakerMix
	Steps      int64
	Depth      float64
}

func (*AcousticStartInput) ObjectName() string { return AcousticAPIName }

// VocoderStartInput 声码器输入，mel 与 f0 由声学阶段产出并共享引用
type VocoderStartInput struct {
	Mel *tensor.Tensor
	F0  *tensor.Tensor
}

func (*VocoderStartInput) ObjectName() string { return VocoderAPIName }

// DurationResult 时长阶段结果，长度等于总音素数
type DurationResult struct {
	Durations []float64
}

// PitchResult 音高阶段结果
type PitchResult struct {
	// Interval 采样间隔，等于帧宽
	Interval float64
	Pitch    []float64
}

// VarianceResult Variance 阶段结果，每个 schema 条目一条参数曲线
type VarianceResult struct {
	Predictions []Parameter
}

// AcousticResult 声学阶段结果，F0 张量与声码器共享
type AcousticResult struct {
	Mel *tensor.Tensor
	F0  *tensor.Tensor
}

// VocoderResult 声码器结果，float32 单声道波形
type VocoderResult struct {
	AudioData []float32
}
