package api

// MelBase 梅尔谱对数底
type MelBase int

const (
	// MelBaseE 自然对数
	MelBaseE MelBase = iota
	// MelBase10 以 10 为底
	MelBase10
)

// MelScale 梅尔刻度
type MelScale int

const (
	// MelScaleSlaney Slaney 刻度
	MelScaleSlaney MelScale = iota
	// MelScaleHTK HTK 刻度
	MelScaleHTK
)

// LinguisticMode 语言学编码器的输入粒度
type LinguisticMode int

const (
	// LinguisticWord 单词粒度
	LinguisticWord LinguisticMode = iota
	// LinguisticPhoneme 音素粒度
	LinguisticPhoneme
)

// CommonConfiguration 各阶段共有的配置字段
type CommonConfiguration struct {
	// Phonemes 音素符号到 id 的映射
	Phonemes map[string]int
	// Languages 语言名到 id 的映射，useLanguageId 为真时必填
	Languages map[string]int
	// UseLanguageId 是否向模型传入语言 id
	UseLanguageId bool
	// UseSpeakerEmbedding 是否向模型传入说话人嵌入
	UseSpeakerEmbedding bool
	// HiddenSize 嵌入向量维度，useSpeakerEmbedding 为真时必填
	HiddenSize int
	// Speakers 说话人名到嵌入向量的映射，向量长度必须等于 HiddenSize
	Speakers map[string][]float32
	// UseContinuousAcceleration 新式模型直接传 steps，旧式模型换算为 speedup
	UseContinuousAcceleration bool
	// FrameWidth 帧宽（秒），或由 hopSize/sampleRate 推导
	FrameWidth float64
}

// DurationConfiguration 时长模型配置
type DurationConfiguration struct {
	CommonConfiguration
	// Encoder 语言学编码器模型路径
	Encoder string
	// Predictor 时长预测模型路径
	Predictor string
}

// PitchConfiguration 音高模型配置
type PitchConfiguration struct {
	CommonConfiguration
	Encoder   string
	Predictor string
	// LinguisticMode 编码器输入粒度
	LinguisticMode LinguisticMode
	// UseRestFlags 是否传入 note_rest 输入
	UseRestFlags bool
	// UseExpressiveness 是否传入 expr 输入
	UseExpressiveness bool
}

// VarianceConfiguration Variance 模型配置
type VarianceConfiguration struct {
	CommonConfiguration
	Encoder        string
	Predictor      string
	LinguisticMode LinguisticMode
}

// AcousticConfiguration 声学模型配置
type AcousticConfiguration struct {
	CommonConfiguration
	// Model 声学模型路径
	Model string
	// Parameters 模型声明支持的参数标签集合
	Parameters map[ParamTag]struct{}
	// UseVariableDepth 浅扩散深度是否为连续值
	UseVariableDepth bool
	// MaxDepth 整数深度上限
	MaxDepth int

	SampleRate  int
	HopSize     int
	WinSize     int
	FftSize     int
	MelChannels int
	MelMinFreq  float64
	MelMaxFreq  float64
	MelBase     MelBase
	MelScale    MelScale
}

// VocoderConfiguration 声码器配置
type VocoderConfiguration struct {
	// Model 声码器模型路径
	Model string

	SampleRate  int
	HopSize     int
	WinSize     int
	FftSize     int
	MelChannels int
	MelMinFreq  float64
	MelMaxFreq  float64
	MelBase     MelBase
	MelScale    MelScale
}

// VarianceSchema 描述 Variance 模型预测哪些参数
type VarianceSchema struct {
	// Predictions 预测参数标签，有序
	Predictions []ParamTag
}

// ImportOptions 阶段导入选项
type ImportOptions struct {
	// SpeakerMapping 输入说话人名到包内说话人名的重定向
	SpeakerMapping map[string]string
}

// MapSpeaker 按 SpeakerMapping 重定向说话人名，无映射时原样返回
func (o *ImportOptions) MapSpeaker(name string) string {
	if o == nil || o.SpeakerMapping == nil {
		return name
	}
	if mapped, ok := o.SpeakerMapping[name]; ok {
		return mapped
	}
	return name
}
