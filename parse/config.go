package parse

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/getcharzp/go-svs/api"
)

// LoadConfigObject 读取配置文件并解析为 JSON 对象
func LoadConfigObject(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: 配置文件 %q 不存在", api.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: 读取配置文件 %q 失败: %v", api.ErrFileNotOpen, path, err)
	}
	var outer any
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("%w: 解析配置文件 %q 失败: %v", api.ErrInvalidFormat, path, err)
	}
	obj, ok := outer.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: 配置文件 %q 外层 JSON 不是对象", api.ErrInvalidFormat, path)
	}
	return obj, nil
}

// parseCommon 解析各阶段共有的配置字段。
// 布尔开关先行，带跨字段约束的字段据其取值决定是否必填
func parseCommon(p *fieldParser, out *api.CommonConfiguration) {
	p.boolOptional(&out.UseLanguageId, "useLanguageId")
	p.boolOptional(&out.UseSpeakerEmbedding, "useSpeakerEmbedding")
	p.boolOptional(&out.UseContinuousAcceleration, "useContinuousAcceleration")

	// phonemes 必填
	if v, ok := p.obj["phonemes"]; ok {
		if rel, isStr := v.(string); isStr {
			out.Phonemes, _ = loadIDMapping("phonemes", joinPath(p.baseDir, rel), p.ec)
		} else {
			p.ec.Collect("字符串字段 %q 类型不匹配", "phonemes")
		}
	} else {
		p.ec.Collect("字符串字段 %q 缺失", "phonemes")
	}

	// languages 当 useLanguageId 为真时必填
	if v, ok := p.obj["languages"]; ok {
		if rel, isStr := v.(string); isStr {
			out.Languages, _ = loadIDMapping("languages", joinPath(p.baseDir, rel), p.ec)
		} else {
			p.ec.Collect("字符串字段 %q 类型不匹配", "languages")
		}
	} else if out.UseLanguageId {
		p.ec.Collect("字符串字段 %q 缺失 (当 %q 为 true 时必填)", "languages", "useLanguageId")
	}

	// hiddenSize 当 useSpeakerEmbedding 为真时必填
	if _, ok := p.obj["hiddenSize"]; ok {
		p.positiveIntOptional(&out.HiddenSize, "hiddenSize")
	} else if out.UseSpeakerEmbedding {
		p.ec.Collect("整数字段 %q 缺失 (当 %q 为 true 时必填)", "hiddenSize", "useSpeakerEmbedding")
	}

	p.speakersAndLoadEmb(out.UseSpeakerEmbedding, out.HiddenSize, &out.Speakers)
	p.frameWidth(&out.FrameWidth)
}

// ParseDurationConfiguration 解析时长模型配置
func ParseDurationConfiguration(baseDir string, obj map[string]any) (*api.DurationConfiguration, error) {
	ec := &Collector{}
	p := &fieldParser{obj: obj, baseDir: baseDir, ec: ec}
	out := &api.DurationConfiguration{}
	parseCommon(p, &out.CommonConfiguration)
	p.pathRequired(&out.Encoder, "encoder")
	p.pathRequired(&out.Predictor, "predictor")
	if err := ec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParsePitchConfiguration 解析音高模型配置
func ParsePitchConfiguration(baseDir string, obj map[string]any) (*api.PitchConfiguration, error) {
	ec := &Collector{}
	p := &fieldParser{obj: obj, baseDir: baseDir, ec: ec}
	out := &api.PitchConfiguration{}
	parseCommon(p, &out.CommonConfiguration)
	p.pathRequired(&out.Encoder, "encoder")
	p.pathRequired(&out.Predictor, "predictor")
	p.linguisticMode(&out.LinguisticMode)
	p.boolOptional(&out.UseRestFlags, "useRestFlags")
	p.boolOptional(&out.UseExpressiveness, "useExpressiveness")
	if err := ec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseVarianceConfiguration 解析 Variance 模型配置
func ParseVarianceConfiguration(baseDir string, obj map[string]any) (*api.VarianceConfiguration, error) {
	ec := &Collector{}
	p := &fieldParser{obj: obj, baseDir: baseDir, ec: ec}
	out := &api.VarianceConfiguration{}
	parseCommon(p, &out.CommonConfiguration)
	p.pathRequired(&out.Encoder, "encoder")
	p.pathRequired(&out.Predictor, "predictor")
	p.linguisticMode(&out.LinguisticMode)
	if err := ec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseAcousticConfiguration 解析声学模型配置
func ParseAcousticConfiguration(baseDir string, obj map[string]any) (*api.AcousticConfiguration, error) {
	ec := &Collector{}
	p := &fieldParser{obj: obj, baseDir: baseDir, ec: ec}
	out := &api.AcousticConfiguration{}
	parseCommon(p, &out.CommonConfiguration)
	p.pathRequired(&out.Model, "model")
	p.boolOptional(&out.UseVariableDepth, "useVariableDepth")
	p.intOptional(&out.MaxDepth, "maxDepth")
	p.positiveIntRequired(&out.SampleRate, "sampleRate")
	p.positiveIntRequired(&out.HopSize, "hopSize")
	p.positiveIntOptional(&out.WinSize, "winSize")
	p.positiveIntOptional(&out.FftSize, "fftSize")
	p.positiveIntOptional(&out.MelChannels, "melChannels")
	p.doubleOptional(&out.MelMinFreq, "melMinFreq")
	p.doubleOptional(&out.MelMaxFreq, "melMaxFreq")
	p.melBase(&out.MelBase)
	p.melScale(&out.MelScale)

	out.Parameters = make(map[api.ParamTag]struct{})
	p.parameters("parameters", paramAll, func(tag api.ParamTag) {
		out.Parameters[tag] = struct{}{}
	})

	if err := ec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseVocoderConfiguration 解析声码器配置
func ParseVocoderConfiguration(baseDir string, obj map[string]any) (*api.VocoderConfiguration, error) {
	ec := &Collector{}
	p := &fieldParser{obj: obj, baseDir: baseDir, ec: ec}
	out := &api.VocoderConfiguration{}
	p.pathRequired(&out.Model, "model")
	p.positiveIntRequired(&out.SampleRate, "sampleRate")
	p.positiveIntRequired(&out.HopSize, "hopSize")
	p.positiveIntOptional(&out.WinSize, "winSize")
	p.positiveIntOptional(&out.FftSize, "fftSize")
	p.positiveIntOptional(&out.MelChannels, "melChannels")
	p.doubleOptional(&out.MelMinFreq, "melMinFreq")
	p.doubleOptional(&out.MelMaxFreq, "melMaxFreq")
	p.melBase(&out.MelBase)
	p.melScale(&out.MelScale)
	if err := ec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseVarianceSchema 解析 Variance 模型的预测参数清单
func ParseVarianceSchema(obj map[string]any) (*api.VarianceSchema, error) {
	ec := &Collector{}
	p := &fieldParser{obj: obj, ec: ec}
	out := &api.VarianceSchema{}
	p.parameters("predictions", paramVariance, func(tag api.ParamTag) {
		out.Predictions = append(out.Predictions, tag)
	})
	if err := ec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseImportOptions 解析阶段导入选项
func ParseImportOptions(obj map[string]any) (*api.ImportOptions, error) {
	ec := &Collector{}
	out := &api.ImportOptions{}
	if v, ok := obj["speakerMapping"]; ok {
		mappingObj, isObj := v.(map[string]any)
		if !isObj {
			ec.Collect("对象字段 %q 类型不匹配", "speakerMapping")
		} else {
			out.SpeakerMapping = make(map[string]string, len(mappingObj))
			for key, value := range mappingObj {
				s, isStr := value.(string)
				if !isStr {
					ec.Collect("对象字段 %q 的值类型不匹配: 期望字符串", "speakerMapping")
					continue
				}
				out.SpeakerMapping[key] = s
			}
		}
	}
	if err := ec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
