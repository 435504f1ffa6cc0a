// Package pipeline 驱动五个推理阶段依序执行：
// Duration → Pitch → Variance → Acoustic → Vocoder，
// 阶段之间按约定更新乐谱，最终写出 WAV 文件
package pipeline

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/up-zero/gotool/fileutil"

	"github.com/getcharzp/go-svs/acoustic"
	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/duration"
	"github.com/getcharzp/go-svs/parse"
	"github.com/getcharzp/go-svs/pitch"
	"github.com/getcharzp/go-svs/session"
	"github.com/getcharzp/go-svs/singer"
	"github.com/getcharzp/go-svs/variance"
	"github.com/getcharzp/go-svs/vocoder"
)

// Pipeline 推理流水线，单线程驱动，一次 Run 对应一次完整合成
type Pipeline struct {
	driver session.Driver
	logger *log.Logger
}

// New 创建流水线
func New(driver session.Driver, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{driver: driver, logger: logger}
}

// stageSpecs 解析好的五个阶段导入
type stageSpecs struct {
	duration *singer.InferenceSpec
	pitch    *singer.InferenceSpec
	variance *singer.InferenceSpec
	acoustic *singer.InferenceSpec
	vocoder  *singer.InferenceSpec
}

// Run 对输入文档执行整条流水线并把波形写入 outputPath
func (p *Pipeline) Run(packagePath string, doc *parse.InputDocument, outputPath string) error {
	logger := p.logger.With("run", uuid.NewString()[:8], "singer", doc.Singer)

	pkg, err := singer.Open(packagePath)
	if err != nil {
		return err
	}
	defer pkg.Close()

	singerSpec := pkg.FindSinger(doc.Singer)
	if singerSpec == nil {
		return fmt.Errorf("%w: 包内找不到歌手 %q", api.ErrInvalidArgument, doc.Singer)
	}

	specs, err := resolveImports(singerSpec)
	if err != nil {
		return err
	}

	// 阶段配置解析
	durationObj, err := parse.LoadConfigObject(specs.duration.ConfigPath)
	if err != nil {
		return err
	}
	durationConfig, err := parse.ParseDurationConfiguration(specs.duration.Dir, durationObj)
	if err != nil {
		return fmt.Errorf("duration 配置非法: %w", err)
	}

	pitchObj, err := parse.LoadConfigObject(specs.pitch.ConfigPath)
	if err != nil {
		return err
	}
	pitchConfig, err := parse.ParsePitchConfiguration(specs.pitch.Dir, pitchObj)
	if err != nil {
		return fmt.Errorf("pitch 配置非法: %w", err)
	}

	varianceObj, err := parse.LoadConfigObject(specs.variance.ConfigPath)
	if err != nil {
		return err
	}
	varianceConfig, err := parse.ParseVarianceConfiguration(specs.variance.Dir, varianceObj)
	if err != nil {
		return fmt.Errorf("variance 配置非法: %w", err)
	}
	if specs.variance.SchemaPath == "" {
		return fmt.Errorf("%w: variance 导入缺少 schema", api.ErrInvalidArgument)
	}
	schemaObj, err := parse.LoadConfigObject(specs.variance.SchemaPath)
	if err != nil {
		return err
	}
	varianceSchema, err := parse.ParseVarianceSchema(schemaObj)
	if err != nil {
		return fmt.Errorf("variance schema 非法: %w", err)
	}

	acousticObj, err := parse.LoadConfigObject(specs.acoustic.ConfigPath)
	if err != nil {
		return err
	}
	acousticConfig, err := parse.ParseAcousticConfiguration(specs.acoustic.Dir, acousticObj)
	if err != nil {
		return fmt.Errorf("acoustic 配置非法: %w", err)
	}

	vocoderObj, err := parse.LoadConfigObject(specs.vocoder.ConfigPath)
	if err != nil {
		return err
	}
	vocoderConfig, err := parse.ParseVocoderConfiguration(specs.vocoder.Dir, vocoderObj)
	if err != nil {
		return fmt.Errorf("vocoder 配置非法: %w", err)
	}

	// 声学与声码器配置交叉校验，所有不一致的字段一次性列出
	if err := crossCheckConfigs(acousticConfig, vocoderConfig); err != nil {
		return err
	}

	input := doc.Input

	// 阶段一：时长
	logger.Info("开始时长推理")
	{
		engine := duration.New(durationConfig, specs.duration.Options, p.driver)
		defer engine.Destroy()
		if err := engine.Initialize(api.DurationInitArgs{}); err != nil {
			return wrapStage("duration", doc.Singer, err)
		}
		result, err := engine.Start(&api.DurationStartInput{
			Duration: input.Duration,
			Words:    input.Words,
		})
		if err != nil {
			return wrapStage("duration", doc.Singer, err)
		}
		updatePhonemeStarts(input.Words, result.Durations)
	}

	// 阶段二：音高
	logger.Info("开始音高推理")
	{
		engine := pitch.New(pitchConfig, specs.pitch.Options, p.driver)
		defer engine.Destroy()
		if err := engine.Initialize(api.PitchInitArgs{}); err != nil {
			return wrapStage("pitch", doc.Singer, err)
		}
		pitchInput := &api.PitchStartInput{
			Duration: input.Duration,
			Words:    input.Words,
			Speakers: input.Speakers,
			Steps:    input.Steps,
		}
		// 只转发音高与表现力曲线
		for _, param := range input.Parameters {
			if param.Tag == api.TagPitch || param.Tag == api.TagExpr {
				pitchInput.Parameters = append(pitchInput.Parameters, param)
			}
		}
		result, err := engine.Start(pitchInput)
		if err != nil {
			return wrapStage("pitch", doc.Singer, err)
		}
		input.Parameters = mergePitch(input.Parameters, result)
	}

	// 阶段三：唱法参数
	logger.Info("开始唱法参数推理")
	{
		engine := variance.New(varianceConfig, varianceSchema, specs.variance.Options, p.driver)
		defer engine.Destroy()
		if err := engine.Initialize(api.VarianceInitArgs{}); err != nil {
			return wrapStage("variance", doc.Singer, err)
		}
		varianceInput := &api.VarianceStartInput{
			Duration: input.Duration,
			Words:    input.Words,
			Speakers: input.Speakers,
			Steps:    input.Steps,
		}
		// 转发音高与 schema 声明的参数
		for _, param := range input.Parameters {
			if param.Tag == api.TagPitch {
				varianceInput.Parameters = append(varianceInput.Parameters, param)
				continue
			}
			for _, prediction := range varianceSchema.Predictions {
				if prediction == param.Tag {
					varianceInput.Parameters = append(varianceInput.Parameters, param)
				}
			}
		}
		result, err := engine.Start(varianceInput)
		if err != nil {
			return wrapStage("variance", doc.Singer, err)
		}
		input.Parameters = mergeVariance(input.Parameters, result.Predictions)
	}

	// 阶段四：声学
	logger.Info("开始声学推理")
	acousticResult := (*api.AcousticResult)(nil)
	{
		engine := acoustic.New(acousticConfig, specs.acoustic.Options, p.driver)
		defer engine.Destroy()
		if err := engine.Initialize(api.AcousticInitArgs{}); err != nil {
			return wrapStage("acoustic", doc.Singer, err)
		}
		acousticResult, err = engine.Start(input)
		if err != nil {
			return wrapStage("acoustic", doc.Singer, err)
		}
	}

	// 阶段五：声码器
	logger.Info("开始声码器推理")
	var audio []float32
	{
		engine := vocoder.New(vocoderConfig, specs.vocoder.Options, p.driver)
		defer engine.Destroy()
		if err := engine.Initialize(api.VocoderInitArgs{}); err != nil {
			return wrapStage("vocoder", doc.Singer, err)
		}
		result, err := engine.Start(&api.VocoderStartInput{
			Mel: acousticResult.Mel,
			F0:  acousticResult.F0,
		})
		if err != nil {
			return wrapStage("vocoder", doc.Singer, err)
		}
		audio = result.AudioData
	}

	// 写出 WAV
	wavBytes := float32WavBytes(audio, vocoderConfig.SampleRate)
	if err := fileutil.FileSave(outputPath, wavBytes); err != nil {
		return fmt.Errorf("%w: 保存 WAV 失败: %v", api.ErrFileNotOpen, err)
	}
	logger.Info("合成完成", "output", outputPath, "samples", len(audio))
	return nil
}

// resolveImports 按 API 类名匹配五个阶段导入，缺任何一个都报错
func resolveImports(singerSpec *singer.SingerSpec) (*stageSpecs, error) {
	entries := []struct {
		class string
		name  string
		out   **singer.InferenceSpec
	}{
		{api.DurationAPIClass, api.DurationAPIName, nil},
		{api.PitchAPIClass, api.PitchAPIName, nil},
		{api.VarianceAPIClass, api.VarianceAPIName, nil},
		{api.AcousticAPIClass, api.AcousticAPIName, nil},
		{api.VocoderAPIClass, api.VocoderAPIName, nil},
	}
	specs := &stageSpecs{}
	entries[0].out = &specs.duration
	entries[1].out = &specs.pitch
	entries[2].out = &specs.variance
	entries[3].out = &specs.acoustic
	entries[4].out = &specs.vocoder

	for _, entry := range entries {
		imp := singerSpec.FindImport(entry.class)
		if imp == nil {
			return nil, fmt.Errorf("%w: 歌手 %q 缺少 %s 推理导入",
				api.ErrInvalidArgument, singerSpec.ID, entry.name)
		}
		*entry.out = imp
	}
	return specs, nil
}

// crossCheckConfigs 校验声学与声码器配置的九个字段一致
func crossCheckConfigs(ac *api.AcousticConfiguration, vo *api.VocoderConfiguration) error {
	var unmatched []string
	if ac.SampleRate != vo.SampleRate {
		unmatched = append(unmatched, "sampleRate")
	}
	if ac.HopSize != vo.HopSize {
		unmatched = append(unmatched, "hopSize")
	}
	if ac.WinSize != vo.WinSize {
		unmatched = append(unmatched, "winSize")
	}
	if ac.FftSize != vo.FftSize {
		unmatched = append(unmatched, "fftSize")
	}
	if ac.MelChannels != vo.MelChannels {
		unmatched = append(unmatched, "melChannels")
	}
	if ac.MelMinFreq != vo.MelMinFreq {
		unmatched = append(unmatched, "melMinFreq")
	}
	if ac.MelMaxFreq != vo.MelMaxFreq {
		unmatched = append(unmatched, "melMaxFreq")
	}
	if ac.MelBase != vo.MelBase {
		unmatched = append(unmatched, "melBase")
	}
	if ac.MelScale != vo.MelScale {
		unmatched = append(unmatched, "melScale")
	}
	if len(unmatched) > 0 {
		return fmt.Errorf("%w: 声学与声码器配置不一致: %s",
			api.ErrInvalidArgument, strings.Join(unmatched, ", "))
	}
	return nil
}

// wrapStage 给阶段错误附加阶段名与歌手 id
func wrapStage(stage, singerID string, err error) error {
	return fmt.Errorf("歌手 %q 的 %s 推理失败: %w", singerID, stage, err)
}
