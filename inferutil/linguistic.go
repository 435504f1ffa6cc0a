package inferutil

import (
	"fmt"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/session"
	"github.com/getcharzp/go-svs/tensor"
)

// 语言学编码器的输出名，前者为隐层特征，后者为掩码（仅时长模型需要）
const (
	encoderOutName  = "encoder_out"
	encoderMaskName = "x_masks"
)

// PreprocessLinguisticWord 组装单词粒度的语言学编码器输入：
// tokens、word_div（每词音素数）、word_dur（帧吸附的单词时长），
// useLanguageId 为真时附加 languages
func PreprocessLinguisticWord(words []api.Word, phonemes, languages map[string]int,
	useLanguageId bool, frameWidth float64) (map[string]*tensor.Tensor, error) {

	inputs := make(map[string]*tensor.Tensor)

	tokens, err := PreprocessPhonemeTokens(words, phonemes)
	if err != nil {
		return nil, err
	}
	inputs["tokens"] = tokens

	if useLanguageId {
		langs, err := PreprocessPhonemeLanguages(words, languages)
		if err != nil {
			return nil, err
		}
		inputs["languages"] = langs
	}

	wordDiv := make([]int64, 0, len(words))
	wordDur := make([]int64, 0, len(words))
	var cum float64
	for _, w := range words {
		wordDiv = append(wordDiv, int64(len(w.Phones)))
		prev := snapFrame(cum, frameWidth)
		cum += w.Duration()
		curr := snapFrame(cum, frameWidth)
		wordDur = append(wordDur, curr-prev)
	}
	divTensor, err := tensor.FromSlice([]int64{1, int64(len(wordDiv))}, wordDiv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}
	inputs["word_div"] = divTensor
	durTensor, err := tensor.FromSlice([]int64{1, int64(len(wordDur))}, wordDur)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}
	inputs["word_dur"] = durTensor

	return inputs, nil
}

// PreprocessLinguisticPhoneme 组装音素粒度的语言学编码器输入：
// tokens、ph_dur，useLanguageId 为真时附加 languages
func PreprocessLinguisticPhoneme(words []api.Word, phonemes, languages map[string]int,
	useLanguageId bool, frameWidth float64) (map[string]*tensor.Tensor, error) {

	inputs := make(map[string]*tensor.Tensor)

	tokens, err := PreprocessPhonemeTokens(words, phonemes)
	if err != nil {
		return nil, err
	}
	inputs["tokens"] = tokens

	if useLanguageId {
		langs, err := PreprocessPhonemeLanguages(words, languages)
		if err != nil {
			return nil, err
		}
		inputs["languages"] = langs
	}

	phDur, _, err := PreprocessPhonemeDurations(words, frameWidth)
	if err != nil {
		return nil, err
	}
	inputs["ph_dur"] = phDur

	return inputs, nil
}

// RunEncoder 执行语言学编码器，并把隐层输出原样并入预测模型的输入字典。
// withMask 为真时额外转发 x_masks（时长预测模型需要）
func RunEncoder(sess session.Session, encoderInputs map[string]*tensor.Tensor,
	predictorInputs map[string]*tensor.Tensor, withMask bool) error {

	outputNames := []string{encoderOutName}
	if withMask {
		outputNames = append(outputNames, encoderMaskName)
	}
	outputs, err := sess.Run(encoderInputs, outputNames)
	if err != nil {
		return fmt.Errorf("语言学编码器推理失败: %w", err)
	}
	for name, t := range outputs {
		predictorInputs[name] = t
	}
	return nil
}
