package pipeline

import "github.com/getcharzp/go-svs/api"

// updatePhonemeStarts 用预测音素时长在单词内累计填充 phone.Start
func updatePhonemeStarts(words []api.Word, phonemeDurations []float64) {
	i := 0
	for wi := range words {
		timeCursor := 0.0
		for pi := range words[wi].Phones {
			if i >= len(phonemeDurations) {
				return
			}
			words[wi].Phones[pi].Start = timeCursor
			timeCursor += phonemeDurations[i]
			i++
		}
	}
}

// mergePitch 用预测音高替换既有 Pitch 参数，不存在时追加，
// 不会产生重复的 Pitch 参数
func mergePitch(parameters []api.Parameter, result *api.PitchResult) []api.Parameter {
	hasPitch := false
	for i := range parameters {
		if parameters[i].Tag == api.TagPitch {
			parameters[i].Interval = result.Interval
			parameters[i].Values = result.Pitch
			hasPitch = true
		}
	}
	if !hasPitch {
		parameters = append(parameters, api.Parameter{
			Tag:      api.TagPitch,
			Values:   result.Pitch,
			Interval: result.Interval,
		})
	}
	return parameters
}

// mergeVariance 用预测结果更新参数列表：标签命中的既有参数被替换并清除
// retake，用户未提供的预测参数整体追加
func mergeVariance(parameters []api.Parameter, predictions []api.Parameter) []api.Parameter {
	satisfied := make([]bool, len(predictions))
	for i := range parameters {
		for j := range predictions {
			if parameters[i].Tag != predictions[j].Tag {
				continue
			}
			parameters[i].Interval = predictions[j].Interval
			parameters[i].Values = predictions[j].Values
			parameters[i].Retake = nil
			satisfied[j] = true
			break
		}
	}
	for j := range predictions {
		if !satisfied[j] {
			parameters = append(parameters, predictions[j])
		}
	}
	return parameters
}
