package pipeline

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-svs/api"
)

func TestCrossCheckConfigsListsAllMismatches(t *testing.T) {
	t.Parallel()

	ac := &api.AcousticConfiguration{
		SampleRate: 44100, HopSize: 512, WinSize: 2048, FftSize: 2048,
		MelChannels: 128, MelMinFreq: 40, MelMaxFreq: 16000,
		MelBase: api.MelBaseE, MelScale: api.MelScaleSlaney,
	}
	vo := &api.VocoderConfiguration{
		SampleRate: 48000, HopSize: 480, WinSize: 2048, FftSize: 2048,
		MelChannels: 80, MelMinFreq: 40, MelMaxFreq: 16000,
		MelBase: api.MelBase10, MelScale: api.MelScaleSlaney,
	}
	err := crossCheckConfigs(ac, vo)
	require.Error(t, err)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	msg := err.Error()
	// 所有不一致的字段一次性列出
	require.Contains(t, msg, "sampleRate")
	require.Contains(t, msg, "hopSize")
	require.Contains(t, msg, "melChannels")
	require.Contains(t, msg, "melBase")
	require.NotContains(t, msg, "winSize")
	require.NotContains(t, msg, "melScale")
}

func TestCrossCheckConfigsMatch(t *testing.T) {
	t.Parallel()

	ac := &api.AcousticConfiguration{SampleRate: 44100, HopSize: 512, MelChannels: 128}
	vo := &api.VocoderConfiguration{SampleRate: 44100, HopSize: 512, MelChannels: 128}
	require.NoError(t, crossCheckConfigs(ac, vo))
}

func TestUpdatePhonemeStarts(t *testing.T) {
	t.Parallel()

	words := []api.Word{
		{Phones: []api.Phone{{Token: "k"}, {Token: "a"}}},
		{Phones: []api.Phone{{Token: "n"}, {Token: "i"}}},
	}
	updatePhonemeStarts(words, []float64{0.1, 0.4, 0.2, 0.3})

	// 单词内累计，跨词重置
	require.InDelta(t, 0.0, words[0].Phones[0].Start, 1e-12)
	require.InDelta(t, 0.1, words[0].Phones[1].Start, 1e-12)
	require.InDelta(t, 0.0, words[1].Phones[0].Start, 1e-12)
	require.InDelta(t, 0.2, words[1].Phones[1].Start, 1e-12)
}

func TestMergePitchReplaces(t *testing.T) {
	t.Parallel()

	params := []api.Parameter{
		{Tag: api.TagPitch, Values: []float64{1, 2}, Interval: 0.5,
			Retake: &api.Retake{Start: 0, End: 1}},
		{Tag: api.TagEnergy, Values: []float64{9}, Interval: 0.5},
	}
	result := &api.PitchResult{Interval: 0.01, Pitch: []float64{69, 70, 71}}
	merged := mergePitch(params, result)

	// 原有 Pitch 被替换，不新增重复项
	require.Len(t, merged, 2)
	require.Equal(t, result.Pitch, merged[0].Values)
	require.InDelta(t, 0.01, merged[0].Interval, 1e-12)

	count := 0
	for _, p := range merged {
		if p.Tag == api.TagPitch {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestMergePitchAppends(t *testing.T) {
	t.Parallel()

	result := &api.PitchResult{Interval: 0.01, Pitch: []float64{69}}
	merged := mergePitch(nil, result)
	require.Len(t, merged, 1)
	require.Equal(t, api.TagPitch, merged[0].Tag)
}

func TestMergeVariance(t *testing.T) {
	t.Parallel()

	params := []api.Parameter{
		{Tag: api.TagEnergy, Values: []float64{1}, Interval: 0.5,
			Retake: &api.Retake{Start: 0, End: 1}},
	}
	predictions := []api.Parameter{
		{Tag: api.TagEnergy, Values: []float64{2, 3}, Interval: 0.01},
		{Tag: api.TagBreathiness, Values: []float64{4, 5}, Interval: 0.01},
	}
	merged := mergeVariance(params, predictions)

	require.Len(t, merged, 2)
	// 命中的参数被替换且 retake 清除
	require.Equal(t, []float64{2, 3}, merged[0].Values)
	require.Nil(t, merged[0].Retake)
	// 新预测的参数被追加
	require.Equal(t, api.TagBreathiness, merged[1].Tag)
	require.Equal(t, []float64{4, 5}, merged[1].Values)
}

func TestFloat32WavBytes(t *testing.T) {
	t.Parallel()

	samples := []float32{0, 0.5, -0.5, 1}
	wav := float32WavBytes(samples, 44100)

	// RIFF 头 44 字节 + 每采样 4 字节
	require.Len(t, wav, 44+len(samples)*4)
	require.Equal(t, "RIFF", string(wav[0:4]))
	require.Equal(t, "WAVE", string(wav[8:12]))
	require.Equal(t, "fmt ", string(wav[12:16]))
	// IEEE float 格式码 3，单声道，32 位
	require.Equal(t, uint16(3), binary.LittleEndian.Uint16(wav[20:22]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	require.Equal(t, uint32(44100), binary.LittleEndian.Uint32(wav[24:28]))
	require.Equal(t, uint16(32), binary.LittleEndian.Uint16(wav[34:36]))
	require.Equal(t, "data", string(wav[36:40]))
	require.Equal(t, uint32(16), binary.LittleEndian.Uint32(wav[40:44]))
}
