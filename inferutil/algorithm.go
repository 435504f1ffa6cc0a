// Package inferutil 提供各推理阶段共用的预处理算法
package inferutil

import "math"

// Resample 将采样间隔为 srcInterval 的序列线性插值重采样为
// 采样间隔 dstInterval、长度 targetLen 的序列
//
// 超出源序列末尾的位置，padWithLast 为真时重复末值，否则补 0。
// 输入为空时返回空序列，由调用方决定是否视为错误
func Resample(values []float64, srcInterval, dstInterval float64, targetLen int64, padWithLast bool) []float64 {
	if len(values) == 0 || targetLen <= 0 {
		return nil
	}
	out := make([]float64, targetLen)
	last := len(values) - 1
	for i := int64(0); i < targetLen; i++ {
		x := float64(i) * dstInterval / srcInterval
		idx := int(math.Floor(x))
		if idx >= last {
			if padWithLast {
				out[i] = values[last]
			}
			// 否则保持 0
			if idx == last && x == float64(last) {
				out[i] = values[last]
			}
			continue
		}
		frac := x - float64(idx)
		out[i] = values[idx]*(1-frac) + values[idx+1]*frac
	}
	return out
}

// Number 可填充休止符的数值类型
type Number interface {
	~int64 | ~float32 | ~float64
}

// FillRestMidiWithNearest 原地将休止位置的值替换为按下标距离最近的
// 非休止值，距离相同时取较小下标。全部为休止时返回 false
func FillRestMidiWithNearest[T Number](midi []T, isRest []uint8) bool {
	n := len(midi)
	if n == 0 || n != len(isRest) {
		return false
	}
	hasVoiced := false
	for _, r := range isRest {
		if r == 0 {
			hasVoiced = true
			break
		}
	}
	if !hasVoiced {
		return false
	}
	src := make([]T, n)
	copy(src, midi)
	for i := 0; i < n; i++ {
		if isRest[i] == 0 {
			continue
		}
		bestDist := math.MaxInt
		for j := 0; j < n; j++ {
			if isRest[j] != 0 {
				continue
			}
			dist := i - j
			if dist < 0 {
				dist = -dist
			}
			// 严格小于保证距离相同取较小下标
			if dist < bestDist {
				bestDist = dist
				midi[i] = src[j]
			}
		}
	}
	return true
}

// MidiToHz 将 MIDI 音高换算为频率 (Hz)
func MidiToHz(note float64) float64 {
	const a4FreqHz = 440.0
	const midiA4Note = 69.0
	return a4FreqHz * math.Exp2((note-midiA4Note)/12.0)
}
