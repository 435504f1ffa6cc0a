package inferutil

import (
	"fmt"
	"math"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/tensor"
)

// PhoneCount 统计总音素数
func PhoneCount(words []api.Word) int {
	count := 0
	for _, w := range words {
		count += len(w.Phones)
	}
	return count
}

// NoteCount 统计总音符数
func NoteCount(words []api.Word) int {
	count := 0
	for _, w := range words {
		count += len(w.Notes)
	}
	return count
}

// TotalDuration 统计全部单词的总时长（秒）
func TotalDuration(words []api.Word) float64 {
	var sum float64
	for _, w := range words {
		sum += w.Duration()
	}
	return sum
}

// PreprocessPhonemeTokens 将全部音素符号映射为 id，产出 1×N int64 张量。
// 未知符号报错并指明符号本身
func PreprocessPhonemeTokens(words []api.Word, phonemes map[string]int) (*tensor.Tensor, error) {
	ids := make([]int64, 0, PhoneCount(words))
	for _, w := range words {
		for _, p := range w.Phones {
			id, ok := phonemes[p.Token]
			if !ok {
				return nil, fmt.Errorf("%w: 未知音素 %q", api.ErrSession, p.Token)
			}
			ids = append(ids, int64(id))
		}
	}
	return tensor.FromSlice([]int64{1, int64(len(ids))}, ids)
}

// PreprocessPhonemeLanguages 将每个音素的语言映射为 id，产出 1×N int64
// 张量。语言为空的音素取 id 0，未知语言报错
func PreprocessPhonemeLanguages(words []api.Word, languages map[string]int) (*tensor.Tensor, error) {
	ids := make([]int64, 0, PhoneCount(words))
	for _, w := range words {
		for _, p := range w.Phones {
			if p.Language == "" {
				ids = append(ids, 0)
				continue
			}
			id, ok := languages[p.Language]
			if !ok {
				return nil, fmt.Errorf("%w: 未知语言 %q", api.ErrSession, p.Language)
			}
			ids = append(ids, int64(id))
		}
	}
	return tensor.FromSlice([]int64{1, int64(len(ids))}, ids)
}

// snapFrame 把时刻（秒）吸附到帧网格
func snapFrame(t, frameWidth float64) int64 {
	return int64(math.Floor(t/frameWidth + 0.5))
}

// PreprocessPhonemeDurations 把音素边界吸附到帧网格，产出逐音素帧时长的
// 1×N int64 张量，并返回总帧数。边界按累计时刻取整，
// 保证总帧数等于总时长的取整结果
func PreprocessPhonemeDurations(words []api.Word, frameWidth float64) (*tensor.Tensor, int64, error) {
	if frameWidth <= 0 || math.IsNaN(frameWidth) || math.IsInf(frameWidth, 0) {
		return nil, 0, fmt.Errorf("%w: 帧宽必须为正数", api.ErrInvalidArgument)
	}
	durations := make([]int64, 0, PhoneCount(words))
	var targetLen int64
	var wordOffset float64
	for _, w := range words {
		wordDur := w.Duration()
		for i, p := range w.Phones {
			entry := wordOffset + p.Start
			var exit float64
			if i+1 < len(w.Phones) {
				exit = wordOffset + w.Phones[i+1].Start
			} else {
				exit = wordOffset + wordDur
			}
			frames := snapFrame(exit, frameWidth) - snapFrame(entry, frameWidth)
			durations = append(durations, frames)
			targetLen += frames
		}
		wordOffset += wordDur
	}
	t, err := tensor.FromSlice([]int64{1, int64(len(durations))}, durations)
	if err != nil {
		return nil, 0, err
	}
	return t, targetLen, nil
}

// PreprocessNoteDurations 把音符时长吸附到帧网格（累计取整），
// 返回逐音符帧数与总帧数
func PreprocessNoteDurations(words []api.Word, frameWidth float64) ([]int64, int64) {
	durations := make([]int64, 0, NoteCount(words))
	var targetLen int64
	var noteDurSum float64
	for _, w := range words {
		for _, n := range w.Notes {
			prev := snapFrame(noteDurSum, frameWidth)
			noteDurSum += n.Duration
			curr := snapFrame(noteDurSum, frameWidth)
			durations = append(durations, curr-prev)
			targetLen += curr - prev
		}
	}
	return durations, targetLen
}
