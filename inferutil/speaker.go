package inferutil

import (
	"fmt"

	"github.com/getcharzp/go-svs/api"
	"github.com/getcharzp/go-svs/tensor"
)

// PreprocessSpeakerEmbeddingFrames 按分段说话人比例曲线逐帧混合嵌入向量，
// 产出 1×targetLen×hiddenSize float 张量
//
// 每帧对所有覆盖该帧起始时刻的片段累加 proportion * 嵌入向量，
// 比例按原值使用，不做归一。未知说话人名先经 mapping 重定向，
// 重定向后仍未命中则报错
func PreprocessSpeakerEmbeddingFrames(mixes []api.SpeakerMix, speakers map[string][]float32,
	mapping map[string]string, hiddenSize int, frameWidth float64, targetLen int64) (*tensor.Tensor, error) {

	if hiddenSize <= 0 {
		return nil, fmt.Errorf("%w: hiddenSize 必须为正数", api.ErrInvalidArgument)
	}
	t, err := tensor.New(tensor.Float, []int64{1, targetLen, int64(hiddenSize)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}
	buffer, err := tensor.MutableData[float32](t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}

	// 先解析各片段的嵌入向量，避免逐帧查表
	type resolvedMix struct {
		api.SpeakerMix
		embedding []float32
	}
	resolved := make([]resolvedMix, 0, len(mixes))
	for _, mix := range mixes {
		name := mix.Name
		if mapping != nil {
			if mapped, ok := mapping[name]; ok {
				name = mapped
			}
		}
		embedding, ok := speakers[name]
		if !ok {
			return nil, fmt.Errorf("%w: 未知说话人 %q", api.ErrSession, mix.Name)
		}
		if len(embedding) != hiddenSize {
			return nil, fmt.Errorf("%w: 说话人 %q 嵌入向量长度 %d 与 hiddenSize %d 不符",
				api.ErrSession, name, len(embedding), hiddenSize)
		}
		resolved = append(resolved, resolvedMix{SpeakerMix: mix, embedding: embedding})
	}

	for frame := int64(0); frame < targetLen; frame++ {
		t0 := float64(frame) * frameWidth
		row := buffer[frame*int64(hiddenSize) : (frame+1)*int64(hiddenSize)]
		for _, mix := range resolved {
			if !mix.Covers(t0) {
				continue
			}
			p := float32(mix.Proportion)
			for j, v := range mix.embedding {
				row[j] += p * v
			}
		}
	}
	return t, nil
}

// MixPhoneSpeakerEmbeddings 按音素粒度混合说话人嵌入，产出
// 1×phoneCount×hiddenSize float 张量。每个音素必须至少带一条说话人权重
func MixPhoneSpeakerEmbeddings(words []api.Word, speakers map[string][]float32,
	mapping map[string]string, hiddenSize int) (*tensor.Tensor, error) {

	phoneCount := PhoneCount(words)
	t, err := tensor.New(tensor.Float, []int64{1, int64(phoneCount), int64(hiddenSize)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}
	buffer, err := tensor.MutableData[float32](t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSession, err)
	}

	phoneIndex := 0
	for _, w := range words {
		for _, p := range w.Phones {
			if len(p.Speakers) == 0 {
				return nil, fmt.Errorf("%w: 音素 %q 缺少说话人权重", api.ErrSession, p.Token)
			}
			row := buffer[phoneIndex*hiddenSize : (phoneIndex+1)*hiddenSize]
			for _, sp := range p.Speakers {
				name := sp.Name
				if mapping != nil {
					if mapped, ok := mapping[name]; ok {
						name = mapped
					}
				}
				embedding, ok := speakers[name]
				if !ok {
					// 名字不在包内时跳过该条权重
					continue
				}
				if len(embedding) != hiddenSize {
					return nil, fmt.Errorf("%w: 说话人 %q 嵌入向量长度与 hiddenSize 不符",
						api.ErrSession, name)
				}
				prop := float32(sp.Proportion)
				for j, v := range embedding {
					row[j] += prop * v
				}
			}
			phoneIndex++
		}
	}
	return t, nil
}
