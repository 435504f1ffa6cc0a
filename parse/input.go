package parse

import (
	"encoding/json"
	"fmt"

	"github.com/getcharzp/go-svs/api"
)

// InputDocument 输入文档：歌手 id 加一份完整的声学阶段输入
type InputDocument struct {
	Singer string
	Input  *api.AcousticStartInput
}

// inputJSON 输入文档的 JSON 形态
type inputJSON struct {
	Singer     string           `json:"singer"`
	Duration   float64          `json:"duration"`
	Words      []api.Word       `json:"words"`
	Parameters []parameterJSON  `json:"parameters"`
	Speakers   []api.SpeakerMix `json:"speakers"`
	Steps      int64            `json:"steps"`
	Depth      float64          `json:"depth"`
}

type parameterJSON struct {
	Tag      string      `json:"tag"`
	Values   []float64   `json:"values"`
	Interval float64     `json:"interval"`
	Retake   *api.Retake `json:"retake,omitempty"`
}

// ParseInputDocument 解析输入 JSON 文档
func ParseInputDocument(data []byte) (*InputDocument, error) {
	var doc inputJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrInvalidFormat, err)
	}
	if doc.Singer == "" {
		return nil, fmt.Errorf("%w: 缺少或为空的 singer 字段", api.ErrInvalidFormat)
	}

	input := &api.AcousticStartInput{
		Duration: doc.Duration,
		Words:    doc.Words,
		Speakers: doc.Speakers,
		Steps:    doc.Steps,
		Depth:    doc.Depth,
	}
	for i, p := range doc.Parameters {
		tag, ok := api.ParseParamTag(p.Tag)
		if !ok {
			return nil, fmt.Errorf("%w: 第 %d 个参数的标签 %q 不可识别", api.ErrInvalidFormat, i, p.Tag)
		}
		if len(p.Values) > 0 && p.Interval <= 0 {
			return nil, fmt.Errorf("%w: 参数 %q 的采样间隔必须为正数", api.ErrInvalidFormat, p.Tag)
		}
		input.Parameters = append(input.Parameters, api.Parameter{
			Tag:      tag,
			Values:   p.Values,
			Interval: p.Interval,
			Retake:   p.Retake,
		})
	}
	return &InputDocument{Singer: doc.Singer, Input: input}, nil
}
