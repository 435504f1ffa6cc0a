package parse

import (
	"path/filepath"
	"strings"

	"github.com/getcharzp/go-svs/api"
)

// joinPath 把包内相对路径拼接到包目录下
func joinPath(baseDir, rel string) string {
	return filepath.Clean(filepath.Join(baseDir, filepath.FromSlash(rel)))
}

// fieldParser 针对一个 JSON 对象的逐字段提取器。
// 类型不符或取值非法时收集错误并继续，缺失的可选字段保持默认值
type fieldParser struct {
	obj     map[string]any
	baseDir string
	ec      *Collector
}

func (p *fieldParser) boolOptional(out *bool, name string) {
	v, ok := p.obj[name]
	if !ok {
		return
	}
	b, ok := v.(bool)
	if !ok {
		p.ec.Collect("布尔字段 %q 类型不匹配", name)
		return
	}
	*out = b
}

func (p *fieldParser) intOptional(out *int, name string) {
	v, ok := p.obj[name]
	if !ok {
		return
	}
	f, ok := v.(float64)
	if !ok {
		p.ec.Collect("整数字段 %q 类型不匹配", name)
		return
	}
	*out = int(f)
}

func (p *fieldParser) positiveIntOptional(out *int, name string) {
	v, ok := p.obj[name]
	if !ok {
		return
	}
	f, ok := v.(float64)
	if !ok {
		p.ec.Collect("整数字段 %q 类型不匹配", name)
		return
	}
	if f <= 0 {
		p.ec.Collect("整数字段 %q 必须为正数", name)
		return
	}
	*out = int(f)
}

func (p *fieldParser) positiveIntRequired(out *int, name string) {
	if _, ok := p.obj[name]; !ok {
		p.ec.Collect("整数字段 %q 缺失", name)
		return
	}
	p.positiveIntOptional(out, name)
}

func (p *fieldParser) doubleOptional(out *float64, name string) {
	v, ok := p.obj[name]
	if !ok {
		return
	}
	f, ok := v.(float64)
	if !ok {
		p.ec.Collect("浮点字段 %q 类型不匹配", name)
		return
	}
	*out = f
}

func (p *fieldParser) positiveDoubleOptional(out *float64, name string) {
	v, ok := p.obj[name]
	if !ok {
		return
	}
	f, ok := v.(float64)
	if !ok {
		p.ec.Collect("浮点字段 %q 类型不匹配", name)
		return
	}
	if f <= 0 {
		p.ec.Collect("浮点字段 %q 必须为正数", name)
		return
	}
	*out = f
}

// pathRequired 取出必填的相对路径并拼接到包目录下
func (p *fieldParser) pathRequired(out *string, name string) {
	v, ok := p.obj[name]
	if !ok {
		p.ec.Collect("字符串字段 %q 缺失", name)
		return
	}
	s, ok := v.(string)
	if !ok {
		p.ec.Collect("字符串字段 %q 类型不匹配", name)
		return
	}
	*out = joinPath(p.baseDir, s)
}

// frameWidth 读取帧宽，缺失时回退为 hopSize/sampleRate
func (p *fieldParser) frameWidth(out *float64) {
	if v, ok := p.obj["frameWidth"]; ok {
		f, ok := v.(float64)
		if !ok {
			p.ec.Collect("浮点字段 %q 类型不匹配", "frameWidth")
			return
		}
		if f <= 0 {
			p.ec.Collect("浮点字段 %q 必须为正数", "frameWidth")
			return
		}
		*out = f
		return
	}

	vRate, okRate := p.obj["sampleRate"]
	vHop, okHop := p.obj["hopSize"]
	if !okRate || !okHop {
		p.ec.Collect("必须指定 %q 或 (%q 与 %q)", "frameWidth", "sampleRate", "hopSize")
		return
	}
	rate, okRate := vRate.(float64)
	hop, okHop := vHop.(float64)
	if !okRate || !okHop {
		p.ec.Collect("整数字段 %q 或 %q 类型不匹配", "sampleRate", "hopSize")
		return
	}
	if rate <= 0 || hop <= 0 {
		p.ec.Collect("整数字段 %q 与 %q 必须为正数", "sampleRate", "hopSize")
		return
	}
	*out = hop / rate
}

func (p *fieldParser) melBase(out *api.MelBase) {
	v, ok := p.obj["melBase"]
	if !ok {
		return
	}
	s, _ := v.(string)
	switch strings.ToLower(s) {
	case "e":
		*out = api.MelBaseE
	case "10":
		*out = api.MelBase10
	default:
		p.ec.Collect("枚举字段 %q 非法: 期望 \"e\" 或 \"10\", 实际 %q", "melBase", s)
	}
}

func (p *fieldParser) melScale(out *api.MelScale) {
	v, ok := p.obj["melScale"]
	if !ok {
		return
	}
	s, _ := v.(string)
	switch strings.ToLower(s) {
	case "slaney":
		*out = api.MelScaleSlaney
	case "htk":
		*out = api.MelScaleHTK
	default:
		p.ec.Collect("枚举字段 %q 非法: 期望 \"slaney\" 或 \"htk\", 实际 %q", "melScale", s)
	}
}

func (p *fieldParser) linguisticMode(out *api.LinguisticMode) {
	v, ok := p.obj["linguisticMode"]
	if !ok {
		return
	}
	s, _ := v.(string)
	switch strings.ToLower(s) {
	case "word":
		*out = api.LinguisticWord
	case "phoneme":
		*out = api.LinguisticPhoneme
	default:
		p.ec.Collect("枚举字段 %q 非法: 期望 \"word\" 或 \"phoneme\", 实际 %q", "linguisticMode", s)
	}
}

// paramKind 限定 parameters 数组允许出现的标签类别
type paramKind int

const (
	paramAll paramKind = iota
	paramVariance
	paramTransition
)

// parameters 解析参数标签数组，非法元素收集错误并继续
func (p *fieldParser) parameters(name string, kind paramKind, insert func(api.ParamTag)) {
	v, ok := p.obj[name]
	if !ok {
		return
	}
	arr, ok := v.([]any)
	if !ok {
		p.ec.Collect("数组字段 %q 类型不匹配", name)
		return
	}
	for index, item := range arr {
		s, ok := item.(string)
		if !ok {
			p.ec.Collect("数组字段 %q 第 %d 个元素类型不匹配: 期望字符串", name, index)
			continue
		}
		tag, ok := api.ParseParamTag(s)
		accepted := ok
		if ok {
			switch kind {
			case paramVariance:
				accepted = tag.IsVariance()
			case paramTransition:
				accepted = tag.IsTransition()
			default:
				accepted = tag.IsVariance() || tag.IsTransition()
			}
		}
		if !accepted {
			p.ec.Collect("数组字段 %q 第 %d 个元素非法: %q", name, index, s)
			continue
		}
		insert(tag)
	}
}
