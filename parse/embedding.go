package parse

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/getcharzp/go-svs/api"
)

// LoadSpeakerEmbedding 加载 .emb 说话人嵌入文件：
// 小端 float32 原始字节流，长度必须恰为 hiddenSize
func LoadSpeakerEmbedding(hiddenSize int, path string) ([]float32, error) {
	if hiddenSize <= 0 {
		return nil, fmt.Errorf("%w: hiddenSize 必须为正数", api.ErrInvalidArgument)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: 嵌入文件 %q 不存在", api.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: 读取嵌入文件 %q 失败: %v", api.ErrFileNotOpen, path, err)
	}
	if len(raw) != hiddenSize*4 {
		return nil, fmt.Errorf("%w: 嵌入文件 %q 长度 %d 字节, 期望 %d 字节 (hiddenSize=%d)",
			api.ErrInvalidFormat, path, len(raw), hiddenSize*4, hiddenSize)
	}
	out := make([]float32, hiddenSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// speakersAndLoadEmb 解析 speakers 字段并加载全部嵌入文件
func (p *fieldParser) speakersAndLoadEmb(useSpeakerEmbedding bool, hiddenSize int,
	out *map[string][]float32) {

	v, ok := p.obj["speakers"]
	if !ok {
		if useSpeakerEmbedding {
			p.ec.Collect("对象字段 %q 缺失 (当 %q 为 true 时必填)", "speakers", "useSpeakerEmbedding")
		}
		return
	}
	obj, ok := v.(map[string]any)
	if !ok {
		p.ec.Collect("对象字段 %q 类型不匹配", "speakers")
		return
	}
	result := make(map[string][]float32, len(obj))
	for key, value := range obj {
		rel, ok := value.(string)
		if !ok {
			p.ec.Collect("对象字段 %q 的值类型不匹配: 期望字符串", "speakers")
			continue
		}
		path := joinPath(p.baseDir, rel)
		embedding, err := LoadSpeakerEmbedding(hiddenSize, path)
		if err != nil {
			p.ec.Collect("加载说话人 %q 的嵌入向量失败 (%s): %v", key, path, err)
			continue
		}
		result[key] = embedding
	}
	*out = result
}
