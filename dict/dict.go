// Package dict 提供发音字典的单缓冲只读加载器
//
// 字典文件为 UTF-8 文本，每行 `单词<TAB>音素1 音素2 ...`，CR/LF 均可作为
// 行分隔符。整个文件读入一块字节缓冲后原地把分隔符改写为 NUL，条目只记录
// 缓冲内偏移，之后不再修改
package dict

import (
	"bytes"
	"fmt"
	"os"

	"github.com/getcharzp/go-svs/api"
)

// largeFileSize 超过该大小的文件先统计行数以预分配映射
const largeFileSize = 1 * 1024 * 1024

// entry 单条目：首音素在缓冲内的偏移与音素个数
type entry struct {
	offset uint32
	count  uint32
}

// PhonemeDict 只读发音字典。Load 之后不可再修改，
// 返回的 PhonemeList 的生命周期与字典相同
type PhonemeDict struct {
	filebuf []byte
	mapping map[string]entry
	// keys 按插入顺序保存键，供有序遍历
	keys []string
}

// PhonemeList 某个词条的音素序列视图
type PhonemeList struct {
	buf   []byte
	count int
}

// Count 音素个数
func (l PhonemeList) Count() int { return l.count }

// Vec 将全部音素物化为字符串切片
func (l PhonemeList) Vec() []string {
	out := make([]string, 0, l.count)
	buf := l.buf
	for i := 0; i < l.count; i++ {
		end := bytes.IndexByte(buf, 0)
		if end < 0 {
			end = len(buf)
		}
		out = append(out, string(buf[:end]))
		if end+1 >= len(buf) {
			buf = nil
		} else {
			buf = buf[end+1:]
		}
	}
	return out
}

// New 创建空字典
func New() *PhonemeDict {
	return &PhonemeDict{mapping: make(map[string]entry)}
}

// Load 读取并解析字典文件
//
// # Params:
//
//	path: 字典文件路径
func (d *PhonemeDict) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: 字典文件 %q 不存在", api.ErrFileNotFound, path)
		}
		return fmt.Errorf("%w: 读取字典文件 %q 失败: %v", api.ErrFileNotOpen, path, err)
	}

	// 末尾补一个换行作为终结符
	filebuf := make([]byte, 0, len(raw)+1)
	filebuf = append(filebuf, raw...)
	filebuf = append(filebuf, '\n')

	mapping := make(map[string]entry)
	var keys []string
	// 大文件先数行，避免映射反复扩容
	if len(raw) > largeFileSize {
		lineCnt := bytes.Count(filebuf, []byte{'\n'}) + 1
		mapping = make(map[string]entry, lineCnt)
		keys = make([]string, 0, lineCnt)
	}

	// 逐行扫描：行首到首个 TAB 为键，其后以空格分隔的串为音素，
	// 所有分隔符原地改写为 NUL。没有 TAB 的行跳过
	pos := 0
	bufLen := len(filebuf)
nextLine:
	for pos < bufLen {
		for pos < bufLen && (filebuf[pos] == '\r' || filebuf[pos] == '\n') {
			filebuf[pos] = 0
			pos++
		}
		if pos >= bufLen {
			break
		}

		keyStart := pos

		// 找 TAB
		p := pos + 1
		for {
			if p >= bufLen {
				// 文件末尾前都没有 TAB
				break nextLine
			}
			c := filebuf[p]
			if c == '\t' {
				filebuf[p] = 0
				p++
				break
			}
			if c == '\r' || c == '\n' {
				// 本行没有 TAB，整行作废
				pos = p + 1
				continue nextLine
			}
			p++
		}
		valueStart := p

		// 找空格或行尾，统计音素个数
		valueCnt := 0
		for p < bufLen {
			c := filebuf[p]
			if c == ' ' {
				valueCnt++
				filebuf[p] = 0
			} else if c == '\r' || c == '\n' {
				valueCnt++
				filebuf[p] = 0
				break
			}
			p++
		}

		key := string(filebuf[keyStart : keyStart+keyLen(filebuf, keyStart)])
		if _, exists := mapping[key]; !exists {
			keys = append(keys, key)
		}
		mapping[key] = entry{offset: uint32(valueStart), count: uint32(valueCnt)}
		pos = p + 1
	}

	d.filebuf = filebuf
	d.mapping = mapping
	d.keys = keys
	return nil
}

// keyLen 自 start 起到 NUL 的长度
func keyLen(buf []byte, start int) int {
	end := bytes.IndexByte(buf[start:], 0)
	if end < 0 {
		return len(buf) - start
	}
	return end
}

// Find 查找词条，第二返回值表示是否命中
func (d *PhonemeDict) Find(key string) (PhonemeList, bool) {
	e, ok := d.mapping[key]
	if !ok {
		return PhonemeList{}, false
	}
	return PhonemeList{buf: d.filebuf[e.offset:], count: int(e.count)}, true
}

// Contains 判断词条是否存在
func (d *PhonemeDict) Contains(key string) bool {
	_, ok := d.mapping[key]
	return ok
}

// Get 返回词条的音素序列，不存在时返回空列表
func (d *PhonemeDict) Get(key string) PhonemeList {
	list, _ := d.Find(key)
	return list
}

// Size 词条数
func (d *PhonemeDict) Size() int { return len(d.mapping) }

// Empty 是否为空
func (d *PhonemeDict) Empty() bool { return len(d.mapping) == 0 }

// Entries 按插入顺序遍历词条，回调返回 false 时提前结束
func (d *PhonemeDict) Entries(fn func(key string, phones PhonemeList) bool) {
	for _, key := range d.keys {
		e := d.mapping[key]
		if !fn(key, PhonemeList{buf: d.filebuf[e.offset:], count: int(e.count)}) {
			return
		}
	}
}

// EntriesReverse 按插入逆序遍历词条，回调返回 false 时提前结束
func (d *PhonemeDict) EntriesReverse(fn func(key string, phones PhonemeList) bool) {
	for i := len(d.keys) - 1; i >= 0; i-- {
		e := d.mapping[d.keys[i]]
		if !fn(d.keys[i], PhonemeList{buf: d.filebuf[e.offset:], count: int(e.count)}) {
			return
		}
	}
}
