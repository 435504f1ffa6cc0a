// Package parse 实现歌手包配置、schema、导入选项与输入文档的解析。
// 配置类解析器收集全部错误后一次性返回，让使用者一眼看到所有问题
package parse

import (
	"fmt"
	"strings"

	"github.com/getcharzp/go-svs/api"
)

// Collector 按出现顺序累积解析错误
type Collector struct {
	msgs []string
}

// Collect 记录一条错误
func (c *Collector) Collect(format string, args ...any) {
	c.msgs = append(c.msgs, fmt.Sprintf(format, args...))
}

// Empty 是否未收集到错误
func (c *Collector) Empty() bool { return len(c.msgs) == 0 }

// Messages 全部错误消息
func (c *Collector) Messages() []string { return c.msgs }

// Err 把收集到的错误合并为一个错误，未收集到时返回 nil
func (c *Collector) Err() error {
	if len(c.msgs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", api.ErrInvalidFormat, strings.Join(c.msgs, "; "))
}
