package parse

import (
	"encoding/json"
	"math"
	"os"
)

// loadIDMapping 加载符号到 id 的 JSON 映射文件（音素表 / 语言表）。
// 错误进入收集器，返回是否全部成功
func loadIDMapping(fieldName, path string, ec *Collector) (map[string]int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		ec.Collect("加载 %q 失败: 文件 %q 不可读", fieldName, path)
		return nil, false
	}

	var outer any
	if err := json.Unmarshal(raw, &outer); err != nil {
		ec.Collect("加载 %q 失败: %v", fieldName, err)
		return nil, false
	}
	obj, ok := outer.(map[string]any)
	if !ok {
		ec.Collect("加载 %q 失败: 外层 JSON 不是对象", fieldName)
		return nil, false
	}

	out := make(map[string]int, len(obj))
	flag := true
	for key, value := range obj {
		f, isNum := value.(float64)
		if !isNum || f != math.Trunc(f) {
			flag = false
			ec.Collect("加载 %q 失败: 键 %q 的值不是整数", fieldName, key)
			continue
		}
		out[key] = int(f)
	}
	return out, flag
}
