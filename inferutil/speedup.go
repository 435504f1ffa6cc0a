package inferutil

import "math"

// GetSpeedupFromSteps 把采样步数映射为旧式模型的离散加速比。
// 模型实际执行的步数为 1000/speedup，结果限制在 [1, 1000]。
// 非正步数视为退化输入，取最大加速比 1000。
// 连续加速的新式模型不经此换算，直接传入原始步数
func GetSpeedupFromSteps(steps int64) int64 {
	if steps <= 0 {
		return 1000
	}
	speedup := int64(math.Round(1000.0 / float64(steps)))
	if speedup < 1 {
		speedup = 1
	} else if speedup > 1000 {
		speedup = 1000
	}
	return speedup
}
