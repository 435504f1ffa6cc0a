package inferutil

import (
	"math"

	"github.com/getcharzp/go-svs/api"
)

// retakeFrame 把重新生成区间端点（秒）换算为帧下标并钳到 [0, targetLen]。
// NaN/Inf/负数回退为 fallback
func retakeFrame(t, frameWidth float64, targetLen, fallback int64) int64 {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return fallback
	}
	frame := int64(math.Round(t / frameWidth))
	if frame < 0 {
		return 0
	}
	if frame > targetLen {
		return targetLen
	}
	return frame
}

// FillRetakeRegion 在 mask[offset : offset+targetLen] 上按重新生成区间
// 写掩码。区间为空（s == e）时整段置否；s < e 时 [s, e) 为真、两侧为否；
// retake 为 nil 时整段保持为真
func FillRetakeRegion(mask []bool, retake *api.Retake, frameWidth float64, targetLen, offset int64) {
	region := mask[offset : offset+targetLen]
	for i := range region {
		region[i] = true
	}
	if retake == nil {
		return
	}
	s := retakeFrame(retake.Start, frameWidth, targetLen, 0)
	e := retakeFrame(retake.End, frameWidth, targetLen, targetLen)
	if s == e {
		for i := range region {
			region[i] = false
		}
		return
	}
	if s < e {
		for i := int64(0); i < s; i++ {
			region[i] = false
		}
		for i := e; i < targetLen; i++ {
			region[i] = false
		}
	}
}

// BuildRetakeMask 构建长度为 targetLen 的重新生成掩码
func BuildRetakeMask(retake *api.Retake, frameWidth float64, targetLen int64) []bool {
	mask := make([]bool, targetLen)
	FillRetakeRegion(mask, retake, frameWidth, targetLen, 0)
	return mask
}
