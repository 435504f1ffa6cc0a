// Package svs 提供歌声合成推理引擎的 ONNX 运行时初始化入口
package svs

import (
	"fmt"
	"runtime"
	"strings"

	ort "github.com/getcharzp/onnxruntime_purego"
)

// ExecutionProvider ONNX 执行后端
type ExecutionProvider string

const (
	// EPCPU CPU 后端
	EPCPU ExecutionProvider = "cpu"
	// EPDirectML DirectML 后端 (Windows)
	EPDirectML ExecutionProvider = "dml"
	// EPCUDA CUDA 后端
	EPCUDA ExecutionProvider = "cuda"
	// EPCoreML CoreML 后端 (macOS)
	EPCoreML ExecutionProvider = "coreml"
)

// ParseExecutionProvider 解析执行后端名称，大小写不敏感，未知名称回退为 CPU
func ParseExecutionProvider(s string) ExecutionProvider {
	switch strings.ToLower(s) {
	case "dml", "directml":
		return EPDirectML
	case "cuda":
		return EPCUDA
	case "coreml":
		return EPCoreML
	default:
		return EPCPU
	}
}

// OnnxConfig 定义 ONNX 运行时的配置参数
type OnnxConfig struct {
	// 动态库路径，为空时 New 取 DefaultLibraryPath()
	OnnxRuntimeLibPath string // onnxruntime.dll (或 .so, .dylib) 的路径

	// 可选参数
	ExecutionProvider ExecutionProvider // (可选) 执行后端，默认 CPU
	DeviceIndex       int               // (可选) GPU 设备序号
	NumThreads        int               // (可选) ONNX 线程数, 默认由CPU核心数决定
	EnableCpuMemArena bool              // (可选) 是否启用内存池

	// 初始化后可用
	OnnxEngine     *ort.Engine
	SessionOptions *ort.SessionOptions
}

// DefaultLibraryPath 返回当前平台下默认的 onnxruntime 动态库路径
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./lib/onnxruntime.dll"
	case "darwin":
		return "./lib/libonnxruntime.dylib"
	default:
		return "./lib/libonnxruntime.so"
	}
}

// New 初始化 ONNX 运行时
func (c *OnnxConfig) New() error {
	if c.OnnxRuntimeLibPath == "" {
		c.OnnxRuntimeLibPath = DefaultLibraryPath()
	}

	engine, err := ort.NewEngine(c.OnnxRuntimeLibPath)
	if err != nil {
		return fmt.Errorf("加载 onnxruntime 动态库失败: %w", err)
	}

	opts, err := engine.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("创建 SessionOptions 失败: %w", err)
	}
	if c.NumThreads > 0 {
		opts.SetIntraOpNumThreads(int32(c.NumThreads))
	}
	opts.SetCpuMemArena(c.EnableCpuMemArena)

	// 执行后端，追加失败时回退为 CPU 由调用方决定是否容忍
	switch c.ExecutionProvider {
	case EPDirectML:
		if err := opts.AppendExecutionProvider("DML", c.DeviceIndex); err != nil {
			return fmt.Errorf("启用 DirectML 失败: %w", err)
		}
	case EPCUDA:
		if err := opts.AppendExecutionProvider("CUDA", c.DeviceIndex); err != nil {
			return fmt.Errorf("启用 CUDA 失败: %w", err)
		}
	case EPCoreML:
		if err := opts.AppendExecutionProvider("CoreML", c.DeviceIndex); err != nil {
			return fmt.Errorf("启用 CoreML 失败: %w", err)
		}
	default:
		// CPU 无需追加
	}

	c.OnnxEngine = engine
	c.SessionOptions = opts
	return nil
}
