// Package main 提供 go-svs 命令行入口
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/up-zero/gotool/convertutil"

	svs "github.com/getcharzp/go-svs"
	"github.com/getcharzp/go-svs/parse"
	"github.com/getcharzp/go-svs/pipeline"
	"github.com/getcharzp/go-svs/session"
)

// envConfig 环境变量配置
type envConfig struct {
	// OnnxRuntimeLibPath onnxruntime 动态库路径
	OnnxRuntimeLibPath string `env:"SVS_ONNXRUNTIME_LIB"`
	// LogLevel 日志级别 (debug/info/warn/error)
	LogLevel string `env:"SVS_LOG_LEVEL" envDefault:"info"`
}

var rootCmd = &cobra.Command{
	Use:   "go-svs PACKAGE INPUT OUTPUT_WAV [EP] [DEVICE_INDEX]",
	Short: "歌声合成推理引擎",
	Long: "go-svs 读取歌手包与乐谱输入文档，依次执行时长、音高、唱法参数、\n" +
		"声学与声码器推理，输出单声道 32 位浮点 WAV。",
	Args:          cobra.RangeArgs(3, 5),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          execute,
}

func execute(_ *cobra.Command, args []string) error {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}
	if level, err := log.ParseLevel(envCfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	packagePath := args[0]
	inputPath := args[1]
	outputPath := args[2]

	ep := svs.EPCPU
	if len(args) >= 4 {
		ep = svs.ParseExecutionProvider(args[3])
	}
	deviceIndex := 0
	if len(args) >= 5 {
		if _, err := fmt.Sscanf(args[4], "%d", &deviceIndex); err != nil {
			deviceIndex = 0
		}
	}

	// 读取输入文档
	inputBytes, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("读取输入文件 %q 失败: %w", inputPath, err)
	}
	doc, err := parse.ParseInputDocument(inputBytes)
	if err != nil {
		return fmt.Errorf("解析输入文件 %q 失败: %w", inputPath, err)
	}

	// 初始化 ONNX 运行时
	onnxConfig := new(svs.OnnxConfig)
	if err := convertutil.CopyProperties(envCfg, onnxConfig); err != nil {
		return fmt.Errorf("复制参数失败: %w", err)
	}
	onnxConfig.ExecutionProvider = ep
	onnxConfig.DeviceIndex = deviceIndex

	driver, err := session.NewOnnxDriver(onnxConfig)
	if err != nil {
		return err
	}

	p := pipeline.New(driver, log.Default())
	return p.Run(packagePath, doc, outputPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// 参数个数错误属于用法错误，退出码 1；其余失败退出码 -1
		if isUsageError(err) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, rootCmd.UsageString())
			os.Exit(1)
		}
		log.Error("合成失败", "err", err)
		os.Exit(-1)
	}
}

// isUsageError 判断是否为参数用法错误（cobra 的参数个数校验）
func isUsageError(err error) bool {
	return strings.HasPrefix(err.Error(), "accepts ")
}
