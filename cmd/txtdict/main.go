// Package main 提供发音字典检查工具：加载字典、打印首尾词条、查询指定键，
// 可重复加载以测量耗时
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/getcharzp/go-svs/dict"
)

var rootCmd = &cobra.Command{
	Use:           "txtdict DICT [COUNT] [KEYS...]",
	Short:         "发音字典检查工具",
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          execute,
}

func execute(_ *cobra.Command, args []string) error {
	path := args[0]
	count := 1
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			count = n
		}
	}

	start := time.Now()
	dicts := make([]*dict.PhonemeDict, count)
	for i := range dicts {
		dicts[i] = dict.New()
		if err := dicts[i].Load(path); err != nil {
			return fmt.Errorf("读取字典 %q 失败: %w", path, err)
		}
	}
	log.Info("加载完成", "count", count, "entries", dicts[0].Size(),
		"elapsed", time.Since(start))

	// 首尾各 10 条
	fmt.Printf("字典 %q 的前 10 条:\n", path)
	printed := 0
	dicts[0].Entries(func(key string, phones dict.PhonemeList) bool {
		fmt.Printf("%s: %s\n", key, strings.Join(phones.Vec(), " "))
		printed++
		return printed < 10
	})
	fmt.Println()

	fmt.Printf("字典 %q 的后 10 条:\n", path)
	printed = 0
	dicts[0].EntriesReverse(func(key string, phones dict.PhonemeList) bool {
		fmt.Printf("%s: %s\n", key, strings.Join(phones.Vec(), " "))
		printed++
		return printed < 10
	})
	fmt.Println()

	// 查询指定键
	for _, key := range args[2:] {
		if phones, ok := dicts[0].Find(key); ok {
			fmt.Printf("%s: %s\n", key, strings.Join(phones.Vec(), " "))
		} else {
			fmt.Printf("%s: NOT FOUND\n", key)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("执行失败", "err", err)
		os.Exit(-1)
	}
}
