// Package session 封装后端模型会话，推理阶段只依赖此处的接口
package session

import "github.com/getcharzp/go-svs/tensor"

// Session 单个模型会话。Open 后可多次 Run，Stop 请求终止，Close 释放资源
type Session interface {
	// Open 加载模型文件
	Open(modelPath string) error
	// IsOpen 会话是否可用
	IsOpen() bool
	// Run 以名称到张量的映射作为输入执行一次推理，
	// 返回 outputNames 中列出的输出张量
	Run(inputs map[string]*tensor.Tensor, outputNames []string) (map[string]*tensor.Tensor, error)
	// Stop 请求终止会话，返回会话是否接受了该请求
	Stop() bool
	// Close 释放会话资源
	Close() error
}

// Driver 会话工厂，每个推理阶段通过它创建自己的会话
type Driver interface {
	NewSession() Session
}
