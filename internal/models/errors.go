package models

import "errors"

// 类型化错误（调用方用 errors.Is 判断）
var (
	// ErrDeviceNotFound 操作引用了未注册的设备
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceNotOnline 设备未在线时尝试下发命令
	ErrDeviceNotOnline = errors.New("device not online")

	// ErrThresholdInvalid 阈值带顺序不合法
	ErrThresholdInvalid = errors.New("invalid alert threshold ordering")

	// ErrReconnectExhausted 重连次数耗尽，需人工介入
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)
