package agent

import "context"

// Engine 实时语音会话引擎（外部协作方）。
// 协调器只向它发出"可以交出通话"的信号，并接收"有参与者进入房间"的回调。
type Engine interface {
	// Start 启动媒体会话，非阻塞。instructions是本通电话的坐席话术指令
	Start(ctx context.Context, instructions string) error
	// Close 关闭会话，AI坐席退出房间
	Close(ctx context.Context) error
	// Hangup 结束整通电话（删除媒体房间）
	Hangup(ctx context.Context) error
	// OnParticipantJoined 注册参与者进入房间的回调，须在Start之前调用
	OnParticipantJoined(fn func(identity string))
}
