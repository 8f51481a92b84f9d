package errs

// 中继相关错误码；4xxx 连接域，5xxx 基础设施域
const (
	CodeUnboundConnection = 4001
	CodeDuplicateBinding  = 4002
	CodeUnknownConnection = 4003
	CodeRoomFull          = 4101
	CodeNotRoomMember     = 4102
	CodeNoPermission      = 4103
	CodeBackplanePublish  = 5001
	CodePresenceStore     = 5002
	CodePersistence       = 5003
)

var (
	// ErrUnboundConnection 握手未完成前到达业务事件，连接将被关闭
	ErrUnboundConnection = NewCodeError(CodeUnboundConnection, "connection not bound to a user")
	// ErrDuplicateBinding 二次绑定用户，拒绝但保留连接
	ErrDuplicateBinding = NewCodeError(CodeDuplicateBinding, "connection already bound")
	// ErrUnknownConnection 对未登记的连接做操作，记日志后忽略
	ErrUnknownConnection = NewCodeError(CodeUnknownConnection, "connection not registered")

	ErrRoomFull      = NewCodeError(CodeRoomFull, "room is full")
	ErrNotRoomMember = NewCodeError(CodeNotRoomMember, "sender not a member of room")
	ErrNoPermission  = NewCodeError(CodeNoPermission, "no permission")

	ErrBackplanePublish = NewCodeError(CodeBackplanePublish, "backplane publish failed")
	ErrPresenceStore    = NewCodeError(CodePresenceStore, "presence store unavailable")
	ErrPersistence      = NewCodeError(CodePersistence, "persistence failed")
)
