package transport

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte)

// Events 连接生命周期回调（由连接注册表安装）
// 未设置的回调被忽略
type Events struct {
	OnOpen         func()          // 连接建立成功
	OnClose        func(err error) // 连接断开（主动或被动）
	OnError        func(err error) // 传输层错误
	OnOffline      func()          // 设备离线
	OnReconnecting func()          // 传输层开始重连（仅部分实现会触发）
}

// Client 单设备双向发布/订阅通道
type Client interface {
	// Connect 建立连接（阻塞直到成功或失败，调用方负责异步化）
	Connect() error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Unsubscribe(topics ...string) error
	Disconnect()
	IsConnected() bool
}

// Options 单设备连接参数
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Factory 按设备创建传输层客户端
type Factory func(opts Options, events Events) (Client, error)
