package transport

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttClient MQTT客户端封装（每设备一个连接）
type mqttClient struct {
	client mqtt.Client
}

// NewMQTTClient 创建单设备MQTT客户端
// 关闭paho自动重连：退避与重连由连接注册表统一管理
func NewMQTTClient(o Options, events Events) (Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}

	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		if events.OnOpen != nil {
			events.OnOpen()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if events.OnClose != nil {
			events.OnClose(err)
		}
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		if events.OnReconnecting != nil {
			events.OnReconnecting()
		}
	})

	return &mqttClient{client: mqtt.NewClient(opts)}, nil
}

// Connect 建立连接
func (c *mqttClient) Connect() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Subscribe 订阅主题
func (c *mqttClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Publish 发布消息
func (c *mqttClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Unsubscribe 取消订阅
func (c *mqttClient) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Disconnect 断开连接
func (c *mqttClient) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// IsConnected 检查连接状态
func (c *mqttClient) IsConnected() bool {
	return c.client.IsConnected()
}
