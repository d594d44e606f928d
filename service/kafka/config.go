package kafka

import "github.com/Shopify/sarama"

// Config 连接与 topic 参数，由 global.AppConfig 填充
type Config struct {
	Brokers               []string
	GroupID               string
	InboundTopic          string // 入站事件
	ReadyTopic            string // message.ready 通知
	PartitionsPerTopic    int32  // 单机=1~8；生产按吞吐评估
	ReplicationFactor     int16  // 单机=1；生产=3
	ProducerRetries       int
	ProducerCompression   string // none/snappy/lz4/zstd
	ConsumerInitialOffset string // newest/oldest
	KafkaVersion          sarama.KafkaVersion
	AutoCreateTopics      bool
}

// DefaultConfig 单机默认值
func DefaultConfig() Config {
	return Config{
		Brokers:               []string{"127.0.0.1:9092"},
		GroupID:               "warelay-inbound",
		InboundTopic:          "wa.inbound",
		ReadyTopic:            "wa.message.ready",
		PartitionsPerTopic:    8,
		ReplicationFactor:     1,
		ProducerRetries:       5,
		ProducerCompression:   "snappy",
		ConsumerInitialOffset: "newest",
		KafkaVersion:          sarama.V2_1_0_0,
		AutoCreateTopics:      true,
	}
}
