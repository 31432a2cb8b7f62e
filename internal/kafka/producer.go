package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lvdashuaibi/luckydraw/config"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/lvdashuaibi/luckydraw/internal/store"
	"github.com/phuslu/log"
	"github.com/segmentio/kafka-go"
)

// Producer 把集合变更事件广播给所有实例
type Producer struct {
	writer         *kafka.Writer
	partitionCount int // 主题的分区数量
	// fallback 发送失败时直接通知本实例
	fallback store.Notifier
}

func NewProducer(cfg config.KafkaConfig, fallback store.Notifier) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置Kafka节点")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}

	log.Info().Str("topic", cfg.Topic).Int("partitions", countPartitions(partitions, cfg.Topic)).Msg("生产者检测到Kafka主题分区")

	// 同一集合的事件进入同一分区，保持顺序
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer:         writer,
		partitionCount: countPartitions(partitions, cfg.Topic),
		fallback:       fallback,
	}, nil
}

func countPartitions(partitions []kafka.Partition, topic string) int {
	n := 0
	for _, p := range partitions {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

// Notify 实现 store.Notifier
func (p *Producer) Notify(ctx context.Context, event model.ChangeEvent) {
	if err := p.SendChangeEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("collection", event.Collection).Msg("发送变更事件失败，改为本地通知")
		if p.fallback != nil {
			p.fallback.Notify(ctx, event)
		}
	}
}

// SendChangeEvent 发送变更事件到Kafka
func (p *Producer) SendChangeEvent(ctx context.Context, event model.ChangeEvent) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("发送变更事件失败: %w", err)
	}
	return nil
}

func encodeEvent(event model.ChangeEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("序列化变更事件失败: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.Collection),
		Value: data,
		Time:  event.At,
	}, nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
