package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lvdashuaibi/luckydraw/config"
	"github.com/lvdashuaibi/luckydraw/internal/model"
	"github.com/phuslu/log"
	"github.com/segmentio/kafka-go"
)

// Consumer 每个实例独立读取全部分区，不使用消费者组
type Consumer struct {
	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type MessageHandler func(ctx context.Context, event model.ChangeEvent)

func NewConsumer(cfg config.KafkaConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置Kafka节点")
	}

	ctx, cancel := context.WithCancel(context.Background())

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	conn, err := kafka.DialLeader(dialCtx, "tcp", cfg.Brokers[0], cfg.Topic, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}

	// 每个分区一个reader，只消费启动之后的事件
	var readers []*kafka.Reader
	for _, p := range partitions {
		if p.Topic != cfg.Topic {
			continue
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			Partition:   p.ID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6, // 10MB
			MaxWait:     100 * time.Millisecond,
		})
		readers = append(readers, reader)
	}

	if len(readers) == 0 {
		cancel()
		return nil, fmt.Errorf("Kafka主题 %s 没有分区", cfg.Topic)
	}
	log.Info().Str("topic", cfg.Topic).Int("readers", len(readers)).Msg("创建Kafka分区消费者")

	return &Consumer{
		readers: readers,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// StartConsuming 开始消费消息，每个分区一个goroutine
func (c *Consumer) StartConsuming(handler MessageHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r *kafka.Reader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}

	log.Info().Int("workers", len(c.readers)).Msg("已启动Kafka消费者")
}

func (c *Consumer) consumeMessages(workerID int, reader *kafka.Reader, handler MessageHandler) {
	for {
		m, err := reader.ReadMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || c.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Int("worker", workerID).Msg("读取消息失败")
			time.Sleep(time.Second)
			continue
		}

		event, err := decodeEvent(m.Value)
		if err != nil {
			log.Warn().Err(err).Int("worker", workerID).Int64("offset", m.Offset).Msg("解析消息失败")
			continue
		}
		handler(c.ctx, event)
	}
}

func decodeEvent(data []byte) (model.ChangeEvent, error) {
	var event model.ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("解析变更事件失败: %w", err)
	}
	if event.Collection == "" {
		return event, fmt.Errorf("变更事件缺少集合名")
	}
	return event, nil
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	for i, reader := range c.readers {
		if err := reader.Close(); err != nil {
			log.Warn().Err(err).Int("worker", i).Msg("关闭消费者失败")
		}
	}

	log.Info().Msg("所有Kafka消费者已停止")
	return nil
}
