package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/lvdashuaibi/luckydraw/internal/feed"
	"github.com/phuslu/log"
)

// serveFeed 建立websocket连接并订阅 ?topic= 指定的主题
// 主题为集合名或引擎状态主题，每次变化推送完整快照
func (s *Server) serveFeed(c *gin.Context) {
	topics := c.QueryArray("topic")
	if len(topics) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "至少需要一个topic参数"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket升级失败")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan feed.Message, sendBuffer)
	deliver := func(m feed.Message) {
		select {
		case <-ctx.Done():
		case out <- m:
		default:
			log.Warn().Str("topic", m.Topic).Msg("推送缓冲已满，丢弃消息")
		}
	}

	var unsubs []func()
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()
	for _, topic := range topics {
		unsub, err := s.svc.Hub().Subscribe(c.Request.Context(), topic, deliver)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("订阅失败")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
				time.Now().Add(writeWait))
			return
		}
		unsubs = append(unsubs, unsub)
	}

	// 客户端不发送业务消息，读循环只用于感知断开
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-out:
			data, err := json.Marshal(m)
			if err != nil {
				log.Error().Err(err).Str("topic", m.Topic).Msg("序列化推送消息失败")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("websocket写入失败")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
