package web

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/lvdashuaibi/luckydraw/internal/api/graph"
	"github.com/lvdashuaibi/luckydraw/internal/service"
	"github.com/phuslu/log"
)

const (
	sessionName = "luckydraw"
	deviceKey   = "device"

	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	// 单个连接的推送缓冲，写满后丢弃新消息
	sendBuffer = 64
	maxUpload  = 4 << 20
)

type Options struct {
	GraphQLPath string
	SessionKey  string
	// 调试模式下跨域允许任意来源的websocket连接
	AllowAnyOrigin bool
}

// Server HTTP入口：GraphQL、实时推送与导入导出
type Server struct {
	svc      *service.EventService
	graphql  *graph.GraphQLServer
	sessions *sessions.CookieStore
	upgrader websocket.Upgrader
	opts     Options
}

func NewServer(svc *service.EventService, gql *graph.GraphQLServer, opts Options) *Server {
	if opts.GraphQLPath == "" {
		opts.GraphQLPath = "/graphql"
	}
	cookies := sessions.NewCookieStore([]byte(opts.SessionKey))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	s := &Server{
		svc:      svc,
		graphql:  gql,
		sessions: cookies,
		opts:     opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if opts.AllowAnyOrigin {
		s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return s
}

// Router 注册全部路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(s.deviceMiddleware())

	r.GET("/", s.playground)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST(s.opts.GraphQLPath, s.serveGraphQL)
	r.GET(s.opts.GraphQLPath, s.serveGraphQL)
	r.GET("/ws", s.serveFeed)

	api := r.Group("/api")
	api.POST("/participants/import", s.importParticipants)
	api.GET("/export/winners.xlsx", s.exportWinners)
	return r
}

// deviceMiddleware 为每个浏览器分配持久的设备标识，用于限流与授权缓存
func (s *Server) deviceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := s.sessions.Get(c.Request, sessionName)
		if err != nil {
			// 签名密钥变化后旧Cookie无法解码，重新分配
			log.Debug().Err(err).Msg("设备Cookie解码失败")
		}

		device, _ := session.Values[deviceKey].(string)
		if device == "" {
			device = uuid.NewString()
			session.Values[deviceKey] = device
			if err := session.Save(c.Request, c.Writer); err != nil {
				log.Warn().Err(err).Msg("保存设备Cookie失败")
			}
		}

		c.Set(deviceKey, device)
		c.Request = c.Request.WithContext(graph.WithDevice(c.Request.Context(), device))
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP请求")
	}
}

func (s *Server) playground(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", graph.PlaygroundHTML(s.opts.GraphQLPath))
}

func (s *Server) serveGraphQL(c *gin.Context) {
	s.graphql.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) importParticipants(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)

	var body []byte
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("读取上传文件失败: %v", err)})
			return
		}
		defer f.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(f); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("读取上传文件失败: %v", err)})
			return
		}
		body = buf.Bytes()
	} else {
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(c.Request.Body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("读取请求体失败: %v", err)})
			return
		}
		body = buf.Bytes()
	}

	added, err := s.svc.ImportParticipantsCSV(c.Request.Context(), bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (s *Server) exportWinners(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.svc.ExportWinnersXLSX(c.Request.Context(), &buf); err != nil {
		log.Error().Err(err).Msg("导出中奖名单失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="winners.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
