package graph

import (
	"context"
	"errors"
	"net/http"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/luckydraw/internal/service"
)

var ErrNoDevice = errors.New("缺少设备标识")

type deviceKey struct{}

// WithDevice 在请求上下文中记录设备标识
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceKey{}, device)
}

func DeviceFromContext(ctx context.Context) string {
	device, _ := ctx.Value(deviceKey{}).(string)
	return device
}

// GraphQLServer GraphQL服务器
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

// NewGraphQLServer 创建新的GraphQL服务器
func NewGraphQLServer(svc *service.EventService) *GraphQLServer {
	resolver := NewResolver(svc)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	return &GraphQLServer{
		schema:   schema,
		handler:  &relay.Handler{Schema: schema},
		resolver: resolver,
	}
}

func (s *GraphQLServer) Schema() *graphql.Schema {
	return s.schema
}

// ServeHTTP 处理GraphQL请求
func (s *GraphQLServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// PlaygroundHTML GraphQL Playground 页面
func PlaygroundHTML(endpoint string) []byte {
	return []byte(`<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Lucky Draw GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root"></div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '` + endpoint + `',
        settings: { 'request.credentials': 'include' }
      })
    })</script>
</body>
</html>
`)
}
