package conn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"

	"github.com/0x941689/showdog-fourmeme-local-api/internal/config"
)

// Dialer builds a fresh transport for the endpoint.
type Dialer func(ctx context.Context, ep config.Endpoint) (Transport, error)

type ethTransport struct {
	*ethclient.Client
	rc        *rpc.Client
	streaming bool
}

func (t *ethTransport) Streaming() bool { return t.streaming }

func (t *ethTransport) Terminate() { t.rc.Close() }

func (t *ethTransport) Close() { t.rc.Close() }

// Dial connects over websocket for streaming endpoints, plain HTTP otherwise.
func Dial(ctx context.Context, ep config.Endpoint) (Transport, error) {
	var opts []rpc.ClientOption
	if ep.Streaming {
		opts = append(opts, rpc.WithWebsocketDialer(websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
			ReadBufferSize:    1 << 14,
			WriteBufferSize:   1 << 14,
		}))
	} else {
		opts = append(opts, rpc.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
	}

	rc, err := rpc.DialOptions(ctx, ep.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.URL, err)
	}
	return &ethTransport{Client: ethclient.NewClient(rc), rc: rc, streaming: ep.Streaming}, nil
}
