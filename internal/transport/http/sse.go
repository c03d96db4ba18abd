package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zmcp/odata-mcp/internal/metrics"
	"github.com/zmcp/odata-mcp/internal/transport"
)

const keepaliveInterval = 30 * time.Second

// SSETransport implements Transport over HTTP: a POST /rpc request-response
// endpoint and a GET /sse event stream for server-initiated notifications,
// routed through gin so /metrics can share the same engine (spec §4.6).
type SSETransport struct {
	addr    string
	server  *http.Server
	handler transport.Handler
	clients map[string]*sseClient
	mu      sync.RWMutex
}

type sseClient struct {
	id      string
	events  chan []byte
	done    chan struct{}
	flusher http.Flusher
}

// NewSSE creates an HTTP transport bound to addr. A non-loopback addr is
// accepted (the caller is responsible for having warned the operator — see
// cmd/odata-mcp's explicit-override flag); this type does not itself refuse
// to bind.
func NewSSE(addr string, handler transport.Handler) *SSETransport {
	return &SSETransport{
		addr:    addr,
		handler: handler,
		clients: make(map[string]*sseClient),
	}
}

// Start builds the gin engine, registers routes, and serves until ctx is
// cancelled.
func (t *SSETransport) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.Middleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", metrics.Handler())
	engine.GET("/sse", t.handleSSE)
	engine.POST("/sse", t.handleSSE)
	engine.POST("/rpc", t.handleRPC)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return t.Close()
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	}
}

// handleSSE upgrades a GET to an event stream; a POST on the same path is
// treated as a one-shot message delivery that still keeps no stream open
// (the caller expects a synchronous reply, which handleRPC serves instead).
func (t *SSETransport) handleSSE(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		t.handleRPC(c)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	client := &sseClient{
		id:      uuid.NewString(),
		events:  make(chan []byte, 16),
		done:    make(chan struct{}),
		flusher: flusher,
	}

	t.mu.Lock()
	t.clients[client.id] = client
	t.mu.Unlock()

	t.sendEvent(client, "connection", map[string]string{"clientId": client.id})

	defer func() {
		t.mu.Lock()
		delete(t.clients, client.id)
		t.mu.Unlock()
		close(client.done)
	}()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-client.events:
			fmt.Fprintf(c.Writer, "data: %s\n\n", event)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// handleRPC serves one synchronous JSON-RPC request-response cycle.
func (t *SSETransport) handleRPC(c *gin.Context) {
	var msg transport.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := t.handler(c.Request.Context(), &msg)
	if err != nil {
		response = &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error:   &transport.Error{Code: -32603, Message: err.Error()},
		}
	}
	if response == nil {
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (t *SSETransport) sendEvent(client *sseClient, eventType string, data interface{}) {
	event := map[string]interface{}{"type": eventType, "data": data}
	eventData, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case client.events <- eventData:
	default:
	}
}

// BroadcastMessage sends a message to every connected SSE client.
func (t *SSETransport) BroadcastMessage(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, client := range t.clients {
		select {
		case client.events <- data:
		default:
		}
	}
	return nil
}

// ReadMessage is unused by the HTTP transport; requests arrive per-connection
// through handleRPC/handleSSE instead of a shared read loop.
func (t *SSETransport) ReadMessage() (*transport.Message, error) {
	return nil, fmt.Errorf("ReadMessage not implemented for HTTP/SSE transport")
}

// WriteMessage broadcasts a server-initiated notification to all SSE clients.
func (t *SSETransport) WriteMessage(msg *transport.Message) error {
	return t.BroadcastMessage(msg)
}

// Close gracefully shuts down the HTTP server.
func (t *SSETransport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}
