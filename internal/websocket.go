package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub WebSocket 連線樞紐
//
// 系統設計問題：對局事件如何送達兩端的瀏覽器？
//
// 核心挑戰：
//  1. 連線生命週期 - 連上、驗證、繫結對局、斷開，
//     每一步的狀態都要可追蹤
//  2. 跨實例投遞 - 兩位玩家可能連在不同實例，事件走匯流排
//     繞一圈再各自落地到本地連線
//  3. 寫入競爭 - gorilla/websocket 同一條連線只允許一個寫入者，
//     所有出站訊息經由單一寫入迴圈排隊
//
// 設計方案：
//   - 每場對局一個房間，首位連線繫結時訂閱該對局的
//     萬用字元主題，最後一位離開時退訂
//   - 讀寫分離雙迴圈（read pump / write pump），心跳
//     ping/pong 偵測死連線
type Hub struct {
	broadcaster Broadcaster
	engine      *Engine
	presence    *Presence
	chat        *ChatService
	verifier    Verifier
	store       Store
	logger      *slog.Logger

	mu    sync.Mutex
	rooms map[string]*gameRoom
}

type gameRoom struct {
	conns       map[*Conn]struct{}
	unsubscribe func()
}

// NewHub 創建連線樞紐
func NewHub(broadcaster Broadcaster, engine *Engine, presence *Presence, chat *ChatService, verifier Verifier, store Store, logger *slog.Logger) *Hub {
	return &Hub{
		broadcaster: broadcaster,
		engine:      engine,
		presence:    presence,
		chat:        chat,
		verifier:    verifier,
		store:       store,
		logger:      logger,
		rooms:       make(map[string]*gameRoom),
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 瀏覽器客戶端的來源由部署層的反向代理把關
	CheckOrigin: func(r *http.Request) bool { return true },
}

// 連線狀態機：connecting → authenticated → bound → closed
type connState int

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateBound
	stateClosed
)

// Conn 單一 WebSocket 連線
type Conn struct {
	hub    *Hub
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	mu           sync.Mutex
	state        connState
	connectionID string
	username     string
	gameID       string
	sessionToken string
}

// 入站訊框
type inboundFrame struct {
	Type         string `json:"type"`
	Token        string `json:"token,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
	Message      string `json:"message,omitempty"`
}

// 出站訊框：事件類型取主題最後一段
type outboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServeWS 處理 WebSocket 升級
//
// 握手不強制憑證：標頭帶了有效憑證就直接進入已驗證狀態，
// 沒帶或無效也先把連線接起來，驗證走後續的 connect 訊框
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	conn := &Conn{
		hub:          h,
		ws:           ws,
		send:         make(chan []byte, 64),
		done:         make(chan struct{}),
		logger:       h.logger,
		state:        stateConnecting,
		connectionID: uuid.NewString(),
	}

	if authHeader != "" {
		if username, err := h.verifier.Verify(authHeader); err == nil {
			conn.state = stateAuthenticated
			conn.username = username
		}
	}

	conn.sendFrame("hello", map[string]string{"connectionId": conn.connectionID})

	go conn.writePump()
	go conn.readPump()
}

// bind 把已繫結對局的連線掛進房間
func (h *Hub) bind(conn *Conn, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[gameID]
	if !ok {
		room = &gameRoom{conns: make(map[*Conn]struct{})}
		unsubscribe, err := h.broadcaster.Subscribe(TopicGameAll(gameID), func(topic string, data []byte) {
			h.fanout(gameID, topic, data)
		})
		if err != nil {
			h.logger.Error("room subscribe failed",
				slog.String("game_id", gameID),
				slog.Any("error", err))
		} else {
			room.unsubscribe = unsubscribe
		}
		h.rooms[gameID] = room
	}
	room.conns[conn] = struct{}{}
}

// unbind 移除連線，房間清空時退訂主題
func (h *Hub) unbind(conn *Conn, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[gameID]
	if !ok {
		return
	}
	delete(room.conns, conn)
	if len(room.conns) == 0 {
		if room.unsubscribe != nil {
			room.unsubscribe()
		}
		delete(h.rooms, gameID)
	}
}

// fanout 把匯流排事件派送到房間內所有本地連線
func (h *Hub) fanout(gameID, topic string, data []byte) {
	eventType := topic[strings.LastIndexByte(topic, '.')+1:]
	frame, err := json.Marshal(outboundFrame{Type: eventType, Data: data})
	if err != nil {
		h.logger.Error("fanout marshal failed", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[gameID]
	if !ok {
		h.mu.Unlock()
		return
	}
	conns := make([]*Conn, 0, len(room.conns))
	for c := range room.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		select {
		case c.send <- frame:
		case <-c.done:
		default:
			// 寫入佇列塞滿代表客戶端讀不動了，放棄這條連線
			go c.close()
		}
	}
}

// readPump 讀取迴圈，連線的入站訊框逐一處理
func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error",
					slog.String("connection_id", c.connectionID),
					slog.Any("error", err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.handleFrame(frame)
	}
}

// writePump 寫入迴圈，唯一的連線寫入者
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleFrame 依連線狀態分派入站訊框
func (c *Conn) handleFrame(frame inboundFrame) {
	ctx := context.Background()

	switch frame.Type {
	case "connect":
		c.handleConnect(ctx, frame)
	case "wrong_guess":
		username, gameID, ok := c.boundIdentity()
		if !ok {
			c.sendError("not bound to a game")
			return
		}
		if _, err := c.hub.engine.RecordWrongGuess(ctx, gameID, username); err != nil {
			c.sendError(err.Error())
		}
	case "chat":
		username, gameID, ok := c.boundIdentity()
		if !ok {
			c.sendError("not bound to a game")
			return
		}
		if err := c.hub.chat.SendMessage(ctx, gameID, username, frame.Message); err != nil {
			c.sendError(err.Error())
		}
	default:
		c.sendError("unknown frame type")
	}
}

// handleConnect 驗證憑證並把連線繫結到對局
//
// 握手階段已驗證過的連線可以不帶憑證，沿用既有身份
func (c *Conn) handleConnect(ctx context.Context, frame inboundFrame) {
	var username string
	if frame.Token != "" {
		verified, err := c.hub.verifier.Verify(frame.Token)
		if err != nil {
			c.sendError("authentication failed")
			return
		}
		username = verified
	} else {
		c.mu.Lock()
		if c.state == stateAuthenticated || c.state == stateBound {
			username = c.username
		}
		c.mu.Unlock()
		if username == "" {
			c.sendError("authentication required")
			return
		}
	}

	c.mu.Lock()
	c.state = stateAuthenticated
	c.username = username
	c.mu.Unlock()

	if frame.SessionToken == "" {
		c.sendFrame("connected", map[string]string{"username": username})
		return
	}

	game, err := c.hub.store.FindBySessionToken(ctx, frame.SessionToken)
	if err != nil {
		c.sendError("unknown session token")
		return
	}
	if !game.HasPlayer(username) {
		c.sendError("session does not belong to player")
		return
	}

	c.mu.Lock()
	c.state = stateBound
	c.gameID = game.ID
	c.sessionToken = frame.SessionToken
	c.mu.Unlock()

	c.hub.presence.Track(frame.SessionToken, username)
	c.hub.bind(c, game.ID)

	c.sendFrame("connected", map[string]string{
		"username": username,
		"gameId":   game.ID,
	})
}

// boundIdentity 取出已繫結連線的玩家與對局
func (c *Conn) boundIdentity() (username, gameID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateBound {
		return "", "", false
	}
	return c.username, c.gameID, true
}

// close 收斂連線：解除繫結、觸發斷線判負
//
// 讀寫迴圈都可能走到這裡，用狀態機保證只收斂一次；
// send 通道永不關閉，發送方以 done 判斷連線已死
func (c *Conn) close() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	prevState := c.state
	gameID := c.gameID
	sessionToken := c.sessionToken
	c.state = stateClosed
	c.mu.Unlock()

	close(c.done)

	if prevState == stateBound {
		c.hub.unbind(c, gameID)
		c.hub.presence.HandleDisconnect(context.Background(), sessionToken)
	}

	c.ws.Close()
}

// sendFrame 排入一則出站訊框
func (c *Conn) sendFrame(frameType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("frame marshal failed", slog.Any("error", err))
		return
	}
	frame, err := json.Marshal(outboundFrame{Type: frameType, Data: data})
	if err != nil {
		return
	}

	select {
	case c.send <- frame:
	case <-c.done:
	default:
	}
}

func (c *Conn) sendError(message string) {
	c.sendFrame("error", map[string]string{"message": message})
}
