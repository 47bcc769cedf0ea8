package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub owns the persistent websocket connections and the room-scoped fan-out.
// A connection belongs to at most one room at a time; its session context
// (match, user, name) is established by the join-game event and every later
// event is interpreted against it.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	rooms      *RoomService
	handlers   map[string]eventHandler
}

type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte

	// Session context, bound on join-game. Written under hub.mutex because
	// the broadcast path reads roomID from other goroutines.
	matchID     uint
	userID      uint
	playerName  string
	roomID      string
	isSpectator bool
}

type eventHandler func(c *Client, payload json.RawMessage)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(rooms *RoomService) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      rooms,
	}

	// One dispatch table for every inbound event, so session checks and error
	// reporting are applied uniformly instead of per handler.
	h.handlers = map[string]eventHandler{
		"join-game":          h.handleJoinGame,
		"make-move":          h.handleMakeMove,
		"request-hint":       h.handleRequestHint,
		"set-ready":          h.handleSetReady,
		"surrender":          h.handleSurrender,
		"send-message":       h.handleSendMessage,
		"request-game-state": h.handleRequestGameState,
		"ping":               h.handlePing,
	}

	return h
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Client registered: %s - Total clients: %d", client.id, total)

		case client := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()

			if ok {
				log.Printf("Client unregistered: %s (user %d) - Total clients: %d", client.id, client.userID, total)
				if client.roomID != "" {
					h.rooms.LeaveRoom(context.Background(), client.matchID, client.userID, client.id, h)
				}
			}
		}
	}
}

// Broadcast fans a message out to every connection subscribed to the room,
// the sender included.
func (h *Hub) Broadcast(roomID, event string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling %s broadcast: %v", event, err)
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.roomID != roomID {
			continue
		}
		select {
		case client.send <- data:
		default:
			log.Printf("Client %s send buffer full, dropping %s", client.id, event)
		}
	}
}

// EmitTo unicasts a message to a single connection.
func (h *Hub) EmitTo(connectionID, event string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		log.Printf("Error marshaling %s message: %v", event, err)
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if client.id != connectionID {
			continue
		}
		select {
		case client.send <- data:
		default:
			log.Printf("Client %s send buffer full, dropping %s", client.id, event)
		}
		return
	}
}

// RegisterClient wires a fresh websocket connection into the hub. The
// connection has no room until it sends join-game.
func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		hub:    h,
		id:     generateClientID(),
		socket: conn,
		send:   make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

func (h *Hub) bindSession(c *Client, matchID, userID uint, playerName, roomID string, spectator bool) {
	h.mutex.Lock()
	c.matchID = matchID
	c.userID = userID
	c.playerName = playerName
	c.roomID = roomID
	c.isSpectator = spectator
	h.mutex.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message from %s: %v", c.id, err)
			continue
		}

		c.hub.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	defer func() {
		c.socket.Close()
	}()

	for {
		message, ok := <-c.send
		if !ok {
			c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}

		w.Write(message)

		if err := w.Close(); err != nil {
			return
		}
	}
}

func (h *Hub) dispatch(c *Client, msg inboundMessage) {
	handler, ok := h.handlers[msg.Type]
	if !ok {
		log.Printf("Unknown message type %q from client %s", msg.Type, c.id)
		return
	}

	// Everything except joining and ping needs an established session.
	if msg.Type != "join-game" && msg.Type != "ping" && c.roomID == "" {
		h.EmitTo(c.id, "error", gin.H{"message": "Not in a game room"})
		return
	}

	// Spectators watch; only state resync and ping pass through.
	if c.isSpectator {
		switch msg.Type {
		case "join-game", "request-game-state", "ping":
		default:
			h.EmitTo(c.id, "error", gin.H{"message": "Spectators cannot perform this action"})
			return
		}
	}

	handler(c, msg.Payload)
}

func (h *Hub) handleJoinGame(c *Client, payload json.RawMessage) {
	var req struct {
		MatchID    uint   `json:"matchId"`
		UserID     uint   `json:"userId"`
		PlayerName string `json:"playerName"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.MatchID == 0 || req.UserID == 0 {
		h.EmitTo(c.id, "error", gin.H{"message": "Invalid join request"})
		return
	}

	roomID := RoomID(req.MatchID)
	if c.roomID != "" && c.roomID != roomID {
		h.EmitTo(c.id, "error", gin.H{"message": "Already in a game room"})
		return
	}

	view, spectator, err := h.rooms.JoinRoom(context.Background(), req.MatchID, req.UserID, req.PlayerName, c.id, h)
	if err != nil {
		h.EmitTo(c.id, "error", gin.H{"message": err.Error()})
		return
	}

	h.bindSession(c, req.MatchID, req.UserID, req.PlayerName, roomID, spectator)
	h.EmitTo(c.id, "game-state", view)
	log.Printf("User %d joined %s (spectator=%v)", req.UserID, roomID, spectator)
}

func (h *Hub) handleMakeMove(c *Client, payload json.RawMessage) {
	var req struct {
		Row   int `json:"row"`
		Col   int `json:"col"`
		Value int `json:"value"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.EmitTo(c.id, "error", gin.H{"message": "Invalid move payload"})
		return
	}

	_, err := h.rooms.MakeMove(context.Background(), c.matchID, c.userID, req.Row, req.Col, req.Value, h)
	if err != nil {
		h.EmitTo(c.id, "move-invalid", gin.H{
			"reason": err.Error(),
			"move":   gin.H{"row": req.Row, "col": req.Col, "value": req.Value},
		})
	}
}

func (h *Hub) handleRequestHint(c *Client, _ json.RawMessage) {
	_, err := h.rooms.UseHint(context.Background(), c.matchID, c.userID, h)
	if err != nil {
		message := err.Error()
		if errors.Is(err, ErrNoHints) {
			message = "No hints available"
		}
		h.EmitTo(c.id, "error", gin.H{"message": message})
	}
}

func (h *Hub) handleSetReady(c *Client, payload json.RawMessage) {
	var req struct {
		IsReady bool `json:"isReady"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.EmitTo(c.id, "error", gin.H{"message": "Invalid ready payload"})
		return
	}

	if err := h.rooms.SetPlayerReady(context.Background(), c.matchID, c.userID, req.IsReady, h); err != nil {
		h.EmitTo(c.id, "error", gin.H{"message": err.Error()})
	}
}

func (h *Hub) handleSurrender(c *Client, _ json.RawMessage) {
	if err := h.rooms.Surrender(context.Background(), c.matchID, c.userID, h); err != nil {
		h.EmitTo(c.id, "error", gin.H{"message": err.Error()})
	}
}

func (h *Hub) handleSendMessage(c *Client, payload json.RawMessage) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Message == "" {
		return
	}

	if err := h.rooms.SendMessage(c.matchID, c.userID, req.Message, h); err != nil {
		h.EmitTo(c.id, "error", gin.H{"message": err.Error()})
	}
}

func (h *Hub) handleRequestGameState(c *Client, _ json.RawMessage) {
	view, err := h.rooms.GetRoomState(context.Background(), c.matchID)
	if err != nil {
		h.EmitTo(c.id, "error", gin.H{"message": err.Error()})
		return
	}
	h.EmitTo(c.id, "game-state", view)
}

func (h *Hub) handlePing(c *Client, _ json.RawMessage) {
	h.EmitTo(c.id, "pong", "pong")
}

func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "client_" + hex.EncodeToString(bytes)
}
