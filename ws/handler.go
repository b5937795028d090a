package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/pawchat/audio"
	"github.com/mqy/pawchat/auth"
	"github.com/mqy/pawchat/chatstore"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	dataChanSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The widget is embedded in directory pages served from other origins.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Session describes one widget connection.
type Session struct {
	ID         string `json:"sid"`
	UserID     string `json:"uid"`
	UserName   string `json:"uname"`
	CreateTime int64  `json:"createTime"`
	IP         string `json:"ip"`
}

// Handler manages an active connection to one widget instance. It owns the
// widget's open conversation, capture session and playback controller.
type Handler struct {
	sync.Mutex

	hub     *Hub
	session *Session
	conn    *websocket.Conn

	// ctx carries the connection's user to the ledger.
	ctx    context.Context
	cancel context.CancelFunc

	dataChan chan *SessionData
	closing  bool
	conv     *chatstore.Conversation

	mic      *mic
	recorder *audio.Session
	speaker  *speaker
	player   *audio.Player
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	Error     SessionError `json:"error,omitempty"`
	ServerMsg *ServerMsg   `json:"resp,omitempty"`
}

func newHandler(hub *Hub, sess *Session, user auth.User, conn *websocket.Conn) *Handler {
	ctx, cancel := context.WithCancel(auth.WithUser(context.Background(), user))
	h := &Handler{
		hub:      hub,
		session:  sess,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		dataChan: make(chan *SessionData, dataChanSize),
		mic:      &mic{},
	}
	h.recorder = audio.NewSession(h.mic, audio.Constraints{EchoCancellation: true, NoiseSuppression: true},
		hub.conf.RecordingTick)
	h.speaker = newSpeaker(func(msg *ServerMsg) {
		h.appendDataChan(&SessionData{ServerMsg: msg})
	})
	h.player = audio.NewPlayer(h.speaker)
	return h
}

func (h *Handler) String() string {
	out, _ := json.Marshal(h.session)
	return string(out)
}

func (h *Handler) current() *chatstore.Conversation {
	h.Lock()
	defer h.Unlock()
	return h.conv
}

// swap replaces the open conversation and returns the previous one.
func (h *Handler) swap(conv *chatstore.Conversation) *chatstore.Conversation {
	h.Lock()
	defer h.Unlock()
	prev := h.conv
	h.conv = conv
	return prev
}

func (h *Handler) isClosing() bool {
	h.Lock()
	defer h.Unlock()
	return h.closing
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true

	_ = h.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	h.conn.Close()

	close(h.dataChan)
	conv := h.conv
	h.conv = nil
	h.Unlock()

	h.cancel()
	h.recorder.Cancel()
	h.player.StopAll()

	glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
	if cause != ServerStop {
		h.hub.delHandler(h.session.ID)
	}
	h.hub.release(h, conv)
}

// appendDataChan queues v for the send loop. A full queue drops v: every
// conversation push carries a whole snapshot, so the next one catches up.
func (h *Handler) appendDataChan(v *SessionData) {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return
	}
	select {
	case h.dataChan <- v:
	default:
		glog.Errorf("appendDataChan(): queue full, drop data, session: %s", h)
	}
}

func (h *Handler) sendError(e *Error) {
	h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Error: e}})
}

func sendServerMsg(conn *websocket.Conn, msg *ServerMsg) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h) }()

	h.conn.SetReadLimit(h.hub.readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !h.isClosing() {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			if !h.isClosing() {
				glog.Errorf("recvLoop(): read error: %v", err)
			}
			h.appendDataChan(&SessionData{Error: ReadError})
			return
		}

		if glog.V(5) {
			logValue := string(msg)
			if len(logValue) > 100 {
				logValue = logValue[:100] + " ..."
			}
			glog.Infof("recvLoop(): incoming client message: %s", logValue)
		}

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.sendError(newInvalidArgumentError("", "websocket only supports TextMessage"))
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		req := ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.sendError(newInvalidArgumentError("", fmt.Sprintf("unmarshal error: %v", err)))
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		name := req.name()
		if name == "" {
			glog.Errorf("recvLoop(): unsupported request: %s", string(msg))
			h.sendError(newInvalidArgumentError("", "unsupported request"))
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		resp, err := h.serve(&req)
		if err != nil {
			e := newError(name, err)
			if e.Code == ErrorCodeInternal {
				glog.Errorf("recvLoop(): %s error: %v", name, err)
			} else {
				glog.V(5).Infof("recvLoop(): %s rejected: %v", name, err)
			}
			h.sendError(e)
			continue
		}
		if resp != nil {
			h.appendDataChan(&SessionData{ServerMsg: resp})
		}
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h)
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok { // chan was closed
				h.conn.Close()
				glog.V(5).Infof("sendLoop(): data chan closed, session: %s", h)
				return
			}

			if v.Error > 0 {
				h.close(v.Error)
				return
			} else if v.ServerMsg == nil {
				glog.Errorf("sendLoop(), unknown data from dataChan: %#+v", v)
				continue
			}

			if err := sendServerMsg(h.conn, v.ServerMsg); err != nil {
				glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h, err)
				h.close(WriteError)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.close(PingError)
				return
			}
		}
	}
}
