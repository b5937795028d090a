package ws

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/pawchat/attach"
	"github.com/mqy/pawchat/auth"
	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/ledger"
	"github.com/mqy/pawchat/metrics"
)

const (
	DefaultMaxAttachmentBytes = 5 << 20

	// MaxFileNameBytes bounds the file name of an attachment.
	MaxFileNameBytes = 255
)

// Conf configures the widget bridge.
type Conf struct {
	// MaxAttachmentBytes bounds one attachment; the websocket read limit
	// follows from it.
	MaxAttachmentBytes int64
	// RecordingTick is the capture session's second counter period.
	RecordingTick time.Duration
}

// Hub works as a hub that manages and serves widget sessions.
type Hub struct {
	conf       Conf
	ledger     *ledger.Ledger
	encoder    *attach.Encoder
	authClient auth.Client
	hstore     *HandlerStore
	readLimit  int64
}

// NewHub creates a `Hub` and subscribes it to ledger changes.
func NewHub(authClient auth.Client, l *ledger.Ledger, conf Conf) *Hub {
	if conf.MaxAttachmentBytes <= 0 {
		conf.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	h := &Hub{
		conf:       conf,
		ledger:     l,
		encoder:    &attach.Encoder{MaxBytes: conf.MaxAttachmentBytes},
		authClient: authClient,
		hstore: &HandlerStore{
			handlers: make(map[string]*Handler),
		},
		readLimit: readLimitFor(conf.MaxAttachmentBytes),
	}
	l.Subscribe(h.onChange)
	return h
}

// readLimitFor sizes the websocket read limit so that an attachment of
// maxBytes with the longest file name always fits: padded base64, a file
// name whose every byte is escaped as \u00XX, and the JSON envelope.
func readLimitFor(maxBytes int64) int64 {
	return (maxBytes+2)/3*4 + MaxFileNameBytes*6 + 1024
}

// Run serves until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	glog.Infof("close connections ...")
	h.hstore.close()
	glog.Infof("close connections done")
}

// ServeHTTP handles websocket requests from the widget.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sess := &Session{
		ID:         strings.ReplaceAll(uuid.New(), "-", ""),
		UserID:     user.ID,
		UserName:   user.Name,
		CreateTime: time.Now().Unix(),
		IP:         getRemoteIP(r),
	}

	// If the upgrade fails, then Upgrade replies to the client with an HTTP error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, uid: %s, err: %s", user.ID, err)
		return
	}

	handler := newHandler(h, sess, user, conn)

	conn.SetCloseHandler(func(code int, text string) error {
		// the pending read fails next and closes the session.
		glog.Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		return nil
	})

	h.addHandler(handler)

	go handler.recvLoop()
	go handler.sendLoop()
}

func (h *Hub) addHandler(handler *Handler) {
	h.hstore.add(handler)
	metrics.WidgetSessions.Inc()
	glog.V(5).Infof("hub: session online: %s", handler)
}

func (h *Hub) delHandler(sid string) {
	if h.hstore.del(sid) {
		metrics.WidgetSessions.Dec()
	}
}

// release closes conv in the ledger unless another session still shows it.
func (h *Hub) release(self *Handler, conv *chatstore.Conversation) {
	if conv == nil || h.hstore.openedElsewhere(self, conv) {
		return
	}
	h.ledger.Close(conv)
}

// onChange pushes every committed mutation to the sessions showing conv.
func (h *Hub) onChange(conv *chatstore.Conversation, view *chatstore.View) {
	handlers := h.hstore.getByConversation(conv)
	if len(handlers) == 0 {
		return
	}
	msg := &ServerMsg{Conversation: localView(view)}
	for _, s := range handlers {
		s.appendDataChan(&SessionData{ServerMsg: msg})
	}
}

// localView renders deleted messages the way the local user sees them.
func localView(v *chatstore.View) *chatstore.View {
	out := *v
	out.Messages = make([]chatstore.Message, len(v.Messages))
	for i, m := range v.Messages {
		m.Content = m.Render(true)
		out.Messages[i] = m
	}
	return &out
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}
