package ws

import (
	"sync"

	"github.com/mqy/pawchat/chatstore"
)

// memory handler store for local sessions.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]*Handler
}

func (hs *HandlerStore) del(sid string) bool {
	hs.Lock()
	defer hs.Unlock()
	if _, ok := hs.handlers[sid]; ok {
		delete(hs.handlers, sid)
		return true
	}
	return false
}

func (hs *HandlerStore) add(handler *Handler) {
	hs.Lock()
	sid := handler.session.ID
	hs.handlers[sid] = handler
	hs.Unlock()
}

func (hs *HandlerStore) len() int {
	hs.RLock()
	defer hs.RUnlock()
	return len(hs.handlers)
}

// getByConversation returns the handlers showing conv.
func (hs *HandlerStore) getByConversation(conv *chatstore.Conversation) []*Handler {
	hs.RLock()
	defer hs.RUnlock()

	var out []*Handler
	for _, h := range hs.handlers {
		if h.current() == conv {
			out = append(out, h)
		}
	}
	return out
}

// openedElsewhere reports whether a handler other than self shows conv.
func (hs *HandlerStore) openedElsewhere(self *Handler, conv *chatstore.Conversation) bool {
	for _, h := range hs.getByConversation(conv) {
		if h != self {
			return true
		}
	}
	return false
}

func (hs *HandlerStore) close() {
	hs.Lock()
	handlers := make([]*Handler, 0, len(hs.handlers))
	for _, h := range hs.handlers {
		handlers = append(handlers, h)
	}
	hs.handlers = make(map[string]*Handler)
	hs.Unlock()

	for _, h := range handlers {
		h.close(ServerStop)
	}
}
