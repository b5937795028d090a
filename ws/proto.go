package ws

import (
	"errors"

	"github.com/mqy/pawchat/attach"
	"github.com/mqy/pawchat/audio"
	"github.com/mqy/pawchat/chatstore"
	"github.com/mqy/pawchat/ledger"
	"github.com/mqy/pawchat/partner"
)

const (
	ErrorCodeInvalidArguments = 3
	ErrorCodeNotFound         = 5
	ErrorCodeInternal         = 13
	ErrorCodeUnauthenticated  = 16
)

var (
	errNoConversation  = errors.New("no open conversation")
	errFileNameTooLong = errors.New("file name is too long")
)

// ClientMsg is one widget request; exactly one field is set.
type ClientMsg struct {
	Open           *OpenReq           `json:"open,omitempty"`
	List           *ListReq           `json:"list,omitempty"`
	SendText       *SendTextReq       `json:"sendText,omitempty"`
	SendAttachment *SendAttachmentReq `json:"sendAttachment,omitempty"`
	Delete         *DeleteReq         `json:"delete,omitempty"`
	Export         *struct{}          `json:"export,omitempty"`
	Close          *struct{}          `json:"close,omitempty"`

	RecordStart   *RecordStartReq `json:"recordStart,omitempty"`
	RecordChunk   *RecordChunkReq `json:"recordChunk,omitempty"`
	RecordStop    *struct{}       `json:"recordStop,omitempty"`
	RecordPreview *struct{}       `json:"recordPreview,omitempty"`
	RecordSend    *struct{}       `json:"recordSend,omitempty"`
	RecordCancel  *struct{}       `json:"recordCancel,omitempty"`

	Play          *PlayReq          `json:"play,omitempty"`
	PlaybackEnded *PlaybackEndedReq `json:"playbackEnded,omitempty"`
}

type OpenReq struct {
	Domain      string `json:"domain"`
	Surface     string `json:"surface,omitempty"`
	PartnerID   string `json:"partnerId"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type ListReq struct {
	Domain  string `json:"domain"`
	Surface string `json:"surface,omitempty"`
}

type SendTextReq struct {
	Text string `json:"text"`
}

type SendAttachmentReq struct {
	FileName string `json:"fileName"`
	Data     []byte `json:"data"` // base64 in JSON
}

type DeleteReq struct {
	MessageID   string `json:"messageId"`
	ForEveryone bool   `json:"forEveryone"`
}

type RecordStartReq struct {
	MimeType string `json:"mimeType"`
}

type RecordChunkReq struct {
	Data []byte `json:"data"`
}

type PlayReq struct {
	MessageID string `json:"messageId"`
}

type PlaybackEndedReq struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// ServerMsg is one push to the widget.
type ServerMsg struct {
	Conversation *chatstore.View `json:"conversation,omitempty"`
	Closed       bool            `json:"closed,omitempty"`
	Inbox        *InboxResp      `json:"inbox,omitempty"`
	Export       *ExportResp     `json:"export,omitempty"`
	Recording    *RecordingResp  `json:"recording,omitempty"`
	Playback     *PlaybackResp   `json:"playback,omitempty"`
	Error        *Error          `json:"error,omitempty"`
}

type InboxResp struct {
	Headers []*ledger.Header `json:"headers"`
}

type ExportResp struct {
	Text string `json:"text"`
}

type RecordingResp struct {
	State   string `json:"state"`
	Seconds int    `json:"seconds"`
	// Preview is the assembled data uri while previewing.
	Preview string `json:"preview,omitempty"`
}

type PlaybackResp struct {
	ID       string `json:"id"`
	Action   string `json:"action"` // start, stop
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Error is the notice shown to the user; the widget state is unchanged.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Req     string `json:"req,omitempty"`
}

func (m *ClientMsg) name() string {
	switch {
	case m.Open != nil:
		return "open"
	case m.List != nil:
		return "list"
	case m.SendText != nil:
		return "sendText"
	case m.SendAttachment != nil:
		return "sendAttachment"
	case m.Delete != nil:
		return "delete"
	case m.Export != nil:
		return "export"
	case m.Close != nil:
		return "close"
	case m.RecordStart != nil:
		return "recordStart"
	case m.RecordChunk != nil:
		return "recordChunk"
	case m.RecordStop != nil:
		return "recordStop"
	case m.RecordPreview != nil:
		return "recordPreview"
	case m.RecordSend != nil:
		return "recordSend"
	case m.RecordCancel != nil:
		return "recordCancel"
	case m.Play != nil:
		return "play"
	case m.PlaybackEnded != nil:
		return "playbackEnded"
	}
	return ""
}

var invalidArguments = []error{
	chatstore.ErrEmptyContent,
	chatstore.ErrEmptyRecording,
	chatstore.ErrInvalidKind,
	partner.ErrUnknownDomain,
	ledger.ErrEmptyPartnerID,
	attach.ErrUnreadableFile,
	attach.ErrFileTooLarge,
	attach.ErrMalformedDataURI,
	audio.ErrDeviceUnavailable,
	audio.ErrInvalidAudioPayload,
	audio.ErrNoPreview,
	audio.ErrCancelled,
	errNoConversation,
	errFileNameTooLong,
}

func newError(req string, err error) *Error {
	e := &Error{Code: ErrorCodeInternal, Message: "temporary error", Req: req}
	switch {
	case errors.Is(err, chatstore.ErrNotAuthenticated):
		e.Code, e.Message = ErrorCodeUnauthenticated, err.Error()
	case errors.Is(err, chatstore.ErrNotFound):
		e.Code, e.Message = ErrorCodeNotFound, err.Error()
	default:
		for _, target := range invalidArguments {
			if errors.Is(err, target) {
				e.Code, e.Message = ErrorCodeInvalidArguments, err.Error()
				break
			}
		}
	}
	return e
}

func newInvalidArgumentError(req, message string) *Error {
	return &Error{Code: ErrorCodeInvalidArguments, Message: message, Req: req}
}
