package attach

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/golang/glog"

	"github.com/mqy/pawchat/chatstore"
)

var (
	ErrUnreadableFile = errors.New("file cannot be read")
	ErrFileTooLarge   = errors.New("file is too large")
)

// Attachment is a user-selected file encoded for inline transport.
type Attachment struct {
	Kind     chatstore.Kind // image or file
	MimeType string
	Content  string // data uri
	FileName string
	FileSize string // formatted, see FormatSize
	Bytes    int64
}

// Encoder turns files into attachments. The whole payload is held in memory.
type Encoder struct {
	// MaxBytes rejects larger files when positive.
	MaxBytes int64
}

// Encode reads r to the end and encodes it.
func (e *Encoder) Encode(name string, r io.Reader) (*Attachment, error) {
	var src io.Reader = r
	if e.MaxBytes > 0 {
		src = io.LimitReader(r, e.MaxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		glog.Errorf("attach: read %s err: %v", name, err)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableFile, name, err)
	}
	if e.MaxBytes > 0 && int64(len(data)) > e.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrFileTooLarge, name, FormatSize(e.MaxBytes))
	}

	mime := mimetype.Detect(data)
	kind := chatstore.KindFile
	if strings.HasPrefix(mime.String(), "image/") {
		kind = chatstore.KindImage
	}

	a := &Attachment{
		Kind:     kind,
		MimeType: mime.String(),
		Content:  DataURI(mime.String(), data),
		FileName: filepath.Base(name),
		FileSize: FormatSize(int64(len(data))),
		Bytes:    int64(len(data)),
	}
	glog.V(5).Infof("attach: encoded %s, kind: %s, mime: %s, size: %s", a.FileName, a.Kind, a.MimeType, a.FileSize)
	return a, nil
}

// EncodeFile encodes the file at path.
func (e *Encoder) EncodeFile(path string) (*Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer f.Close()
	return e.Encode(path, f)
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatSize formats n with 1024-based units and two decimals, e.g. 1024
// is "1.00 KB". Sizes under 1 KB print whole bytes.
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	if n < 1024 {
		return fmt.Sprintf("%d Bytes", n)
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", v, sizeUnits[i])
}
