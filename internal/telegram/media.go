package telegram

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/faceswapbot/internal/config"
	"github.com/digkill/faceswapbot/internal/session"
)

// incomingMedia describes a file attached to a message before it is
// downloaded.
type incomingMedia struct {
	Kind     session.MediaKind
	FileID   string
	Size     int64
	Duration time.Duration
	MimeType string
}

// mediaFromMessage picks the swappable file in msg. ok is false for messages
// without a photo, video or image/video document.
func mediaFromMessage(msg *tgbotapi.Message) (incomingMedia, bool) {
	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return incomingMedia{Kind: session.MediaImage, FileID: photo.FileID, Size: int64(photo.FileSize), MimeType: "image/jpeg"}, true
	case msg.Video != nil:
		v := msg.Video
		return incomingMedia{
			Kind:     session.MediaVideo,
			FileID:   v.FileID,
			Size:     int64(v.FileSize),
			Duration: time.Duration(v.Duration) * time.Second,
			MimeType: v.MimeType,
		}, true
	case msg.VideoNote != nil:
		v := msg.VideoNote
		return incomingMedia{
			Kind:     session.MediaVideo,
			FileID:   v.FileID,
			Size:     int64(v.FileSize),
			Duration: time.Duration(v.Duration) * time.Second,
			MimeType: "video/mp4",
		}, true
	case msg.Document != nil:
		doc := msg.Document
		mt := strings.ToLower(doc.MimeType)
		switch {
		case strings.HasPrefix(mt, "image/"):
			return incomingMedia{Kind: session.MediaImage, FileID: doc.FileID, Size: int64(doc.FileSize), MimeType: mt}, true
		case strings.HasPrefix(mt, "video/"):
			return incomingMedia{Kind: session.MediaVideo, FileID: doc.FileID, Size: int64(doc.FileSize), MimeType: mt}, true
		}
	}
	return incomingMedia{}, false
}

// precheck rejects media from its metadata alone so oversized files are
// never downloaded. A missing size passes here and is enforced while
// downloading. A video without a duration is refused, since nothing after the
// download can measure it.
func precheck(step session.Step, m incomingMedia, limits config.Limits) (session.RejectReason, bool) {
	if step == session.StepIdle {
		return session.ReasonNoActiveFlow, false
	}
	if m.Kind != step.Expects() {
		return session.ReasonWrongKind, false
	}
	if limits.MaxFileSize > 0 && m.Size > limits.MaxFileSize {
		return session.ReasonFileTooLarge, false
	}
	if step == session.StepAwaitingVideo && limits.MaxVideoDuration > 0 {
		if m.Duration <= 0 {
			return session.ReasonUnknownDuration, false
		}
		if m.Duration > limits.MaxVideoDuration {
			return session.ReasonVideoTooLong, false
		}
	}
	return "", true
}
