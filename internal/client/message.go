package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vovakirdan/huddle-server/internal/proto"
)

// Message is a chat message as the client sees it.
type Message struct {
	proto.ChatMessage
	CreatedAt time.Time
	// File is set for file messages whose content parsed as a descriptor.
	File *proto.FileDescriptor
}

// decodeMessage turns a wire message into a Message. A malformed file
// descriptor is not an error; the message is kept with File unset.
func decodeMessage(wire proto.ChatMessage) Message {
	msg := Message{ChatMessage: wire}
	if ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp); err == nil {
		msg.CreatedAt = ts
	}
	if wire.Type == "file" {
		if f, err := proto.DecodeFileDescriptor(wire.Content); err == nil {
			msg.File = &f
		}
	}
	return msg
}

// MediaKind classifies a file message for rendering: image, video, audio or file.
func (m Message) MediaKind() string {
	if m.File == nil {
		return "file"
	}
	mimeType := m.File.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if payload, err := m.File.Payload(); err == nil {
			mimeType = mimetype.Detect(payload).String()
		}
	}
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "image", "video", "audio":
		return major
	}
	return "file"
}

// Render formats the message for a terminal.
func (m Message) Render() string {
	stamp := ""
	if !m.CreatedAt.IsZero() {
		stamp = m.CreatedAt.Local().Format("15:04:05") + " "
	}
	if m.Type != "file" {
		return fmt.Sprintf("%s%s: %s", stamp, m.Sender, m.Content)
	}
	if m.File == nil {
		return fmt.Sprintf("%s%s sent an unreadable file", stamp, m.Sender)
	}
	return fmt.Sprintf("%s%s sent %s %q (%s, %s)", stamp, m.Sender, m.MediaKind(), m.File.Name, m.File.MimeType, humanSize(m.File.Size))
}

// fileDescriptor builds the descriptor for payload, sniffing the MIME type.
func fileDescriptor(name string, payload []byte) proto.FileDescriptor {
	// Drop parameters such as charset; browsers expect the bare type.
	base, _, _ := strings.Cut(mimetype.Detect(payload).String(), ";")
	return proto.NewFileDescriptor(name, base, payload)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
