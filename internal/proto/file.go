package proto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FileDescriptor is the content of a file message. Data is a data URL
// ("data:<mime>;base64,<payload>") as produced by browser clients.
type FileDescriptor struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Data     string `json:"data"`
	Size     int64  `json:"size"`
}

// NewFileDescriptor wraps raw bytes as a data URL descriptor.
func NewFileDescriptor(name, mimeType string, payload []byte) FileDescriptor {
	return FileDescriptor{
		Name:     name,
		MimeType: mimeType,
		Data:     "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(payload),
		Size:     int64(len(payload)),
	}
}

// Encode serializes the descriptor into message content.
func (f FileDescriptor) Encode() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode file descriptor: %w", err)
	}
	return string(data), nil
}

// DecodeFileDescriptor parses message content of a file message.
func DecodeFileDescriptor(content string) (FileDescriptor, error) {
	var f FileDescriptor
	if err := json.Unmarshal([]byte(content), &f); err != nil {
		return FileDescriptor{}, fmt.Errorf("decode file descriptor: %w", err)
	}
	if f.Name == "" || f.Data == "" {
		return FileDescriptor{}, errors.New("decode file descriptor: name and data are required")
	}
	return f, nil
}

// Payload extracts the bytes carried by the data URL.
func (f FileDescriptor) Payload() ([]byte, error) {
	rest, ok := strings.CutPrefix(f.Data, "data:")
	if !ok {
		return nil, errors.New("file data is not a data URL")
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("file data URL has no payload")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(encoded), nil
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode file payload: %w", err)
	}
	return payload, nil
}
