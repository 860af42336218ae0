package message

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Type is the kind of content a message carries.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
	TypeFile  Type = "file"
)

// Payload is the typed content of a message, one variant per Type.
type Payload interface {
	Kind() Type
	// Preview is the short text shown in the chat list summary.
	Preview() string
}

// TextPayload is a plain text message.
type TextPayload struct {
	Body string
}

func (p TextPayload) Kind() Type      { return TypeText }
func (p TextPayload) Preview() string { return p.Body }

// ImagePayload is an image with optional caption.
type ImagePayload struct {
	URL     string
	Width   int
	Height  int
	Caption string
}

func (p ImagePayload) Kind() Type { return TypeImage }
func (p ImagePayload) Preview() string {
	if p.Caption != "" {
		return p.Caption
	}
	return "[image]"
}

// VideoPayload is a video clip with optional caption.
type VideoPayload struct {
	URL        string
	DurationMs int64
	Caption    string
}

func (p VideoPayload) Kind() Type { return TypeVideo }
func (p VideoPayload) Preview() string {
	if p.Caption != "" {
		return p.Caption
	}
	return "[video]"
}

// AudioPayload is a voice note or audio clip.
type AudioPayload struct {
	URL        string
	DurationMs int64
}

func (p AudioPayload) Kind() Type      { return TypeAudio }
func (p AudioPayload) Preview() string { return "[audio]" }

// FilePayload is an arbitrary document attachment.
type FilePayload struct {
	URL  string
	Name string
	Size int64
}

func (p FilePayload) Kind() Type { return TypeFile }
func (p FilePayload) Preview() string {
	if p.Name != "" {
		return p.Name
	}
	return "[file]"
}

// ApplyPayload writes a payload into the flat message fields used for
// persistence and transfer (content, media URL, media metadata).
func ApplyPayload(m *Message, p Payload) {
	m.Type = p.Kind()
	m.Content = p.Preview()
	m.MediaURL = ""
	m.MediaMeta = nil
	switch v := p.(type) {
	case TextPayload:
		m.Content = v.Body
	case ImagePayload:
		m.MediaURL = v.URL
		m.MediaMeta = map[string]string{
			"width":  strconv.Itoa(v.Width),
			"height": strconv.Itoa(v.Height),
		}
	case VideoPayload:
		m.MediaURL = v.URL
		m.MediaMeta = map[string]string{
			"duration_ms": strconv.FormatInt(v.DurationMs, 10),
		}
	case AudioPayload:
		m.MediaURL = v.URL
		m.MediaMeta = map[string]string{
			"duration_ms": strconv.FormatInt(v.DurationMs, 10),
		}
	case FilePayload:
		m.MediaURL = v.URL
		m.MediaMeta = map[string]string{
			"name": v.Name,
			"size": strconv.FormatInt(v.Size, 10),
		}
	}
}

// DecodePayload reconstructs the typed payload from the flat message fields.
func DecodePayload(m *Message) (Payload, error) {
	meta := func(key string) string { return m.MediaMeta[key] }
	metaInt := func(key string) int64 {
		n, _ := strconv.ParseInt(meta(key), 10, 64)
		return n
	}
	switch m.Type {
	case TypeText, "":
		return TextPayload{Body: m.Content}, nil
	case TypeImage:
		return ImagePayload{
			URL:     m.MediaURL,
			Width:   int(metaInt("width")),
			Height:  int(metaInt("height")),
			Caption: captionOf(m),
		}, nil
	case TypeVideo:
		return VideoPayload{
			URL:        m.MediaURL,
			DurationMs: metaInt("duration_ms"),
			Caption:    captionOf(m),
		}, nil
	case TypeAudio:
		return AudioPayload{URL: m.MediaURL, DurationMs: metaInt("duration_ms")}, nil
	case TypeFile:
		return FilePayload{URL: m.MediaURL, Name: meta("name"), Size: metaInt("size")}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
}

func captionOf(m *Message) string {
	if m.Content == "[image]" || m.Content == "[video]" {
		return ""
	}
	return m.Content
}

// EncodeMeta serializes media metadata for storage. Empty metadata
// encodes to the empty string.
func EncodeMeta(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode media meta: %w", err)
	}
	return string(raw), nil
}

// DecodeMeta parses media metadata produced by EncodeMeta.
func DecodeMeta(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode media meta: %w", err)
	}
	return meta, nil
}
