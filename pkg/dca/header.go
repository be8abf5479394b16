package dca

import (
	"errors"
	"time"
)

const (
	// FormatVersion is the only header version this package reads or writes.
	// Artifacts carrying any other version are reported as invalid; operators
	// wipe the cache root when the header schema changes.
	FormatVersion = 1

	// DefaultSampleRate is used when the producer did not report one.
	DefaultSampleRate = 48000
	// DefaultFrameSize is the Opus frame size in samples per channel (20ms at 48kHz).
	DefaultFrameSize = 960
	// DefaultBitrate is the target bitrate of the encoder, in bits per second.
	DefaultBitrate = 128000

	toolName    = "voicecache"
	toolVersion = "0.1.0"
	toolURL     = "https://github.com/richardartoul/voicecache"
)

// ErrMissingChannels is returned when building a header from metadata that
// does not report a channel count. The header must describe the payload, so
// there is no sensible default.
var ErrMissingChannels = errors.New("metadata has no channel count")

// Metadata is the outward-facing description of a track, as produced by the
// playback pipeline and as reconstructed from a cached artifact.
// Empty strings and zero values mean "unknown".
type Metadata struct {
	Title      string        `json:"title,omitempty"`
	Artist     string        `json:"artist,omitempty"`
	Date       string        `json:"date,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	SampleRate uint32        `json:"sample_rate,omitempty"`
	Channels   uint8         `json:"channels,omitempty"`
	SourceURL  string        `json:"source_url,omitempty"`
	Thumbnail  string        `json:"thumbnail,omitempty"`
}

// Header is the structured JSON record stored at the front of every artifact.
// Field names follow the DCA1 layout so artifacts stay readable by other
// DCA tooling.
type Header struct {
	DCA    Format  `json:"dca"`
	Opus   Encoder `json:"opus"`
	Info   *Info   `json:"info"`
	Origin *Origin `json:"origin"`
	Extra  Extra   `json:"extra"`
}

// Format identifies the container version and the tool that wrote it.
type Format struct {
	Version uint64 `json:"version"`
	Tool    Tool   `json:"tool"`
}

type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	URL     string `json:"url"`
	Author  string `json:"author"`
}

// Encoder describes the Opus parameters of the payload.
type Encoder struct {
	Mode       string `json:"mode"`
	SampleRate uint32 `json:"sample_rate"`
	FrameSize  uint64 `json:"frame_size"`
	ABR        uint64 `json:"abr"`
	VBR        uint64 `json:"vbr"`
	Channels   uint8  `json:"channels"`
}

type Info struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Genre  string `json:"genre,omitempty"`
	Cover  string `json:"cover,omitempty"`
}

type Origin struct {
	Source   string `json:"source,omitempty"`
	ABR      uint64 `json:"abr,omitempty"`
	Channels uint8  `json:"channels,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Extra holds free-form fields that are folded back into Metadata on read.
// Duration is in milliseconds.
type Extra struct {
	Date      string `json:"date,omitempty"`
	Duration  uint64 `json:"duration,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// NewHeader builds the header describing a stream with the given metadata.
func NewHeader(m Metadata) (*Header, error) {
	if m.Channels == 0 {
		return nil, ErrMissingChannels
	}

	// Negative durations are treated as unknown.
	duration := m.Duration
	if duration < 0 {
		duration = 0
	}

	sampleRate := m.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}

	h := &Header{
		DCA: Format{
			Version: FormatVersion,
			Tool: Tool{
				Name:    toolName,
				Version: toolVersion,
				URL:     toolURL,
				Author:  toolName,
			},
		},
		Opus: Encoder{
			Mode:       "music",
			SampleRate: sampleRate,
			FrameSize:  DefaultFrameSize,
			ABR:        DefaultBitrate,
			VBR:        1,
			Channels:   m.Channels,
		},
		Origin: &Origin{
			Source: "file",
			URL:    m.SourceURL,
		},
		Extra: Extra{
			Date:      m.Date,
			Duration:  uint64(duration.Milliseconds()),
			Thumbnail: m.Thumbnail,
		},
	}
	if m.Title != "" || m.Artist != "" {
		h.Info = &Info{Title: m.Title, Artist: m.Artist}
	}
	return h, nil
}

// Metadata merges the encoder parameters, track info, origin and extra fields
// into the record a freshly fetched stream would have carried.
func (h *Header) Metadata() Metadata {
	m := Metadata{
		SampleRate: h.Opus.SampleRate,
		Channels:   h.Opus.Channels,
		Date:       h.Extra.Date,
		Duration:   time.Duration(h.Extra.Duration) * time.Millisecond,
		Thumbnail:  h.Extra.Thumbnail,
	}
	if h.Info != nil {
		m.Title = h.Info.Title
		m.Artist = h.Info.Artist
		if m.Thumbnail == "" {
			m.Thumbnail = h.Info.Cover
		}
	}
	if h.Origin != nil {
		m.SourceURL = h.Origin.URL
	}
	return m
}
