package media

import (
	"strings"

	"github.com/pion/webrtc/v3"
)

// CodecInfo describes a codec for display
type CodecInfo struct {
	MimeType string
	Name     string // Display name
	Kind     webrtc.RTPCodecType
}

// KnownCodecs lists the codecs pion registers by default
var KnownCodecs = []CodecInfo{
	{MimeType: webrtc.MimeTypeVP8, Name: "VP8", Kind: webrtc.RTPCodecTypeVideo},
	{MimeType: webrtc.MimeTypeVP9, Name: "VP9", Kind: webrtc.RTPCodecTypeVideo},
	{MimeType: webrtc.MimeTypeH264, Name: "H.264", Kind: webrtc.RTPCodecTypeVideo},
	{MimeType: webrtc.MimeTypeAV1, Name: "AV1", Kind: webrtc.RTPCodecTypeVideo},
	{MimeType: webrtc.MimeTypeOpus, Name: "Opus", Kind: webrtc.RTPCodecTypeAudio},
	{MimeType: webrtc.MimeTypeG722, Name: "G.722", Kind: webrtc.RTPCodecTypeAudio},
	{MimeType: webrtc.MimeTypePCMU, Name: "PCMU", Kind: webrtc.RTPCodecTypeAudio},
	{MimeType: webrtc.MimeTypePCMA, Name: "PCMA", Kind: webrtc.RTPCodecTypeAudio},
}

// CodecByMimeType finds a codec by mime type (case-insensitive)
func CodecByMimeType(mimeType string) *CodecInfo {
	for i := range KnownCodecs {
		if strings.EqualFold(KnownCodecs[i].MimeType, mimeType) {
			return &KnownCodecs[i]
		}
	}
	return nil
}

// CodecName returns a short display name for mimeType. Unknown types fall
// back to the part after the slash.
func CodecName(mimeType string) string {
	if codec := CodecByMimeType(mimeType); codec != nil {
		return codec.Name
	}
	if i := strings.IndexByte(mimeType, '/'); i >= 0 {
		return mimeType[i+1:]
	}
	if mimeType == "" {
		return "unknown"
	}
	return mimeType
}
