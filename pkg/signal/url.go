package signal

import (
	"fmt"
	"net/url"
	"strings"
)

// WebSocketURL builds the signaling endpoint for room on the server at base.
// http and https map to ws and wss, a bare host defaults to wss.
func WebSocketURL(base, room string) (string, error) {
	code := NormalizeRoomCode(room)
	if !ValidateRoomCode(code) {
		return "", fmt.Errorf("invalid room code %q", room)
	}

	signalURL := strings.TrimSpace(base)
	switch {
	case strings.HasPrefix(signalURL, "http://"):
		signalURL = "ws://" + strings.TrimPrefix(signalURL, "http://")
	case strings.HasPrefix(signalURL, "https://"):
		signalURL = "wss://" + strings.TrimPrefix(signalURL, "https://")
	case !strings.HasPrefix(signalURL, "ws://") && !strings.HasPrefix(signalURL, "wss://"):
		signalURL = "wss://" + signalURL
	}

	u, err := url.Parse(signalURL)
	if err != nil {
		return "", fmt.Errorf("invalid signal server URL %q: %w", base, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid signal server URL %q: missing host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + code
	u.RawPath = ""
	return u.String(), nil
}
