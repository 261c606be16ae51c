package protocol

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// SDPSummary is a short description of a session description, for logs.
type SDPSummary struct {
	Media []string // media kinds in order, e.g. ["video", "audio", "application"]
}

func (s SDPSummary) String() string {
	return strings.Join(s.Media, ",")
}

// SummarizeSDP parses an offer or answer body. Relaying never depends on the
// result; callers only log it.
func SummarizeSDP(body string) (SDPSummary, error) {
	if body == "" {
		return SDPSummary{}, fmt.Errorf("empty sdp")
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(body)); err != nil {
		return SDPSummary{}, fmt.Errorf("parse sdp: %w", err)
	}
	sum := SDPSummary{Media: make([]string, 0, len(desc.MediaDescriptions))}
	for _, md := range desc.MediaDescriptions {
		sum.Media = append(sum.Media, md.MediaName.Media)
	}
	return sum, nil
}
