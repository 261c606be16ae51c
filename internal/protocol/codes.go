package protocol

// Command codes sent from the cloud to a camera.
const (
	CodeConnected          = 10
	CodeRequestInfo        = 11
	CodeFormatStorage      = 12
	CodeReboot             = 13
	CodeRequestOffer       = 23
	CodeWebRTCAnswer       = 24
	CodeWebRTCCandidate    = 25
	CodeSetRotation        = 26
	CodeSetFloodlight      = 28
	CodeDirectionalCommand = 99
)

// AckOffset is added by the camera firmware to a command code when it
// reports back. The value is fixed by deployed firmware.
const AckOffset = 128

// Codes reported by cameras.
const (
	CodeConnectedReport = CodeConnected + AckOffset       // 138
	CodeInfoReport      = CodeRequestInfo + AckOffset     // 139
	CodeOfferReport     = CodeRequestOffer + AckOffset    // 151
	CodeAnswerReport    = CodeWebRTCAnswer + AckOffset    // 152
	CodeCandidateReport = CodeWebRTCCandidate + AckOffset // 153
)

// Ack returns the code a camera uses to acknowledge the given command code.
func Ack(code int) int {
	return code + AckOffset
}

// CommandFor returns the command code an ack code answers, and false if code
// is not in the ack range.
func CommandFor(ack int) (int, bool) {
	if ack < AckOffset || ack > AckOffset+127 {
		return 0, false
	}
	return ack - AckOffset, true
}

// Directions accepted by the directional (pan/tilt) command.
var Directions = map[string]bool{
	"up":    true,
	"down":  true,
	"left":  true,
	"right": true,
	"stop":  true,
}

// codeNames is used for log output and metric labels.
var codeNames = map[int]string{
	CodeConnected:          "connected",
	CodeRequestInfo:        "request_info",
	CodeFormatStorage:      "format_storage",
	CodeReboot:             "reboot",
	CodeRequestOffer:       "request_offer",
	CodeWebRTCAnswer:       "webrtc_answer",
	CodeWebRTCCandidate:    "webrtc_candidate",
	CodeSetRotation:        "set_rotation",
	CodeSetFloodlight:      "set_floodlight",
	CodeDirectionalCommand: "directional",
	CodeConnectedReport:    "connected_report",
	CodeInfoReport:         "info_report",
	CodeOfferReport:        "offer_report",
	CodeAnswerReport:       "answer_report",
	CodeCandidateReport:    "candidate_report",
}

// CodeName returns a short label for a known code, or "unknown".
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "unknown"
}
