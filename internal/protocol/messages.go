// Package protocol defines the camera MQTT wire format: message codes, the
// JSON envelope carried inside the encrypted payload, typed message bodies,
// and topic naming.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope holds the two fields every message carries. Additional fields are
// code-specific and decoded separately from the raw JSON.
type Envelope struct {
	Code *int   `json:"code"`
	Time *int64 `json:"time"`
}

// ParseEnvelope decodes the code/time header from plaintext JSON.
// Unknown fields are ignored. A missing code is an error; a missing time is not.
func ParseEnvelope(data []byte) (code int, ts int64, err error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, 0, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Code == nil {
		return 0, 0, fmt.Errorf("parse envelope: missing code")
	}
	if env.Time != nil {
		ts = *env.Time
	}
	return *env.Code, ts, nil
}

// NewCommand builds an outbound envelope. Extra fields are copied first so
// they can never override code or time.
func NewCommand(code int, now time.Time, fields map[string]any) map[string]any {
	msg := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["code"] = code
	msg["time"] = now.Unix()
	return msg
}

// ConnectedMessage is reported with code 138 after a camera (re)connects
// to the broker.
type ConnectedMessage struct {
	Code   int    `json:"code"`
	Time   int64  `json:"time"`
	UID    string `json:"uid,omitempty"`
	Status *int   `json:"status,omitempty"` // 0 normal, 1 first connection after provisioning
}

// Provisioned reports whether this is the first connection after WiFi
// provisioning.
func (m *ConnectedMessage) Provisioned() bool {
	return m.Status != nil && *m.Status == 1
}

// InfoMessage is the code 139 device info report. All telemetry fields are
// optional; nil means "not reported".
type InfoMessage struct {
	Code     int     `json:"code"`
	Time     int64   `json:"time"`
	UID      string  `json:"uid,omitempty"`
	WifiName *string `json:"wifiname,omitempty"`
	WifiRSSI *int    `json:"wifirssi,omitempty"`
	Version  *string `json:"ver,omitempty"`
	SDState  *int    `json:"sdstate,omitempty"`  // 0 no card, 1 card present
	SDCap    *int64  `json:"sdcap,omitempty"`    // total blocks
	SDBlock  *int64  `json:"sdblock,omitempty"`  // block size in bytes
	SDFree   *int64  `json:"sdfree,omitempty"`   // free blocks
	Rotate   *int    `json:"rotate,omitempty"`   // 0 normal, 1 rotated 180°
	LightLED *int    `json:"lightled,omitempty"` // indicator LED
	WhiteLED *int    `json:"whiteled,omitempty"` // floodlight
}

// WebRTCMessage covers codes 23-25 and their acks 151-153.
type WebRTCMessage struct {
	Code      int    `json:"code"`
	Time      int64  `json:"time"`
	UID       string `json:"uid,omitempty"`
	SessionID string `json:"sid,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	RTC       string `json:"rtc,omitempty"` // "server,user,pass"
	Status    *int   `json:"status,omitempty"`
}

// OK reports whether the device flagged the signaling step as successful.
// Messages without a status are treated as successful.
func (m *WebRTCMessage) OK() bool {
	return m.Status == nil || *m.Status == 1
}

// SignalKind identifies a WebRTC signaling event.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// SignalKindFor maps a device ack code to its signaling kind.
func SignalKindFor(code int) (SignalKind, bool) {
	switch code {
	case CodeOfferReport:
		return SignalOffer, true
	case CodeAnswerReport:
		return SignalAnswer, true
	case CodeCandidateReport:
		return SignalCandidate, true
	}
	return "", false
}
