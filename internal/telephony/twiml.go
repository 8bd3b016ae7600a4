package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName  xml.Name  `xml:"Dial"`
	CallerID string    `xml:"callerId,attr,omitempty"`
	Timeout  int       `xml:"timeout,attr,omitempty"`
	Sip      *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// RenderAgentBridge returns TwiML connecting the answered debtor leg to the agent's
// SIP endpoint. An empty target renders a hangup.
func RenderAgentBridge(agentSIP string) (string, error) {
	var r twimlResponse
	agentSIP = strings.TrimSpace(agentSIP)
	switch {
	case agentSIP == "":
		r.Verbs = append(r.Verbs, twimlHangup{})
	case strings.HasPrefix(strings.ToLower(agentSIP), "sip:"):
		r.Verbs = append(r.Verbs, twimlDial{Timeout: 20, Sip: &twimlSip{URI: agentSIP}})
	default:
		return "", errors.New("telephony: agent target must be a sip uri")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
