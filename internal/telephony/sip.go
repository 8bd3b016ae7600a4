package telephony

import (
	"net/url"
	"strings"
)

// AgentSIPURI addresses an agent's softphone on the contact-center SIP domain,
// e.g. sip:agent-17@agents.example.com.
//
// Agent ids are URL-escaped so they cannot inject URI parameters.
func AgentSIPURI(agentID, domain string) string {
	agentID = strings.TrimSpace(agentID)
	domain = strings.TrimSpace(domain)
	if agentID == "" || domain == "" {
		return ""
	}
	return "sip:" + url.PathEscape(agentID) + "@" + domain
}
