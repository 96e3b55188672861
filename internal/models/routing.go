package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelSlack    Channel = "slack"
)

// Channels lists every channel in dispatch order.
var Channels = []Channel{ChannelWhatsApp, ChannelEmail, ChannelSlack}

// Routing is the canonical form of a rule's channel and recipient configuration.
type Routing struct {
	Channels   map[Channel]bool     `json:"channels"`
	Recipients map[Channel][]string `json:"recipients"`
	// Legacy is set when the stored row used the list encoding.
	Legacy bool `json:"-"`
}

// NewRouting returns an empty routing with no channel enabled.
func NewRouting() Routing {
	return Routing{
		Channels:   make(map[Channel]bool),
		Recipients: make(map[Channel][]string),
	}
}

// Enabled reports whether the channel is switched on.
func (r Routing) Enabled(ch Channel) bool {
	return r.Channels[ch]
}

// RecipientsFor returns the recipients configured for a channel.
func (r Routing) RecipientsFor(ch Channel) []string {
	return r.Recipients[ch]
}

// Enable switches a channel on and appends recipients to it.
func (r *Routing) Enable(ch Channel, recipients ...string) {
	if r.Channels == nil {
		r.Channels = make(map[Channel]bool)
	}
	if r.Recipients == nil {
		r.Recipients = make(map[Channel][]string)
	}
	r.Channels[ch] = true
	for _, rcpt := range recipients {
		r.Recipients[ch] = appendUnique(r.Recipients[ch], rcpt)
	}
}

type structuredRecipients struct {
	WhatsAppNumbers []string `json:"whatsapp_numbers,omitempty"`
	Emails          []string `json:"emails,omitempty"`
	SlackWebhooks   []string `json:"slack_webhooks,omitempty"`
}

// Encode returns the structured storage encoding of the routing.
func (r Routing) Encode() (channels string, recipients string, err error) {
	chans := make(map[string]bool, len(Channels))
	for _, ch := range Channels {
		chans[string(ch)] = r.Channels[ch]
	}
	cb, err := json.Marshal(chans)
	if err != nil {
		return "", "", err
	}

	rb, err := json.Marshal(structuredRecipients{
		WhatsAppNumbers: r.Recipients[ChannelWhatsApp],
		Emails:          r.Recipients[ChannelEmail],
		SlackWebhooks:   r.Recipients[ChannelSlack],
	})
	if err != nil {
		return "", "", err
	}
	return string(cb), string(rb), nil
}

// NormalizeRouting converts both stored encodings into a Routing.
//
// Channels are either a list of names (["whatsapp","email"]) or a map of flags
// ({"whatsapp":true,"email":false}). Recipients are either a flat list whose
// entries are classified by shape, or a map with whatsapp_numbers, emails and
// slack_webhooks keys. Unknown channel names and unclassifiable list entries
// are ignored.
func NormalizeRouting(channelsRaw, recipientsRaw string) (Routing, error) {
	r := NewRouting()

	switch raw := strings.TrimSpace(channelsRaw); {
	case raw == "" || raw == "null":
	case strings.HasPrefix(raw, "["):
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return Routing{}, fmt.Errorf("decode channel list: %w", err)
		}
		r.Legacy = true
		for _, name := range names {
			if ch, ok := parseChannel(name); ok {
				r.Channels[ch] = true
			}
		}
	case strings.HasPrefix(raw, "{"):
		var flags map[string]bool
		if err := json.Unmarshal([]byte(raw), &flags); err != nil {
			return Routing{}, fmt.Errorf("decode channel flags: %w", err)
		}
		for name, on := range flags {
			if ch, ok := parseChannel(name); ok && on {
				r.Channels[ch] = true
			}
		}
	default:
		return Routing{}, fmt.Errorf("unsupported channel encoding: %q", raw)
	}

	switch raw := strings.TrimSpace(recipientsRaw); {
	case raw == "" || raw == "null":
	case strings.HasPrefix(raw, "["):
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return Routing{}, fmt.Errorf("decode recipient list: %w", err)
		}
		r.Legacy = true
		for _, rcpt := range list {
			rcpt = strings.TrimSpace(rcpt)
			if ch, ok := ClassifyRecipient(rcpt); ok {
				r.Recipients[ch] = appendUnique(r.Recipients[ch], rcpt)
			}
		}
	case strings.HasPrefix(raw, "{"):
		var s structuredRecipients
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return Routing{}, fmt.Errorf("decode recipient map: %w", err)
		}
		for _, v := range s.WhatsAppNumbers {
			r.Recipients[ChannelWhatsApp] = appendUnique(r.Recipients[ChannelWhatsApp], strings.TrimSpace(v))
		}
		for _, v := range s.Emails {
			r.Recipients[ChannelEmail] = appendUnique(r.Recipients[ChannelEmail], strings.TrimSpace(v))
		}
		for _, v := range s.SlackWebhooks {
			r.Recipients[ChannelSlack] = appendUnique(r.Recipients[ChannelSlack], strings.TrimSpace(v))
		}
	default:
		return Routing{}, fmt.Errorf("unsupported recipient encoding: %q", raw)
	}

	return r, nil
}

// ClassifyRecipient guesses the channel of a bare recipient string.
// Phone numbers start with "+", webhooks with "https://", emails contain "@".
func ClassifyRecipient(rcpt string) (Channel, bool) {
	switch {
	case strings.HasPrefix(rcpt, "+"):
		return ChannelWhatsApp, true
	case strings.HasPrefix(rcpt, "https://"):
		return ChannelSlack, true
	case strings.Contains(rcpt, "@"):
		return ChannelEmail, true
	default:
		return "", false
	}
}

func parseChannel(name string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(name))) {
	case ChannelWhatsApp:
		return ChannelWhatsApp, true
	case ChannelEmail:
		return ChannelEmail, true
	case ChannelSlack:
		return ChannelSlack, true
	}
	return "", false
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
