package models

// Channel identifies a delivery medium with its own constraints and cost.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// MaxMessageLength returns the hard length ceiling for rendered messages on
// this channel. Zero means unbounded.
func (c Channel) MaxMessageLength() int {
	switch c {
	case ChannelSMS:
		return 160
	case ChannelWhatsApp:
		return 300
	case ChannelEmail:
		return 0
	default:
		return 0
	}
}

// UnitCost returns the per-message cost charged for a send on this channel.
func (c Channel) UnitCost() float64 {
	switch c {
	case ChannelSMS:
		return 0.045
	case ChannelWhatsApp:
		return 0.03
	case ChannelEmail:
		return 0.001
	default:
		return 0
	}
}

// Valid reports whether c names a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

// AllChannels lists every supported channel, in display order.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}
}
