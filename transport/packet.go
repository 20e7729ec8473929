package transport

import (
	"fmt"

	"github.com/opd-ai/micbridge/pcm"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the MessageWrapper schema.
const (
	wrapperAudioField protowire.Number = 1
	wrapperMuteField  protowire.Number = 2

	envelopePacketField   protowire.Number = 1
	envelopeSequenceField protowire.Number = 2

	packetBufferField     protowire.Number = 1
	packetSampleRateField protowire.Number = 2
	packetChannelsField   protowire.Number = 3
	packetFormatField     protowire.Number = 4

	muteStateField protowire.Number = 1
)

// AudioPacket is one block of audio from the sender.
type AudioPacket struct {
	Frame pcm.Frame
	// Sequence is a sender-assigned counter; zero when the sender omits it.
	Sequence uint64
}

// MuteMessage carries the sender's or host's mute toggle.
type MuteMessage struct {
	Muted bool
}

// Message is the MessageWrapper union. Exactly one field must be set.
type Message struct {
	Audio *AudioPacket
	Mute  *MuteMessage
}

// NewAudioMessage wraps a frame in a Message.
func NewAudioMessage(frame pcm.Frame, sequence uint64) *Message {
	return &Message{Audio: &AudioPacket{Frame: frame, Sequence: sequence}}
}

// NewMuteMessage wraps a mute toggle in a Message.
func NewMuteMessage(muted bool) *Message {
	return &Message{Mute: &MuteMessage{Muted: muted}}
}

func (m *Message) validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	switch {
	case m.Audio != nil && m.Mute != nil:
		return fmt.Errorf("%w: both audio and mute set", ErrInvalidMessage)
	case m.Audio == nil && m.Mute == nil:
		return fmt.Errorf("%w: no variant set", ErrInvalidMessage)
	}
	return nil
}

// Serialize encodes the message into its protobuf wire form.
func (m *Message) Serialize() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	var out []byte
	if m.Audio != nil {
		out = protowire.AppendTag(out, wrapperAudioField, protowire.BytesType)
		out = protowire.AppendBytes(out, m.Audio.marshalEnvelope())
		return out, nil
	}

	var mute []byte
	mute = protowire.AppendTag(mute, muteStateField, protowire.VarintType)
	mute = protowire.AppendVarint(mute, protowire.EncodeBool(m.Mute.Muted))
	out = protowire.AppendTag(out, wrapperMuteField, protowire.BytesType)
	out = protowire.AppendBytes(out, mute)
	return out, nil
}

func (p *AudioPacket) marshalEnvelope() []byte {
	var pkt []byte
	pkt = protowire.AppendTag(pkt, packetBufferField, protowire.BytesType)
	pkt = protowire.AppendBytes(pkt, p.Frame.Buffer)
	pkt = protowire.AppendTag(pkt, packetSampleRateField, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, uint64(p.Frame.SampleRate))
	pkt = protowire.AppendTag(pkt, packetChannelsField, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, uint64(p.Frame.Channels))
	pkt = protowire.AppendTag(pkt, packetFormatField, protowire.VarintType)
	pkt = protowire.AppendVarint(pkt, uint64(p.Frame.Format))

	var env []byte
	env = protowire.AppendTag(env, envelopePacketField, protowire.BytesType)
	env = protowire.AppendBytes(env, pkt)
	if p.Sequence != 0 {
		env = protowire.AppendTag(env, envelopeSequenceField, protowire.VarintType)
		env = protowire.AppendVarint(env, p.Sequence)
	}
	return env
}

// ParseMessage decodes a frame payload. Unknown fields are skipped. The
// result always has exactly one variant set, and audio frames are checked for
// a usable shape.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}

	msg := &Message{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
		switch {
		case num == wrapperAudioField && typ == protowire.BytesType:
			if msg.Audio != nil {
				return fmt.Errorf("%w: repeated audio field", ErrInvalidMessage)
			}
			pkt, err := parseEnvelope(value)
			if err != nil {
				return err
			}
			msg.Audio = pkt
		case num == wrapperMuteField && typ == protowire.BytesType:
			if msg.Mute != nil {
				return fmt.Errorf("%w: repeated mute field", ErrInvalidMessage)
			}
			mute, err := parseMute(value)
			if err != nil {
				return err
			}
			msg.Mute = mute
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func parseEnvelope(data []byte) (*AudioPacket, error) {
	var (
		pkt   AudioPacket
		found bool
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, v uint64) error {
		switch {
		case num == envelopePacketField && typ == protowire.BytesType:
			frame, err := parseFrame(value)
			if err != nil {
				return err
			}
			pkt.Frame = frame
			found = true
		case num == envelopeSequenceField && typ == protowire.VarintType:
			pkt.Sequence = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: audio envelope without packet", ErrInvalidMessage)
	}
	return &pkt, nil
}

func parseFrame(data []byte) (pcm.Frame, error) {
	var frame pcm.Frame
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, value []byte, v uint64) error {
		switch {
		case num == packetBufferField && typ == protowire.BytesType:
			frame.Buffer = append([]byte(nil), value...)
		case num == packetSampleRateField && typ == protowire.VarintType:
			frame.SampleRate = uint32(v)
		case num == packetChannelsField && typ == protowire.VarintType:
			frame.Channels = uint32(v)
		case num == packetFormatField && typ == protowire.VarintType:
			frame.Format = pcm.Format(v)
		}
		return nil
	})
	if err != nil {
		return pcm.Frame{}, err
	}
	if err := frame.Validate(); err != nil {
		return pcm.Frame{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return frame, nil
}

func parseMute(data []byte) (*MuteMessage, error) {
	mute := &MuteMessage{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, _ []byte, v uint64) error {
		if num == muteStateField && typ == protowire.VarintType {
			mute.Muted = protowire.DecodeBool(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mute, nil
}

// walkFields calls fn for each top-level field. Length-delimited fields
// receive their contents in value; varint fields receive their value in v.
// Other wire types are skipped.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, value []byte, v uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			value, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrInvalidMessage, num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := fn(num, typ, value, 0); err != nil {
				return err
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrInvalidMessage, num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrInvalidMessage, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
