package frame

import "fmt"

// ParseState is the position of the receive parser inside a message.
type ParseState uint8

const (
	ParseListen ParseState = iota
	ParseInit
	ParseData
	ParseDataEscaped
)

func (s ParseState) String() string {
	switch s {
	case ParseListen:
		return "listen"
	case ParseInit:
		return "init"
	case ParseData:
		return "data"
	case ParseDataEscaped:
		return "data_escaped"
	default:
		return fmt.Sprintf("parse_state(%d)", uint8(s))
	}
}

// Mode selects which message set the parser recognizes.
type Mode uint8

const (
	// ModeConnected recognizes every message type.
	ModeConnected Mode = iota
	// ModeHandshake only recognizes Join; everything else is skipped.
	ModeHandshake
)

func (m Mode) String() string {
	if m == ModeHandshake {
		return "handshake"
	}
	return "connected"
}

type EventKind uint8

const (
	EventNone EventKind = iota
	EventJoin
	EventLeave
	EventAck
	EventPayload
	EventDesync
	// EventOversize reports a completed data message that exceeded Limits and was dropped.
	EventOversize
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventAck:
		return "ack"
	case EventPayload:
		return "payload"
	case EventDesync:
		return "desync"
	case EventOversize:
		return "oversize"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is what a single byte completed, if anything.
type Event struct {
	Kind    EventKind
	Payload []byte
}

// Parser decodes the wire format one byte at a time. There is no length
// prefix; message boundaries come only from Escape sequences.
// A Parser is not safe for concurrent use.
type Parser struct {
	limits   Limits
	state    ParseState
	buf      []byte
	oversize bool
}

func NewParser(limits Limits) *Parser {
	return &Parser{
		limits: limits,
		state:  ParseListen,
	}
}

func (p *Parser) State() ParseState {
	return p.state
}

// Buffered is the size of the partial payload under construction.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Reset drops any partial payload and returns to ParseListen.
func (p *Parser) Reset() {
	p.state = ParseListen
	p.buf = p.buf[:0]
	p.oversize = false
}

// Feed advances the parser by one byte.
func (p *Parser) Feed(mode Mode, b byte) Event {
	if mode == ModeHandshake {
		return p.feedHandshake(b)
	}
	return p.feedConnected(b)
}

func (p *Parser) feedHandshake(b byte) Event {
	if p.state != ParseInit {
		if b == Escape {
			p.Reset()
			p.state = ParseInit
		}
		return Event{}
	}
	p.state = ParseListen
	if MessageType(b) == TypeJoin {
		return Event{Kind: EventJoin}
	}
	return Event{}
}

func (p *Parser) feedConnected(b byte) Event {
	switch p.state {
	case ParseListen:
		if b == Escape {
			p.state = ParseInit
		}
		return Event{}

	case ParseInit:
		if b == Escape {
			// caught mid data
			p.state = ParseListen
			return Event{}
		}
		switch MessageType(b) {
		case TypeJoin:
			p.state = ParseListen
			return Event{Kind: EventJoin}
		case TypeLeave:
			p.state = ParseListen
			return Event{Kind: EventLeave}
		case TypeData:
			p.state = ParseData
			p.buf = p.buf[:0]
			p.oversize = false
			return Event{}
		case TypeAck:
			p.state = ParseListen
			return Event{Kind: EventAck}
		case TypeEnd:
			p.state = ParseListen
			return Event{}
		default:
			p.state = ParseListen
			return Event{Kind: EventDesync}
		}

	case ParseData:
		if b == Escape {
			p.state = ParseDataEscaped
			return Event{}
		}
		p.append(b)
		return Event{}

	case ParseDataEscaped:
		switch {
		case MessageType(b) == TypeEnd:
			return p.finish()
		case b == Escape:
			p.append(Escape)
			p.state = ParseData
			return Event{}
		default:
			p.Reset()
			return Event{Kind: EventDesync}
		}
	}

	p.Reset()
	return Event{Kind: EventDesync}
}

// append stops growing the buffer once the payload is known to be oversize,
// but keeps parsing so the terminator is still found.
func (p *Parser) append(b byte) {
	if p.oversize {
		return
	}
	if !p.limits.allows(len(p.buf) + 1) {
		p.oversize = true
		p.buf = p.buf[:0]
		return
	}
	p.buf = append(p.buf, b)
}

func (p *Parser) finish() Event {
	if p.oversize {
		p.Reset()
		return Event{Kind: EventOversize}
	}
	payload := make([]byte, len(p.buf))
	copy(payload, p.buf)
	p.Reset()
	return Event{Kind: EventPayload, Payload: payload}
}
