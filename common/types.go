package common

type ServerAddr string
type ServerMode string
type PeerID string

// Message is a raw chunk read from a peer socket. No framing is applied, so a
// single write on the client side may arrive as several messages.
type Message struct {
	From PeerID
	Data []byte
}
