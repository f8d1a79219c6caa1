package group

import (
	"io"
	"time"
)

// Socket represents a messaging socket that can send and receive frames.
// It abstracts the underlying transport so tests can swap it.
type Socket interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// ListenSocket is a socket that can bind to an address and accept connections.
type ListenSocket interface {
	Socket
	Listen(addr string) error
}

// DialSocket is a socket that can connect to a remote address.
type DialSocket interface {
	Socket
	Dial(addr string) error
}

// SubscribeSocket is a SUB socket that can subscribe to topics.
type SubscribeSocket interface {
	DialSocket
	Subscribe(topic []byte) error
}

// SurveySocket is a SURVEYOR socket with survey timeout configuration.
type SurveySocket interface {
	ListenSocket
	SetSurveyTime(d time.Duration) error
}

// SocketFactory creates sockets for the patterns the group uses: PUB/SUB for
// broadcast and heartbeats, SURVEYOR/RESPONDENT for surveys.
type SocketFactory interface {
	NewPubSocket() (ListenSocket, error)
	NewSubSocket() (SubscribeSocket, error)
	NewSurveyorSocket() (SurveySocket, error)
	NewRespondentSocket() (DialSocket, error)
}

// Peer is the address pair of another instance.
type Peer struct {
	PubAddr    string `yaml:"pub_addr" validate:"required"`
	SurveyAddr string `yaml:"survey_addr" validate:"required"`
}
