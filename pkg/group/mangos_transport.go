package group

import (
	"crypto/tls"
	"strings"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/respondent"
	"go.nanomsg.org/mangos/v3/protocol/sub"
	"go.nanomsg.org/mangos/v3/protocol/surveyor"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// mangosSocket wraps a mangos.Socket to implement our Socket interface.
type mangosSocket struct {
	sock mangos.Socket
	tls  *tls.Config
}

// options returns the per-endpoint options; tls+tcp endpoints carry the
// TLS configuration.
func (s *mangosSocket) options(extra map[string]interface{}) map[string]interface{} {
	opts := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		opts[k] = v
	}
	if s.tls != nil {
		opts[mangos.OptionTLSConfig] = s.tls
	}
	return opts
}

func (s *mangosSocket) Send(data []byte) error {
	return s.sock.Send(data)
}

func (s *mangosSocket) Recv() ([]byte, error) {
	return s.sock.Recv()
}

func (s *mangosSocket) Close() error {
	return s.sock.Close()
}

func (s *mangosSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionRecvDeadline, d)
}

func (s *mangosSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionSendDeadline, d)
}

func (s *mangosSocket) Listen(addr string) error {
	if s.tls == nil || !isTLS(addr) {
		return s.sock.Listen(addr)
	}
	return s.sock.ListenOptions(addr, s.options(nil))
}

// Dial connects asynchronously so peers may start in any order.
func (s *mangosSocket) Dial(addr string) error {
	opts := map[string]interface{}{mangos.OptionDialAsynch: true}
	if s.tls != nil && isTLS(addr) {
		opts = s.options(opts)
	}
	return s.sock.DialOptions(addr, opts)
}

func isTLS(addr string) bool {
	return strings.HasPrefix(addr, "tls+tcp://")
}

// mangosSubSocket adds subscription capability.
type mangosSubSocket struct {
	mangosSocket
}

func (s *mangosSubSocket) Subscribe(topic []byte) error {
	return s.sock.SetOption(mangos.OptionSubscribe, topic)
}

// mangosSurveySocket adds survey time configuration.
type mangosSurveySocket struct {
	mangosSocket
}

func (s *mangosSurveySocket) SetSurveyTime(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionSurveyTime, d)
}

// MangosSocketFactory creates mangos sockets. When TLS is set, tls+tcp://
// endpoints use it for both listening and dialing.
type MangosSocketFactory struct {
	TLS *tls.Config
}

// NewMangosSocketFactory creates a new mangos socket factory.
func NewMangosSocketFactory(tlsConfig *tls.Config) *MangosSocketFactory {
	return &MangosSocketFactory{TLS: tlsConfig}
}

func (f *MangosSocketFactory) NewPubSocket() (ListenSocket, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, err
	}
	return &mangosSocket{sock: sock, tls: f.TLS}, nil
}

func (f *MangosSocketFactory) NewSubSocket() (SubscribeSocket, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, err
	}
	return &mangosSubSocket{mangosSocket{sock: sock, tls: f.TLS}}, nil
}

func (f *MangosSocketFactory) NewSurveyorSocket() (SurveySocket, error) {
	sock, err := surveyor.NewSocket()
	if err != nil {
		return nil, err
	}
	return &mangosSurveySocket{mangosSocket{sock: sock, tls: f.TLS}}, nil
}

func (f *MangosSocketFactory) NewRespondentSocket() (DialSocket, error) {
	sock, err := respondent.NewSocket()
	if err != nil {
		return nil, err
	}
	return &mangosSocket{sock: sock, tls: f.TLS}, nil
}

// Ensure MangosSocketFactory implements SocketFactory
var _ SocketFactory = (*MangosSocketFactory)(nil)
