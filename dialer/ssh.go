package dialer

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

const dialTimeout = 30 * time.Second

type Ssh struct {
	host    string
	key     string
	user    string
	hostKey string
}

type SshOption func(s *Ssh)

// WithHostKey pins the server key, in authorized_keys format. Without it any host key is accepted.
func WithHostKey(hostKey string) SshOption {
	return func(s *Ssh) {
		s.hostKey = hostKey
	}
}

func NewSsh(host, key, user string, opts ...SshOption) *Ssh {
	s := &Ssh{
		host: host,
		key:  key,
		user: user,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func ensureHaveSSHPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, "22")
	}
	return addr
}

func (s *Ssh) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.hostKey == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	publicKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s.hostKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh host key :%w", err)
	}

	return ssh.FixedHostKey(publicKey), nil
}

func (s *Ssh) CreateSshClient(ctx context.Context) (*ssh.Client, error) {
	host := ensureHaveSSHPort(s.host)

	signer, err := ssh.ParsePrivateKey([]byte(s.key))
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh singer :%w", err)
	}

	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	conf := &ssh.ClientConfig{
		User:            s.user,
		HostKeyCallback: hostKeyCallback,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		Timeout: dialTimeout,
	}

	dialer := net.Dialer{Timeout: dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, host, conf)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}
