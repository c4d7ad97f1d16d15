package testutils

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SftpServer serves the local filesystem over SFTP to any client key, for tests only.
type SftpServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	wg       sync.WaitGroup
}

func StartSftpServer(hostKey string) (*SftpServer, error) {
	sshConfig := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{
				Extensions: map[string]string{
					"pubkey-fp": ssh.FingerprintSHA256(pubKey),
				},
			}, nil
		},
	}

	private, err := ssh.ParsePrivateKey([]byte(hostKey))
	if err != nil {
		return nil, err
	}

	sshConfig.AddHostKey(private)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	server := &SftpServer{
		listener: listener,
		config:   sshConfig,
	}

	server.wg.Add(1)
	go server.serve()

	return server, nil
}

func (s *SftpServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *SftpServer) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *SftpServer) serve() {
	defer s.wg.Done()

	for {
		nConn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Error("[sftp] fail to accept connection", slog.Any("error", err))
			}

			return
		}

		go s.handleConn(nConn)
	}
}

func (s *SftpServer) handleConn(nConn net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nConn, s.config)
	if err != nil {
		slog.Error("[sftp] fail to handshake", slog.Any("error", err))
		return
	}

	defer conn.Close()

	slog.Debug("[sftp] ssh logged in", slog.Any("key", conn.Permissions.Extensions["pubkey-fp"]))

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			slog.Error("[sftp] fail to accept channel", slog.Any("error", err))
			return
		}

		go func() {
			defer func() {
				if err := channel.Close(); err != nil && !errors.Is(err, io.EOF) {
					slog.Error("[sftp] fail to close ssh channel", slog.Any("error", err))
				}
			}()

			handleSftpRequests(requests, channel)
		}()
	}
}

func handleSftpRequests(requests <-chan *ssh.Request, channel ssh.Channel) {
	for req := range requests {
		if req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
			req.Reply(true, nil)

			server, err := sftp.NewServer(channel)
			if err != nil {
				slog.Error("[sftp] fail to create server", slog.Any("error", err))
				return
			}

			if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
				slog.Error("[sftp] server exited with error", slog.Any("error", err))
			}

			return
		}

		req.Reply(false, nil)
	}
}
