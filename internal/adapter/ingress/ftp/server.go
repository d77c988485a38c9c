// Package ftp accepts payload uploads over FTP and routes each file once the
// upload completes.
package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"relay-gateway/config"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/observability"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	banner            = "Relay Gateway FTP Server"
	idleTimeout       = 300 // seconds
	connectionTimeout = 30  // seconds
)

var (
	errTooManyConnections = errors.New("too many connections")
	errBadCredentials     = errors.New("invalid username or password")
	errTLSDisabled        = errors.New("TLS is not configured")
)

// Authenticator checks login credentials.
type Authenticator interface {
	Check(user, pass string) bool
}

// Server runs an FTP server whose uploads are routed as payloads. It
// implements ftpserver.MainDriver.
type Server struct {
	cfg     config.FTPConfig
	fs      afero.Fs
	auth    Authenticator
	router  ports.Router
	metrics *observability.Metrics
	tls     *tls.Config
	conns   *connLimiter
	now     func() time.Time
	log     zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	server   *ftpserver.FtpServer
	sessions map[uint32]string // client id -> session directory
}

// NewServer creates an FTP server storing uploads in fs. fs is expected to be
// rooted at the upload directory.
func NewServer(cfg config.FTPConfig, fs afero.Fs, auth Authenticator, router ports.Router, metrics *observability.Metrics, log zerolog.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		fs:      fs,
		auth:    auth,
		router:  router,
		metrics: metrics,
		conns:   newConnLimiter(cfg.MaxConnections, cfg.MaxConnectionsPerIP),
		now:     time.Now,
		log:     log.With().Str("component", "ftp").Logger(),
		ctx:      context.Background(),
		sessions: make(map[uint32]string),
	}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load ftp tls keypair: %w", err)
		}
		s.tls = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}
	return s, nil
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := ftpserver.NewFtpServer(s)
	s.mu.Lock()
	s.ctx = ctx
	s.server = srv
	s.mu.Unlock()

	if err := srv.Listen(); err != nil {
		return fmt.Errorf("ftp listen on %s: %w", s.cfg.Addr(), err)
	}
	s.log.Info().Str("addr", s.cfg.Addr()).Bool("tls", s.tls != nil).Msg("ftp server started")

	go func() {
		<-ctx.Done()
		if err := srv.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("ftp server stop")
		}
	}()

	if err := srv.Serve(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ftp serve: %w", err)
	}
	return nil
}

// GetSettings implements ftpserver.MainDriver.
func (s *Server) GetSettings() (*ftpserver.Settings, error) {
	settings := &ftpserver.Settings{
		ListenAddr:        s.cfg.Addr(),
		Banner:            banner,
		IdleTimeout:       idleTimeout,
		ConnectionTimeout: connectionTimeout,
	}
	if s.cfg.PassivePorts != "" {
		start, end, err := s.cfg.PassiveRange()
		if err != nil {
			return nil, err
		}
		settings.PassiveTransferPortRange = &ftpserver.PortRange{Start: start, End: end}
	}
	if s.tls != nil {
		settings.TLSRequired = ftpserver.MandatoryEncryption
	}
	return settings, nil
}

// GetTLSConfig implements ftpserver.MainDriver.
func (s *Server) GetTLSConfig() (*tls.Config, error) {
	if s.tls == nil {
		return nil, errTLSDisabled
	}
	return s.tls, nil
}

// ClientConnected implements ftpserver.MainDriver.
func (s *Server) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	ip := remoteIP(cc.RemoteAddr())
	if err := s.conns.acquire(cc.ID(), ip); err != nil {
		s.log.Warn().Str("ip", ip).Err(err).Msg("ftp connection refused")
		return "Too many connections, try again later", err
	}
	s.log.Debug().Uint32("session", cc.ID()).Str("ip", ip).Msg("ftp client connected")
	return banner, nil
}

// ClientDisconnected implements ftpserver.MainDriver.
func (s *Server) ClientDisconnected(cc ftpserver.ClientContext) {
	s.conns.release(cc.ID())
	s.mu.Lock()
	dir, ok := s.sessions[cc.ID()]
	delete(s.sessions, cc.ID())
	s.mu.Unlock()
	if ok {
		s.pruneSession(dir)
	}
}

// AuthUser implements ftpserver.MainDriver.
func (s *Server) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	sfs, err := s.login(user, pass, remoteIP(cc.RemoteAddr()))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sessions[cc.ID()] = sfs.dir
	s.mu.Unlock()
	return sfs, nil
}

func (s *Server) login(user, pass, ip string) (*sessionFs, error) {
	if s.auth == nil || !s.auth.Check(user, pass) {
		s.log.Warn().Str("ip", ip).Str("user", user).Msg("ftp login rejected")
		return nil, errBadCredentials
	}

	dir := "/" + uuid.NewString()
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create ftp session dir: %w", err)
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	sfs := &sessionFs{
		Fs:       afero.NewBasePathFs(s.fs, dir),
		dir:      dir,
		ctx:      ctx,
		upload:   newByteLimiter(s.cfg.ReadLimit),
		download: newByteLimiter(s.cfg.WriteLimit),
	}
	sfs.onUpload = func(name string, tooLarge bool) error {
		return s.processUpload(ctx, sfs.Fs, name, ip, tooLarge)
	}
	return sfs, nil
}

// pruneSession removes a session directory once nothing is left in it.
// Uploads kept for retry keep their directory.
func (s *Server) pruneSession(dir string) {
	empty, err := afero.IsEmpty(s.fs, dir)
	if err != nil || !empty {
		return
	}
	if err := s.fs.Remove(dir); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("dir", dir).Msg("failed to remove ftp session dir")
	}
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// connLimiter enforces the global and per-IP connection caps. Zero disables
// a cap.
type connLimiter struct {
	mu       sync.Mutex
	max      int
	maxPerIP int
	sessions map[uint32]string
	perIP    map[string]int
}

func newConnLimiter(maxConns, maxPerIP int) *connLimiter {
	return &connLimiter{
		max:      maxConns,
		maxPerIP: maxPerIP,
		sessions: make(map[uint32]string),
		perIP:    make(map[string]int),
	}
}

func (l *connLimiter) acquire(id uint32, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max > 0 && len(l.sessions) >= l.max {
		return errTooManyConnections
	}
	if l.maxPerIP > 0 && l.perIP[ip] >= l.maxPerIP {
		return fmt.Errorf("%w from %s", errTooManyConnections, ip)
	}
	l.sessions[id] = ip
	l.perIP[ip]++
	return nil
}

// release is a no-op for sessions that were never admitted.
func (l *connLimiter) release(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ip, ok := l.sessions[id]
	if !ok {
		return
	}
	delete(l.sessions, id)
	if l.perIP[ip]--; l.perIP[ip] <= 0 {
		delete(l.perIP, ip)
	}
}

func (l *connLimiter) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
