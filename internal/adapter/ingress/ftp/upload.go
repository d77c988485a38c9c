package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"relay-gateway/internal/adapter/ingress"
	"relay-gateway/internal/core/domain"
	"relay-gateway/pkg/apperror"
	"relay-gateway/pkg/logger"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// maxUploadSize bounds a single payload file.
const maxUploadSize = 1 << 20

var errUploadTooLarge = errors.New("upload exceeds size limit")

// sessionFs is the file system seen by one logged-in client, rooted at its
// own directory so concurrent sessions never share a file. Files opened for
// writing are routed when closed; transfers are throttled.
type sessionFs struct {
	afero.Fs
	dir      string // relative to the server root
	ctx      context.Context
	upload   *rate.Limiter // bytes received from the client
	download *rate.Limiter // bytes sent to the client
	onUpload func(name string, tooLarge bool) error
}

func (f *sessionFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (f *sessionFs) Open(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func (f *sessionFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return &throttledFile{File: file, ctx: f.ctx, limiter: f.download}, nil
	}
	return &uploadFile{
		throttledFile: throttledFile{File: file, ctx: f.ctx, limiter: f.upload},
		onClose:       func(tooLarge bool) error { return f.onUpload(name, tooLarge) },
	}, nil
}

type throttledFile struct {
	afero.File
	ctx     context.Context
	limiter *rate.Limiter
}

func (f *throttledFile) Read(p []byte) (int, error) {
	if err := waitBytes(f.ctx, f.limiter, len(p)); err != nil {
		return 0, err
	}
	return f.File.Read(p)
}

func (f *throttledFile) Write(p []byte) (int, error) {
	if err := waitBytes(f.ctx, f.limiter, len(p)); err != nil {
		return 0, err
	}
	return f.File.Write(p)
}

// uploadFile routes its contents once the transfer closes it. Writes past
// maxUploadSize fail and nothing beyond the limit reaches the disk.
type uploadFile struct {
	throttledFile
	onClose  func(tooLarge bool) error
	written  int64
	tooLarge bool
	closed   bool
}

func (f *uploadFile) Write(p []byte) (int, error) {
	if f.tooLarge || f.written+int64(len(p)) > maxUploadSize {
		f.tooLarge = true
		return 0, errUploadTooLarge
	}
	n, err := f.throttledFile.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *uploadFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.File.Close(); err != nil {
		return err
	}
	return f.onClose(f.tooLarge)
}

// newByteLimiter returns a limiter for bytesPerSec, or nil for unlimited.
func newByteLimiter(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

// waitBytes blocks until n bytes may pass, in burst-sized steps.
func waitBytes(ctx context.Context, l *rate.Limiter, n int) error {
	if l == nil {
		return nil
	}
	for n > 0 {
		step := min(n, l.Burst())
		if err := l.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// processUpload routes a completed upload read from the session's fs. The
// file is removed when routed or when it can never be routed; retryable
// failures keep it on disk and report the failure to the client.
func (s *Server) processUpload(ctx context.Context, fs afero.Fs, name, ip string, tooLarge bool) error {
	log := s.log.With().Str("file", name).Str("ip", ip).Logger()

	raw, err := readUpload(fs, name)
	if err == nil && tooLarge {
		err = errUploadTooLarge
	}
	if err != nil {
		log.Warn().Err(err).Msg("upload unreadable")
		s.metrics.IncIngress(string(domain.ProtocolFTP), "rejected")
		s.remove(fs, name)
		return err
	}

	p, err := ingress.ParseEnvelope(raw, ingress.Source{
		Protocol:   domain.ProtocolFTP,
		Secure:     s.tls != nil,
		ReceivedAt: s.now(),
	})
	if err == nil {
		var outcome *domain.RouteOutcome
		outcome, err = s.router.Route(ctx, p)
		if err == nil {
			result := "routed"
			if outcome.Buffered {
				result = "buffered"
			}
			s.metrics.IncIngress(string(domain.ProtocolFTP), result)
			log.Info().
				Str("msisdn", logger.MaskSender(p.MSISDN)).
				Str("downstream", string(outcome.Downstream)).
				Str("response", outcome.Response).
				Msg("upload " + result)
			s.remove(fs, name)
			return nil
		}
	}

	if ingress.Retryable(err) {
		log.Error().Err(err).Msg("upload routing failed, file kept")
		s.metrics.IncIngress(string(domain.ProtocolFTP), "failed")
		return errors.New("delivery failed, please retry")
	}
	log.Warn().Err(err).Msg("upload rejected")
	s.metrics.IncIngress(string(domain.ProtocolFTP), "rejected")
	s.remove(fs, name)
	return clientMessage(err)
}

func readUpload(fs afero.Fs, name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(raw) > maxUploadSize {
		return nil, errUploadTooLarge
	}
	return raw, nil
}

func (s *Server) remove(fs afero.Fs, name string) {
	if err := fs.Remove(name); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("file", name).Msg("failed to remove upload")
	}
}

// clientMessage strips internal detail from errors shown to FTP clients.
func clientMessage(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return errors.New(appErr.Message)
	}
	return err
}
