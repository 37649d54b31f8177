package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// FallbackDialer tries its dialers in order and returns the first socket opened.
// An authentication rejection stops the walk: another channel would be refused too.
type FallbackDialer struct {
	logger  domain.Logger
	dialers []domain.Dialer
}

// NewFallbackDialer creates a dialer preferring dialers[0].
func NewFallbackDialer(logger domain.Logger, dialers ...domain.Dialer) *FallbackDialer {
	return &FallbackDialer{logger: logger, dialers: dialers}
}

// Name lists the underlying transports, e.g. "websocket,polling".
func (f *FallbackDialer) Name() string {
	names := make([]string, 0, len(f.dialers))
	for _, d := range f.dialers {
		names = append(names, d.Name())
	}
	return strings.Join(names, ",")
}

// Dial implements domain.Dialer.
func (f *FallbackDialer) Dial(ctx context.Context, token string, handler domain.SocketHandler) (domain.Socket, error) {
	if len(f.dialers) == 0 {
		return nil, errors.New("no transports configured")
	}

	var errs []error
	for _, d := range f.dialers {
		sock, err := d.Dial(ctx, token, handler)
		if err == nil {
			return sock, nil
		}
		if errors.Is(err, domain.ErrAuthRejected) {
			return nil, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn(ctx, "Transport unavailable, trying next", "transport", d.Name(), "error", err.Error())
	}
	return nil, errors.Join(errs...)
}
