package steam

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// LogonOptions selects how a session authenticates.
type LogonOptions struct {
	// Username and Password are explicit credentials. When set, credential
	// logon is used directly after the cached-token attempt.
	Username string
	Password string

	// Anonymous forces anonymous logon and skips the token cache.
	Anonymous bool

	// Authenticator answers second-factor prompts during credential logon.
	Authenticator Authenticator
}

// Session holds one authenticated connection to the content delivery
// service. It owns the background event pump and the persisted token cache,
// and guarantees teardown of both on Close regardless of how far logon got.
type Session struct {
	client ContentClient
	store  *TokenStore
	log    *zap.Logger

	cancelPump context.CancelFunc
	pumpDone   chan struct{}
}

// NewSession creates a session over client using store as the auth cache.
func NewSession(client ContentClient, store *TokenStore, log *zap.Logger) *Session {
	return &Session{
		client: client,
		store:  store,
		log:    log,
	}
}

// Client exposes the underlying content client for depot operations.
func (s *Session) Client() ContentClient {
	return s.client
}

// LogOn connects and authenticates: cached refresh token first, then
// anonymous or credential logon depending on opts. A successful credential
// logon persists the new refresh token before returning. Errors here are
// fatal for the whole run; Close must still be called.
func (s *Session) LogOn(ctx context.Context, opts LogonOptions) error {
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.startPump()

	if opts.Anonymous {
		return s.client.LogOnAnonymous(ctx)
	}

	// Silent logon with the cached refresh credential comes first. A
	// rejection means the token was revoked or expired; the cache is
	// cleared so the next run does not retry a dead token.
	var guardData string
	rec, err := s.store.Load(opts.Username)
	if err != nil {
		s.log.Warn("Auth cache unreadable", zap.Error(err))
	}
	if rec != nil {
		err := s.client.LogOnWithToken(ctx, rec.Username, rec.RefreshToken)
		if err == nil {
			s.log.Info("Logged on with cached token", zap.String("username", rec.Username))
			return nil
		}
		if !errors.Is(err, ErrAuthRejected) {
			return err
		}
		s.log.Info("Cached token rejected, clearing auth cache", zap.String("username", rec.Username))
		if cerr := s.store.Clear(); cerr != nil {
			s.log.Warn("Failed to clear auth cache", zap.Error(cerr))
		}
		guardData = rec.GuardData
	}

	if opts.Username == "" {
		return s.client.LogOnAnonymous(ctx)
	}

	creds, err := s.client.BeginCredentialAuth(ctx, opts.Username, opts.Password, guardData, opts.Authenticator)
	if err != nil {
		return err
	}

	// Persist before completing so the next run can skip interactive steps.
	saveErr := s.store.Save(&TokenRecord{
		Username:     opts.Username,
		SteamID:      creds.SteamID,
		RefreshToken: creds.RefreshToken,
		GuardData:    creds.GuardData,
	})
	if saveErr != nil {
		s.log.Warn("Failed to persist auth cache", zap.Error(saveErr))
	}
	s.log.Info("Logged on with credentials", zap.String("username", opts.Username))
	return nil
}

// startPump launches the background task that drains session events. The
// task is joined in Close; it never outlives the session.
func (s *Session) startPump() {
	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancelPump = cancel
	s.pumpDone = make(chan struct{})

	go func() {
		defer close(s.pumpDone)
		for {
			if err := s.client.PumpEvent(pumpCtx); err != nil {
				if pumpCtx.Err() != nil {
					return
				}
				s.log.Debug("Session event error", zap.Error(err))
			}
		}
	}()
}

// Close logs off and joins the event pump. It runs the full teardown on
// every exit path, including after a failed logon.
func (s *Session) Close() {
	if s.cancelPump != nil {
		s.cancelPump()
	}
	s.client.LogOff()
	if s.pumpDone != nil {
		<-s.pumpDone
	}
}
