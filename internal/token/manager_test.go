package token_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/authority"
	"github.com/frahmantamala/restaurant-pos/internal/clock"
	authoritytypes "github.com/frahmantamala/restaurant-pos/internal/core/datamodel/authority"
	"github.com/frahmantamala/restaurant-pos/internal/notice"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/storage"
	"github.com/frahmantamala/restaurant-pos/internal/token"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestToken(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Token Lifecycle Suite")
}

type fakeRenewer struct {
	mu     sync.Mutex
	tokens []string
	resp   *authoritytypes.RenewResponse
	err    error
	before func()
}

func (f *fakeRenewer) RenewToken(_ context.Context, tok string) (*authoritytypes.RenewResponse, error) {
	f.mu.Lock()
	f.tokens = append(f.tokens, tok)
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}
	return f.resp, f.err
}

func (f *fakeRenewer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type fakeProfiles struct {
	err error
}

func (f *fakeProfiles) Profile(context.Context, string) (*authoritytypes.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &authoritytypes.Profile{ID: "u-1"}, nil
}

var _ = Describe("Manager", func() {
	var (
		ctx      context.Context
		now      time.Time
		clk      *clock.Fake
		backend  *storage.MemoryBackend
		store    *session.Store
		renewer  *fakeRenewer
		profiles *fakeProfiles
		inbox    *notice.Inbox
		config   token.Config
		manager  *token.Manager
	)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	seed := func(expiresAt time.Time) {
		Expect(store.Write(ctx, &session.Session{
			UserID:         "u-1",
			Role:           session.RoleAdmin,
			Token:          "token-1",
			TokenExpiresAt: expiresAt,
		})).To(Succeed())
	}

	build := func() {
		manager = token.NewManager(token.Deps{
			Store:     store,
			Renewer:   renewer,
			Profiles:  profiles,
			Clock:     clk,
			Notifier:  inbox,
			Navigator: inbox,
			Logger:    logger,
		}, config)
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		clk = clock.NewFake(now)
		backend = storage.NewMemoryBackend()
		store = session.NewStore(backend, logger)
		renewer = &fakeRenewer{resp: &authoritytypes.RenewResponse{Token: "token-2", ExpiresIn: 3600}}
		profiles = &fakeProfiles{}
		inbox = notice.NewInbox(10, logger)
		config = token.Config{}
		build()
	})

	AfterEach(func() {
		manager.Stop()
	})

	It("should stay idle without a session", func() {
		Expect(manager.Start(ctx)).To(Succeed())
		Expect(manager.State()).To(Equal(token.StateIdle))
		Expect(clk.Pending()).To(BeZero())
	})

	It("should renew five minutes before expiry and re-arm", func() {
		seed(now.Add(time.Hour))
		Expect(manager.Start(ctx)).To(Succeed())

		refreshAt, ok := manager.RefreshAt()
		Expect(ok).To(BeTrue())
		Expect(refreshAt).To(BeTemporally("==", now.Add(55 * time.Minute)))

		clk.Advance(54 * time.Minute)
		Expect(renewer.calls()).To(BeZero())

		clk.Advance(time.Minute)
		Expect(renewer.calls()).To(Equal(1))
		Expect(renewer.tokens[0]).To(Equal("token-1"))

		sess, err := store.Read(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(sess.Token).To(Equal("token-2"))
		Expect(sess.TokenExpiresAt.Equal(now.Add(55*time.Minute + time.Hour))).To(BeTrue())

		Expect(manager.State()).To(Equal(token.StateScheduled))
		refreshAt, _ = manager.RefreshAt()
		Expect(refreshAt).To(BeTemporally("==", now.Add(55*time.Minute + 55*time.Minute)))
	})

	It("should renew immediately when already inside the buffer", func() {
		seed(now.Add(4 * time.Minute))
		Expect(manager.Start(ctx)).To(Succeed())

		next, ok := clk.NextDeadline()
		Expect(ok).To(BeTrue())
		Expect(next).To(BeTemporally("==", now))

		clk.Advance(0)
		Expect(renewer.calls()).To(Equal(1))
		Expect(manager.State()).To(Equal(token.StateScheduled))
	})

	It("should expire a token that already lapsed without calling out", func() {
		seed(now.Add(-time.Second))
		Expect(manager.Start(ctx)).To(Succeed())

		Expect(manager.State()).To(Equal(token.StateExpired))
		Expect(renewer.calls()).To(BeZero())
		Expect(backend.Len()).To(BeZero())

		n, reason := inbox.Navigations()
		Expect(n).To(Equal(1))
		Expect(reason).To(Equal(notice.ReasonSessionExpired))
	})

	It("should clear the session and navigate exactly once when renewal fails", func() {
		renewer.resp = nil
		renewer.err = authority.ErrUnauthorized
		seed(now.Add(10 * time.Minute))
		Expect(manager.Start(ctx)).To(Succeed())

		clk.Advance(5 * time.Minute)
		clk.Advance(time.Hour)

		Expect(renewer.calls()).To(Equal(1))
		Expect(manager.State()).To(Equal(token.StateExpired))
		Expect(backend.Len()).To(BeZero())

		n, reason := inbox.Navigations()
		Expect(n).To(Equal(1))
		Expect(reason).To(Equal(notice.ReasonSessionExpired))
		latest, ok := inbox.Latest()
		Expect(ok).To(BeTrue())
		Expect(latest.Message).To(Equal(notice.Message(notice.ReasonSessionExpired)))
	})

	It("should release the timer on stop without touching the session", func() {
		seed(now.Add(time.Hour))
		Expect(manager.Start(ctx)).To(Succeed())

		manager.Stop()
		clk.Advance(2 * time.Hour)

		Expect(renewer.calls()).To(BeZero())
		Expect(manager.State()).To(Equal(token.StateIdle))
		Expect(store.IsAuthenticated(ctx)).To(BeTrue())
		n, _ := inbox.Navigations()
		Expect(n).To(BeZero())
	})

	It("should discard a renewal that completes after stop", func() {
		renewer.before = func() { manager.Stop() }
		seed(now.Add(time.Hour))
		Expect(manager.Start(ctx)).To(Succeed())

		clk.Advance(55 * time.Minute)

		Expect(renewer.calls()).To(Equal(1))
		sess, _ := store.Read(ctx)
		Expect(sess.Token).To(Equal("token-1"))
		Expect(manager.State()).To(Equal(token.StateIdle))
		Expect(clk.Pending()).To(BeZero())
	})

	It("should discard a failed renewal that completes after stop", func() {
		renewer.resp = nil
		renewer.err = errors.New("connection reset")
		renewer.before = func() { manager.Stop() }
		seed(now.Add(time.Hour))
		Expect(manager.Start(ctx)).To(Succeed())

		clk.Advance(55 * time.Minute)

		Expect(store.IsAuthenticated(ctx)).To(BeTrue())
		n, _ := inbox.Navigations()
		Expect(n).To(BeZero())
	})

	It("should go idle when the session was cleared before the timer fired", func() {
		seed(now.Add(time.Hour))
		Expect(manager.Start(ctx)).To(Succeed())
		Expect(store.Clear(ctx)).To(Succeed())

		clk.Advance(time.Hour)

		Expect(renewer.calls()).To(BeZero())
		Expect(manager.State()).To(Equal(token.StateIdle))
		n, _ := inbox.Navigations()
		Expect(n).To(BeZero())
	})

	It("should read the expiry from the token when the authority omits it", func() {
		exp := now.Add(2 * time.Hour)
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		}).SignedString([]byte("irrelevant"))
		Expect(err).NotTo(HaveOccurred())
		renewer.resp = &authoritytypes.RenewResponse{Token: signed}

		seed(now.Add(10 * time.Minute))
		Expect(manager.Start(ctx)).To(Succeed())
		clk.Advance(5 * time.Minute)

		sess, _ := store.Read(ctx)
		Expect(sess.Token).To(Equal(signed))
		Expect(sess.TokenExpiresAt.Equal(exp)).To(BeTrue())
		refreshAt, _ := manager.RefreshAt()
		Expect(refreshAt).To(BeTemporally("==", exp.Add(-5 * time.Minute)))
	})

	It("should not spin when renewed tokens are shorter than the buffer", func() {
		renewer.resp = &authoritytypes.RenewResponse{Token: "token-2", ExpiresIn: 120}
		seed(now.Add(10 * time.Minute))
		Expect(manager.Start(ctx)).To(Succeed())

		clk.Advance(5 * time.Minute)
		Expect(renewer.calls()).To(Equal(1))

		refreshAt, ok := manager.RefreshAt()
		Expect(ok).To(BeTrue())
		Expect(refreshAt).To(BeTemporally("==", now.Add(5*time.Minute + time.Minute)))
	})

	It("should honour a custom buffer", func() {
		config.Buffer = time.Minute
		build()
		seed(now.Add(time.Hour))
		Expect(manager.Start(ctx)).To(Succeed())

		refreshAt, _ := manager.RefreshAt()
		Expect(refreshAt).To(BeTemporally("==", now.Add(59 * time.Minute)))
	})

	Describe("profile verification", func() {
		BeforeEach(func() {
			config.VerifyProfile = true
			build()
			seed(now.Add(time.Hour))
		})

		It("should expire when the authority rejects the stored token", func() {
			profiles.err = authority.ErrUnauthorized
			Expect(manager.Start(ctx)).To(Succeed())

			Expect(manager.State()).To(Equal(token.StateExpired))
			Expect(store.IsAuthenticated(ctx)).To(BeFalse())
		})

		It("should keep going when the authority is unreachable", func() {
			profiles.err = errors.New("dial tcp: i/o timeout")
			Expect(manager.Start(ctx)).To(Succeed())

			Expect(manager.State()).To(Equal(token.StateScheduled))
			Expect(store.IsAuthenticated(ctx)).To(BeTrue())
		})
	})

	It("should pick up a new session on restart", func() {
		Expect(manager.Start(ctx)).To(Succeed())
		Expect(manager.State()).To(Equal(token.StateIdle))

		seed(now.Add(time.Hour))
		Expect(manager.Restart(ctx)).To(Succeed())
		Expect(manager.State()).To(Equal(token.StateScheduled))
		Expect(clk.Pending()).To(Equal(1))
	})

	It("should drop pending work once its context ends", func() {
		cctx, cancel := context.WithCancel(ctx)
		seed(now.Add(time.Hour))
		Expect(manager.Start(cctx)).To(Succeed())
		cancel()

		clk.Advance(time.Hour)

		Expect(renewer.calls()).To(BeZero())
		Expect(store.IsAuthenticated(ctx)).To(BeTrue())
	})
})
