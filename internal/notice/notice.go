// Package notice carries the user-facing signals raised when access is lost.
package notice

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reason names why the user was sent back to the login entry point.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonUnauthenticated        Reason = "unauthenticated"
	ReasonRoleMismatch           Reason = "role-mismatch"
	ReasonInsufficientPermission Reason = "insufficient-permission"
	ReasonShiftExpired           Reason = "shift-expired"
	ReasonShiftUnverified        Reason = "shift-unverified"
	ReasonSessionExpired         Reason = "session-expired"
)

var messages = map[Reason]string{
	ReasonUnauthenticated:        "يرجى تسجيل الدخول أولاً",
	ReasonRoleMismatch:           "ليس لديك صلاحية الوصول إلى هذه الصفحة",
	ReasonInsufficientPermission: "ليس لديك الصلاحيات الكافية لهذا الإجراء",
	ReasonShiftExpired:           "انتهت الوردية الحالية، يرجى تسجيل الدخول وفتح وردية جديدة",
	ReasonShiftUnverified:        "تعذر التحقق من حالة الوردية، يرجى المحاولة مرة أخرى",
	ReasonSessionExpired:         "انتهت صلاحية الجلسة، يرجى تسجيل الدخول مرة أخرى",
}

// Message returns the localized text for r.
func Message(r Reason) string {
	if m, ok := messages[r]; ok {
		return m
	}
	return "حدث خطأ غير متوقع"
}

type Notice struct {
	Reason  Reason    `json:"reason"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func New(r Reason) Notice {
	return Notice{Reason: r, Message: Message(r), At: time.Now()}
}

// Notifier shows a notice to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Navigator sends the user to the unauthenticated entry point.
type Navigator interface {
	NavigateToLogin(ctx context.Context, reason Reason)
}

// Inbox keeps the most recent notices and navigations so the login page can
// show why the user landed there.
type Inbox struct {
	mu          sync.Mutex
	notices     []Notice
	limit       int
	navigations int
	lastReason  Reason
	logger      *slog.Logger
}

func NewInbox(limit int, logger *slog.Logger) *Inbox {
	if limit <= 0 {
		limit = 20
	}
	return &Inbox{limit: limit, logger: logger}
}

func (i *Inbox) Notify(_ context.Context, n Notice) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.notices = append(i.notices, n)
	if len(i.notices) > i.limit {
		i.notices = i.notices[len(i.notices)-i.limit:]
	}
	i.logger.Info("user notice", "reason", n.Reason, "message", n.Message)
}

func (i *Inbox) NavigateToLogin(_ context.Context, reason Reason) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.navigations++
	i.lastReason = reason
	i.logger.Info("navigating to login", "reason", reason)
}

// Latest returns the newest notice.
func (i *Inbox) Latest() (Notice, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.notices) == 0 {
		return Notice{}, false
	}
	return i.notices[len(i.notices)-1], true
}

// Navigations returns how many times the user was sent to login and why,
// most recently.
func (i *Inbox) Navigations() (int, Reason) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.navigations, i.lastReason
}

// Notices returns a copy of the retained notices, oldest first.
func (i *Inbox) Notices() []Notice {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Notice(nil), i.notices...)
}
