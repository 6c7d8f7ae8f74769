// Package attendance runs the QR sign-in pipeline: validate the request,
// check the geo-fence, decode the token, mark the roster and notify
// guardians.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GiraffeSchool/student-signin-system/internal/geo"
	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
	"github.com/GiraffeSchool/student-signin-system/internal/metrics"
	"github.com/GiraffeSchool/student-signin-system/internal/notify"
	"github.com/GiraffeSchool/student-signin-system/internal/token"
)

const (
	msgMissingToken    = "缺少簽到代碼"
	msgMissingLocation = "缺少位置資訊"
	msgBadToken        = "無效的簽到代碼"
	msgNotFound        = "找不到學號或尚未建立今日欄位"
	msgAmbiguous       = "學號同時出現在多個班級名單，請聯絡補習班"
	msgBusy            = "簽到處理中，請稍後再試"
	msgInternal        = "伺服器發生錯誤，請稍後再試"
)

// Marker marks a student present for a day.
type Marker interface {
	FindAndMark(ctx context.Context, studentID string, at time.Time) (ledger.Result, error)
}

// Notifier delivers guardian notifications.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notice) notify.Report
}

// Request is one sign-in attempt.
type Request struct {
	Token           string
	Location        *geo.Point
	EnforceGeoFence bool
}

// Outcome describes a successful sign-in.
type Outcome struct {
	StudentID string
	Name      string
	Class     string
	Table     string
	// At is the instant used for both the date column and the marker.
	At time.Time
	// DistanceKm is set when the geo-fence was checked.
	DistanceKm   *float64
	Notification notify.Report
}

// Service coordinates a sign-in across the fence, ledger and notifier.
type Service struct {
	ledger   Marker
	fence    geo.Fence
	notifier Notifier
	now      func() time.Time
	loc      *time.Location
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone in which dates and times are written.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a sign-in service.
func NewService(m Marker, fence geo.Fence, n Notifier, opts ...Option) *Service {
	s := &Service{
		ledger:   m,
		fence:    fence,
		notifier: n,
		now:      time.Now,
		loc:      time.Local,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignIn runs the pipeline for req. Notification failures never fail the
// call; they are reported in Outcome.Notification.
func (s *Service) SignIn(ctx context.Context, req Request) (Outcome, error) {
	out, err := s.signIn(ctx, req)
	metrics.SignIns.WithLabelValues(result(err)).Inc()
	if err != nil {
		attrs := []any{slog.String("kind", KindOf(err).String()), slog.String("error", err.Error())}
		if out.StudentID != "" {
			attrs = append(attrs, slog.String("student_id", out.StudentID))
		}
		if KindOf(err) == KindDependency {
			s.logger.ErrorContext(ctx, "sign-in failed", attrs...)
		} else {
			s.logger.InfoContext(ctx, "sign-in rejected", attrs...)
		}
	}
	return out, err
}

func (s *Service) signIn(ctx context.Context, req Request) (Outcome, error) {
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		return Outcome{}, &Error{Kind: KindInput, Msg: msgMissingToken}
	}

	var out Outcome
	if req.EnforceGeoFence {
		if req.Location == nil || !req.Location.Valid() {
			return Outcome{}, &Error{Kind: KindInput, Msg: msgMissingLocation}
		}
		d, err := s.fence.Check(*req.Location)
		var oor *geo.OutOfRangeError
		if errors.As(err, &oor) {
			return Outcome{}, &Error{Kind: KindPolicy, Msg: fenceMessage(oor), Err: err}
		}
		out.DistanceKm = &d
	}

	studentID, err := token.Decode(raw)
	if err != nil {
		return Outcome{}, &Error{Kind: KindInput, Msg: msgBadToken, Err: err}
	}
	out.StudentID = studentID

	at := s.now().In(s.loc)
	res, err := s.ledger.FindAndMark(ctx, studentID, at)
	if err != nil {
		var amb *ledger.AmbiguousError
		switch {
		case errors.As(err, &amb):
			return out, &Error{Kind: KindConflict, Msg: msgAmbiguous, Err: err}
		case errors.Is(err, ledger.ErrLockBusy):
			return out, &Error{Kind: KindConflict, Msg: msgBusy, Err: err}
		}
		return out, &Error{Kind: KindDependency, Msg: msgInternal, Err: err}
	}

	switch res.Status {
	case ledger.NotFound:
		return out, &Error{Kind: KindNotFound, Msg: msgNotFound}
	case ledger.AlreadyMarked:
		fill(&out, res.Record, at)
		return out, &Error{
			Kind: KindPolicy,
			Msg:  "你已經簽到過了\n原簽到記錄：" + res.Record.Value,
			Err:  ErrAlreadyMarked,
		}
	}

	fill(&out, res.Record, at)
	// The mark is committed; a client that hangs up now must not cancel the
	// guardian pushes. The dispatcher's own timeout still bounds them.
	out.Notification = s.notifier.Notify(context.WithoutCancel(ctx), notify.Notice{
		Recipients:  res.Record.Guardians,
		StudentName: out.Name,
		ClassName:   out.Class,
		At:          at,
	})
	s.logger.InfoContext(ctx, "sign-in succeeded",
		slog.String("student_id", out.StudentID),
		slog.String("roster", out.Table),
		slog.String("notified", out.Notification.Summary()))
	return out, nil
}

func fill(out *Outcome, rec *ledger.Record, at time.Time) {
	out.Name = rec.Name
	out.Class = rec.Class
	out.Table = rec.Table.Name
	out.At = at
}

func fenceMessage(e *geo.OutOfRangeError) string {
	limit := int(e.RadiusKm*1000 + 0.5)
	return fmt.Sprintf("您不在補習班範圍內\n目前距離：%d 公尺\n請在補習班 %d 公尺內簽到", e.Meters(), limit)
}

func result(err error) string {
	if err == nil {
		return "succeeded"
	}
	if errors.Is(err, ErrAlreadyMarked) {
		return "already_marked"
	}
	if KindOf(err) == KindDependency {
		return "failed"
	}
	return "rejected_" + KindOf(err).String()
}
