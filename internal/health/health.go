// Package health builds the aggregate health report served on /health.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"

	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
	"github.com/GiraffeSchool/student-signin-system/internal/lineclient"
)

// Overall states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Per-service states.
const (
	ServiceOK       = "ok"
	ServicePartial  = "partial"
	ServiceError    = "error"
	ServiceDisabled = "disabled"
)

// Service names used in Snapshot.Services and Problem.Service.
const (
	SvcAPI       = "api"
	SvcConfig    = "config"
	SvcSheets    = "sheets"
	SvcMessaging = "messaging"
	SvcLock      = "lock"
)

// Bot probes the messaging bot account.
type Bot interface {
	Configured() bool
	BotInfo(ctx context.Context) (*lineclient.BotInfo, error)
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Snapshot is one health report. It is built per request and never stored.
type Snapshot struct {
	Status       string                 `json:"status"`
	Description  string                 `json:"description"`
	Timestamp    string                 `json:"timestamp"`
	Services     map[string]string      `json:"services"`
	Tables       map[string]TableStatus `json:"tables"`
	TableSummary TableSummary           `json:"table_summary"`
	Bot          *BotSummary            `json:"bot,omitempty"`
	Errors       []Problem              `json:"errors"`
	Suggestions  []string               `json:"suggestions,omitempty"`
	ResponseTime string                 `json:"response_time"`
	System       System                 `json:"system"`
}

// TableStatus reports one roster spreadsheet.
type TableStatus struct {
	Reachable bool     `json:"reachable"`
	Title     string   `json:"title,omitempty"`
	Sheets    []string `json:"sheets,omitempty"`
	ID        string   `json:"id"`
	Error     string   `json:"error,omitempty"`
}

// TableSummary counts reachable tables.
type TableSummary struct {
	Total     int    `json:"total"`
	Reachable int    `json:"reachable"`
	Failed    int    `json:"failed"`
	Summary   string `json:"summary"`
}

// BotSummary describes the bot behind the access token.
type BotSummary struct {
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

// Problem is one failed check. Message is meant for school staff; Detail is
// the provider's own error text.
type Problem struct {
	Service string `json:"service"`
	Table   string `json:"table,omitempty"`
	TableID string `json:"table_id,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	reason  reason
}

// System is process information.
type System struct {
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
	Uptime     string `json:"uptime"`
	HeapUsedMB uint64 `json:"heap_used_mb"`
	HeapSysMB  uint64 `json:"heap_sys_mb"`
	Goroutines int    `json:"goroutines"`
}

// HTTPStatus maps the overall state to 200, 207 or 503.
func (s Snapshot) HTTPStatus() int {
	switch s.Status {
	case StatusHealthy:
		return http.StatusOK
	case StatusUnhealthy:
		return http.StatusServiceUnavailable
	}
	return http.StatusMultiStatus
}

// Checker runs the health probes.
type Checker struct {
	Tables []ledger.Table
	Bot    Bot
	// Lock is the shared lock backend; nil when locks are in-process.
	Lock Pinger
	// Missing lists required settings that are not configured.
	Missing        []string
	MessageTimeout time.Duration
	Location       *time.Location

	started time.Time
	now     func() time.Time
}

// NewChecker creates a checker. started is the process start time.
func NewChecker(tables []ledger.Table, bot Bot, started time.Time) *Checker {
	return &Checker{
		Tables:         tables,
		Bot:            bot,
		MessageTimeout: 5 * time.Second,
		Location:       time.Local,
		started:        started,
		now:            time.Now,
	}
}

type tableResult struct {
	ref  ledger.TableRef
	info ledger.TableInfo
	err  error
}

// Check runs every probe concurrently and aggregates the results.
func (c *Checker) Check(ctx context.Context) Snapshot {
	start := c.now()
	snap := Snapshot{
		Timestamp: start.In(c.Location).Format("2006/01/02 15:04:05"),
		Services: map[string]string{
			SvcAPI:       ServiceOK,
			SvcConfig:    ServiceOK,
			SvcSheets:    ServiceOK,
			SvcMessaging: ServiceOK,
			SvcLock:      ServiceDisabled,
		},
		Tables: make(map[string]TableStatus, len(c.Tables)),
		Errors: []Problem{},
	}

	var (
		tables  = make([]tableResult, len(c.Tables))
		botInfo *lineclient.BotInfo
		botErr  error
		lockErr error
		g       errgroup.Group
		mu      sync.Mutex
	)
	for i, t := range c.Tables {
		g.Go(func() error {
			info, err := t.Probe(ctx)
			tables[i] = tableResult{ref: t.Ref(), info: info, err: err}
			return nil
		})
	}
	g.Go(func() error {
		info, err := c.probeBot(ctx)
		mu.Lock()
		botInfo, botErr = info, err
		mu.Unlock()
		return nil
	})
	if c.Lock != nil {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, c.MessageTimeout)
			defer cancel()
			err := c.Lock.Ping(pctx)
			mu.Lock()
			lockErr = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(c.Missing) > 0 {
		snap.Services[SvcConfig] = ServicePartial
		snap.Errors = append(snap.Errors, Problem{
			Service: SvcConfig,
			Message: "缺少環境變數：" + strings.Join(c.Missing, ", "),
			reason:  reasonConfig,
		})
	}

	reachable := 0
	for _, r := range tables {
		st := TableStatus{ID: r.ref.ID}
		if r.err == nil {
			st.Reachable = true
			st.Title = r.info.Title
			st.Sheets = r.info.Sheets
			reachable++
		} else {
			rsn := classify(r.err)
			st.Error = r.err.Error()
			snap.Errors = append(snap.Errors, Problem{
				Service: SvcSheets,
				Table:   r.ref.Name,
				TableID: r.ref.ID,
				Message: rsn.sheetMessage(),
				Detail:  r.err.Error(),
				reason:  rsn,
			})
		}
		snap.Tables[r.ref.Name] = st
	}
	total := len(c.Tables)
	snap.TableSummary = TableSummary{
		Total:     total,
		Reachable: reachable,
		Failed:    total - reachable,
		Summary:   fmt.Sprintf("%d/%d 個試算表正常", reachable, total),
	}
	switch {
	case total > 0 && reachable == total:
	case reachable > 0:
		snap.Services[SvcSheets] = ServicePartial
	default:
		snap.Services[SvcSheets] = ServiceError
	}

	if botErr != nil {
		rsn := classify(botErr)
		snap.Services[SvcMessaging] = ServiceError
		snap.Errors = append(snap.Errors, Problem{
			Service: SvcMessaging,
			Message: rsn.botMessage(),
			Detail:  botErr.Error(),
			reason:  rsn,
		})
	} else if botInfo != nil {
		snap.Bot = &BotSummary{Name: botInfo.DisplayName, UserID: botInfo.UserID}
	}

	if c.Lock != nil {
		snap.Services[SvcLock] = ServiceOK
		if lockErr != nil {
			snap.Services[SvcLock] = ServiceError
			snap.Errors = append(snap.Errors, Problem{
				Service: SvcLock,
				Message: "無法連線到鎖定服務 (Redis)",
				Detail:  lockErr.Error(),
				reason:  classify(lockErr),
			})
		}
	}

	switch {
	case reachable == 0:
		snap.Status = StatusUnhealthy
	case len(snap.Errors) > 0:
		snap.Status = StatusDegraded
	default:
		snap.Status = StatusHealthy
	}
	snap.Description = descriptions[snap.Status]
	snap.Suggestions = suggestions(snap)
	snap.ResponseTime = fmt.Sprintf("%d ms", c.now().Sub(start).Milliseconds())
	snap.System = c.system()
	return snap
}

func (c *Checker) probeBot(ctx context.Context) (*lineclient.BotInfo, error) {
	if c.Bot == nil || !c.Bot.Configured() {
		return nil, lineclient.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.MessageTimeout)
	defer cancel()
	return c.Bot.BotInfo(ctx)
}

func (c *Checker) system() System {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return System{
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		Uptime:     Uptime(c.now().Sub(c.started)),
		HeapUsedMB: m.HeapAlloc >> 20,
		HeapSysMB:  m.HeapSys >> 20,
		Goroutines: runtime.NumGoroutine(),
	}
}

var descriptions = map[string]string{
	StatusHealthy:   "所有服務正常運作",
	StatusDegraded:  "部分服務有問題，但主要功能仍可使用",
	StatusUnhealthy: "關鍵服務故障，系統無法正常運作",
}

// Uptime renders d the way staff read it: days and hours, hours and
// minutes, or minutes.
func Uptime(d time.Duration) string {
	minutes := int(d.Minutes())
	hours := minutes / 60
	days := hours / 24
	switch {
	case days > 0:
		return fmt.Sprintf("%d 天 %d 小時", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%d 小時 %d 分鐘", hours, minutes%60)
	}
	return fmt.Sprintf("%d 分鐘", minutes)
}

type reason int

const (
	reasonUnknown reason = iota
	reasonPermission
	reasonNotFound
	reasonQuota
	reasonTimeout
	reasonInvalidToken
	reasonNotConfigured
	reasonConfig
)

// classify sorts a provider error into a reason staff can act on.
func classify(err error) reason {
	switch {
	case errors.Is(err, lineclient.ErrNotConfigured):
		return reasonNotConfigured
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusForbidden:
			return reasonPermission
		case http.StatusNotFound:
			return reasonNotFound
		case http.StatusTooManyRequests:
			return reasonQuota
		}
	}
	var lerr *lineclient.APIError
	if errors.As(err, &lerr) && lerr.StatusCode == http.StatusUnauthorized {
		return reasonInvalidToken
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return reasonPermission
	case strings.Contains(msg, "not found"):
		return reasonNotFound
	case strings.Contains(msg, "quota"):
		return reasonQuota
	case strings.Contains(msg, "timeout"):
		return reasonTimeout
	}
	return reasonUnknown
}

func (r reason) sheetMessage() string {
	switch r {
	case reasonPermission:
		return "沒有存取權限"
	case reasonNotFound:
		return "找不到試算表"
	case reasonQuota:
		return "API 配額超過限制"
	case reasonTimeout:
		return "試算表連線逾時"
	}
	return "無法存取試算表"
}

func (r reason) botMessage() string {
	switch r {
	case reasonInvalidToken:
		return "LINE Channel Access Token 無效"
	case reasonTimeout:
		return "LINE API 連線逾時"
	case reasonNotConfigured:
		return "LINE Channel Access Token 未設定"
	}
	return "LINE API 連線失敗"
}

func suggestions(s Snapshot) []string {
	var out, perm []string
	quota := false
	sheetsFailed := false
	for _, p := range s.Errors {
		if p.Service != SvcSheets {
			continue
		}
		sheetsFailed = true
		switch p.reason {
		case reasonPermission:
			perm = append(perm, fmt.Sprintf("   - %s班 (%s)", p.Table, p.TableID))
		case reasonQuota:
			quota = true
		}
	}
	if sheetsFailed {
		out = append(out, "【Google 試算表問題】")
		if len(perm) > 0 {
			out = append(out, "1. 請確認服務帳戶有以下試算表的存取權限：")
			out = append(out, perm...)
			out = append(out, "2. 在 Google Sheets 中與服務帳戶 email 共用試算表")
		}
		if quota {
			out = append(out,
				"1. Google Sheets API 配額已用盡",
				"2. 請到 Google Cloud Console 查看配額使用情況",
				"3. 考慮申請提高配額限制")
		}
	}
	if s.Services[SvcMessaging] == ServiceError {
		out = append(out,
			"【LINE 機器人問題】",
			"1. 檢查 LINE Channel Access Token 是否已過期",
			"2. 到 LINE Developers Console 重新產生 Token",
			"3. 更新部署環境變數中的 Token")
	}
	if s.Services[SvcConfig] != ServiceOK {
		out = append(out,
			"【環境設定問題】",
			"1. 檢查部署環境的環境變數或 .env 檔案",
			"2. 確認所有必要的環境變數都已設定")
	}
	if s.Services[SvcLock] == ServiceError {
		out = append(out, "【鎖定服務問題】", "1. 確認 REDIS_ADDR 指向可連線的 Redis")
	}
	return out
}
