// Package handler exposes the sign-in flow, the LINE webhook and the health
// endpoints over HTTP.
package handler

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GiraffeSchool/student-signin-system/internal/attendance"
	"github.com/GiraffeSchool/student-signin-system/internal/auth"
	"github.com/GiraffeSchool/student-signin-system/internal/geo"
	"github.com/GiraffeSchool/student-signin-system/internal/health"
)

//go:embed templates/*.html
var templatesFS embed.FS

// DefaultSiteTitle is shown on the sign-in pages.
const DefaultSiteTitle = "育名補習班簽到系統"

// SignInService runs the sign-in pipeline.
type SignInService interface {
	SignIn(ctx context.Context, req attendance.Request) (attendance.Outcome, error)
}

// HealthChecker builds the aggregate health report.
type HealthChecker interface {
	Check(ctx context.Context) health.Snapshot
}

// WebhookProcessor handles a verified webhook body.
type WebhookProcessor interface {
	Handle(ctx context.Context, body []byte) error
}

// Options configure a Handler.
type Options struct {
	SignIn        SignInService
	Health        HealthChecker
	Webhook       WebhookProcessor
	ChannelSecret string
	// QRDir is served under /qrcodes when set.
	QRDir     string
	SiteTitle string
	// SignInLimit guards the sign-in routes; nil disables it.
	SignInLimit gin.HandlerFunc
	Logger      *slog.Logger
}

// Handler serves every route.
type Handler struct {
	opts      Options
	templates *template.Template
	logger    *slog.Logger
}

// New parses the embedded templates and returns a handler.
func New(opts Options) *Handler {
	if opts.SiteTitle == "" {
		opts.SiteTitle = DefaultSiteTitle
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		opts:      opts,
		templates: template.Must(template.New("").ParseFS(templatesFS, "templates/*.html")),
		logger:    logger,
	}
}

// Register mounts the routes on r, both at the root and under /api.
func (h *Handler) Register(r *gin.Engine) {
	r.SetHTMLTemplate(h.templates)
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	limit := h.opts.SignInLimit
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	for _, prefix := range []string{"", "/api"} {
		g := r.Group(prefix)
		g.GET("/sign", h.signPage)
		g.POST("/attend", limit, h.attendPost)
		g.GET("/attend", limit, h.attendLegacy)
		g.POST("/webhook", auth.LineSignature(h.opts.ChannelSecret), h.webhook)
		g.GET("/health", h.health)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.opts.QRDir != "" {
		r.Static("/qrcodes", h.opts.QRDir)
	}
}

func (h *Handler) signPage(c *gin.Context) {
	tok := strings.TrimSpace(c.Query("token"))
	if tok == "" {
		c.HTML(http.StatusBadRequest, "result.html", view{
			SiteTitle: h.opts.SiteTitle,
			Icon:      iconFail,
			Title:     "無效的簽到連結",
		})
		return
	}
	c.HTML(http.StatusOK, "sign.html", gin.H{
		"SiteTitle": h.opts.SiteTitle,
		"Token":     tok,
		"AttendURL": strings.TrimSuffix(c.FullPath(), "/sign") + "/attend",
	})
}

type attendBody struct {
	Token     string   `json:"token"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (h *Handler) attendPost(c *gin.Context) {
	var body attendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respond(c, formatText, attendance.Outcome{}, &attendance.Error{
			Kind: attendance.KindInput,
			Msg:  "請求格式錯誤",
			Err:  err,
		})
		return
	}
	req := attendance.Request{Token: body.Token, EnforceGeoFence: true}
	if body.Latitude != nil && body.Longitude != nil {
		req.Location = &geo.Point{Lat: *body.Latitude, Lng: *body.Longitude}
	}
	h.attend(c, req, formatText)
}

// attendLegacy serves QR codes printed before the geo-checked page existed.
func (h *Handler) attendLegacy(c *gin.Context) {
	h.attend(c, attendance.Request{Token: c.Query("token")}, formatHTML)
}

func (h *Handler) attend(c *gin.Context, req attendance.Request, f format) {
	out, err := h.opts.SignIn.SignIn(c.Request.Context(), req)
	h.respond(c, f, out, err)
}

func (h *Handler) respond(c *gin.Context, f format, out attendance.Outcome, err error) {
	v := resultView(out, err)
	v.SiteTitle = h.opts.SiteTitle
	status := attendance.HTTPStatus(err)
	if f == formatText {
		c.HTML(status, "fragment.html", v)
		return
	}
	c.HTML(status, "result.html", v)
}

func (h *Handler) webhook(c *gin.Context) {
	body := c.MustGet(auth.RawBodyKey).([]byte)
	if err := h.opts.Webhook.Handle(c.Request.Context(), body); err != nil {
		h.logger.WarnContext(c.Request.Context(), "webhook payload rejected", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) health(c *gin.Context) {
	snap := h.opts.Health.Check(c.Request.Context())
	c.JSON(snap.HTTPStatus(), snap)
}
