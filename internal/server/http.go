package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/ticket-tracker/internal/common"
	"github.com/joseph-ayodele/ticket-tracker/internal/correction"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type RouterConfig struct {
	Service     *Service
	Logger      *slog.Logger
	CORSOrigins []string
	// Verify enables bearer authentication when set.
	Verify TokenVerifier
}

// NewRouter builds the REST API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Request-Id"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	if cfg.Verify != nil {
		r.Use(BearerAuth(cfg.Verify))
	}

	h := &httpHandler{svc: cfg.Service}
	r.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	api := r.Group("/api/v1")
	api.POST("/parse", h.parse)
	api.POST("/uploads", h.upload)
	api.GET("/jobs/:id", h.job)
	api.GET("/tickets", h.listTickets)
	api.GET("/tickets/:id", h.ticket)
	api.PATCH("/tickets/:id", h.updateTicket)
	api.GET("/export.xlsx", h.export)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), reqID))

		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http.request",
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}

type httpHandler struct {
	svc *Service
}

func writeError(c *gin.Context, err error) {
	code := common.HTTPStatus(err)
	msg := http.StatusText(code)
	var ae *common.AppError
	if errors.As(err, &ae) && code != http.StatusInternalServerError {
		msg = ae.Message
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

// parse accepts {"text", "policy"} as JSON, or a text/plain body with the
// policy in the query string.
func (h *httpHandler) parse(c *gin.Context) {
	var req parseTextRequest
	if strings.HasPrefix(c.ContentType(), "text/plain") {
		b, err := io.ReadAll(io.LimitReader(c.Request.Body, 4*maxTextRunes))
		if err != nil {
			writeError(c, common.NewAppError("BAD_REQUEST", "read body", common.ErrInvalidInput))
			return
		}
		req = parseTextRequest{Text: string(b), Policy: c.Query("policy")}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, common.NewAppError("BAD_REQUEST", "body must be JSON with a text field", common.ErrInvalidInput))
		return
	}
	res, err := h.svc.ParseText(c.Request.Context(), req.Text, req.Policy)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *httpHandler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, common.NewAppError("BAD_REQUEST", "multipart field \"file\" is required", common.ErrInvalidInput))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	res, err := h.svc.SubmitImage(c.Request.Context(), fh.Filename, f, c.PostForm("policy"))
	if err != nil {
		writeError(c, err)
		return
	}
	code := http.StatusAccepted
	if res.Deduplicated {
		code = http.StatusOK
	}
	c.JSON(code, res)
}

func (h *httpHandler) job(c *gin.Context) {
	view, err := h.svc.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) ticket(c *gin.Context) {
	t, err := h.svc.Ticket(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *httpHandler) listTickets(c *gin.Context) {
	var q FilterQuery
	_ = c.ShouldBindQuery(&q)
	f, err := q.Filter()
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := h.svc.Tickets(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": list})
}

func (h *httpHandler) updateTicket(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		writeError(c, common.NewAppError("BAD_REQUEST", "read body", common.ErrInvalidInput))
		return
	}
	patch, err := correction.DecodePatch(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	t, err := h.svc.UpdateTicket(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *httpHandler) export(c *gin.Context) {
	var q FilterQuery
	_ = c.ShouldBindQuery(&q)
	f, err := q.Filter()
	if err != nil {
		writeError(c, err)
		return
	}
	data, err := h.svc.ExportXLSX(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="tickets.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}
