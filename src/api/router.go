package api

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"conductor/src/handler"
	"conductor/src/handler/admin"
)

// SetupRouter configures every route the daemon exposes: session and
// worktree management plus the WebSocket stream, over the given Admin.
// If disableRequestLogging is true, the request-log middleware is skipped.
// If enableProcessingTime is true, the Server-Timing header middleware is
// added. password, when non-empty, gates every route behind bearer auth.
func SetupRouter(a *admin.Admin, password string, disableRequestLogging bool, enableProcessingTime bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(responseHeadersMiddleware())

	// requestLogMiddleware must wrap processingTimeMiddleware (registered
	// first, so it unwinds last) so the latency it reads off the context was
	// already stamped by the time its own post-handler code runs.
	if !disableRequestLogging {
		r.Use(requestLogMiddleware())
	}
	if enableProcessingTime {
		r.Use(processingTimeMiddleware())
	}
	if password != "" {
		r.Use(bearerAuthMiddleware(password))
	}

	sessionHandler := handler.NewSessionHandler(a)
	worktreeHandler := handler.NewWorktreeHandler(a)
	baseHandler := handler.NewBaseHandler()

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	sessions := r.Group("/sessions")
	{
		sessions.GET("", sessionHandler.HandleListSessions)
		sessions.POST("", sessionHandler.HandleCreateSession)
		sessions.GET("/:name", sessionHandler.HandleGetSession)
		sessions.DELETE("/:name", sessionHandler.HandleKillSession)
		sessions.POST("/:name/input", sessionHandler.HandleSendInput)
		sessions.POST("/:name/resize", sessionHandler.HandleResizeSession)
		sessions.POST("/:name/stop", sessionHandler.HandleGracefulStop)
		sessions.POST("/:name/resume", sessionHandler.HandleResumeSession)
		sessions.DELETE("/:name/resumable", sessionHandler.HandleDismissResumable)
		sessions.GET("/:name/stream", sessionHandler.HandleStream)
	}

	worktrees := r.Group("/worktrees")
	{
		worktrees.GET("", worktreeHandler.HandleListWorktrees)
		worktrees.GET("/check", worktreeHandler.HandleCheckRepo)
		worktrees.GET("/warnings", worktreeHandler.HandleWarnings)
		worktrees.POST("/gc", worktreeHandler.HandleGC)
		worktrees.GET("/:name/preview-merge", worktreeHandler.HandlePreviewMerge)
		worktrees.POST("/:name/merge", worktreeHandler.HandleMerge)
		worktrees.DELETE("/:name", worktreeHandler.HandleRemoveWorktree)
		worktrees.GET("/:name/diff", worktreeHandler.HandleDiffWorktree)
	}

	r.GET("/", baseHandler.HandleWelcome)

	return r
}

// bearerAuthMiddleware requires `Authorization: Bearer <password>` on
// every request, matching the original's optional PASSWORD dependency —
// active only when SetupRouter was given a non-empty password.
func bearerAuthMiddleware(password string) gin.HandlerFunc {
	const prefix = "Bearer "
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, prefix) || strings.TrimPrefix(header, prefix) != password {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// responseHeadersMiddleware sets the headers every conductor response
// needs in one pass: CORS (the dashboard and CLI poll this API from a
// different origin/process than the daemon) and no-store cache-control
// (session/worktree state is live and must never be served stale).
func responseHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Conductor-Source")
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("X-Content-Type-Options", "nosniff")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// redactedQueryParams lists the query parameter names conductor itself
// might plausibly receive a secret through — there's no query-string token
// surface beyond the bearer password callers sometimes pass as a param
// when a header isn't convenient, so this stays short rather than
// reproducing a generic API gateway's full sensitive-parameter catalog.
var redactedQueryParams = []string{"password", "token", "bearer", "authorization", "secret"}

// sessionPathPattern pulls the session name out of a /sessions/<name>...
// route so the request log can carry it as a field without re-parsing
// gin's route params (which aren't available to middleware running before
// the handler has bound them).
var sessionPathPattern = regexp.MustCompile(`^/sessions/([^/]+)`)

// redactQuery strips sensitive query parameter values from a path+query
// string before it reaches the log. Conductor's only real secret surface
// is the bearer password, so a query string url.ParseQuery can't make
// sense of is redacted wholesale rather than best-effort pattern-matched.
func redactQuery(pathWithQuery string) string {
	base, query, hasQuery := strings.Cut(pathWithQuery, "?")
	if !hasQuery {
		return pathWithQuery
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return base + "?[REDACTED]"
	}

	redacted := false
	for key := range values {
		for _, sensitive := range redactedQueryParams {
			if strings.EqualFold(key, sensitive) {
				values.Set(key, "[REDACTED]")
				redacted = true
			}
		}
	}
	if !redacted {
		return pathWithQuery
	}
	return base + "?" + values.Encode()
}

// requestLogMiddleware logs one structured entry per request, tagging it
// with the session name when the route is session-scoped so a session's
// full request history can be grepped out of the daemon's log by name.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latencyMS := time.Since(start).Milliseconds()
		if v, ok := c.Get(latencyContextKey); ok {
			if ms, ok := v.(float64); ok {
				latencyMS = int64(ms)
			}
		}

		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		fields := logrus.Fields{
			"method":     c.Request.Method,
			"status":     c.Writer.Status(),
			"bytes":      size,
			"latency_ms": latencyMS,
		}
		if m := sessionPathPattern.FindStringSubmatch(c.Request.URL.Path); m != nil {
			fields["session"] = m[1]
		}

		entry := logrus.WithFields(fields)
		sanitizedPath := redactQuery(path)
		switch {
		case len(c.Errors) > 0:
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Error(sanitizedPath)
		default:
			entry.Info(sanitizedPath)
		}
	}
}
