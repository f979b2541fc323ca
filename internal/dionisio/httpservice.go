package dionisio

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dionisio-bot/dionisio/internal/logfields"
)

// templFS contains the web pages.
//
//go:embed pages/templates/*
var templFS embed.FS

// statusData is used as template data when rendering the status page.
type statusData struct {
	CommandPrefix string
	EventFilter   string
	JiraEnabled   bool
	PendingKeys   []string

	// CreatedAt is the time when this datastructure was created.
	CreatedAt time.Time
}

// HTTPService serves a status page showing the configuration and the
// pending tasks of an EvLoop.
type HTTPService struct {
	evLoop        *EvLoop
	commandPrefix string
	templates     *template.Template
	logger        *zap.Logger
}

func NewHTTPService(evLoop *EvLoop, commandPrefix string) *HTTPService {
	return &HTTPService{
		evLoop:        evLoop,
		commandPrefix: commandPrefix,
		templates: template.Must(
			template.New("").ParseFS(templFS, "pages/templates/*"),
		),
		logger: evLoop.logger.Named("http_service"),
	}
}

func (h *HTTPService) RegisterHandlers(mux *http.ServeMux, endpoint string) {
	mux.HandleFunc(endpoint, h.HandlerStatusFunc)
}

func (h *HTTPService) statusData() *statusData {
	result := statusData{
		CommandPrefix: h.commandPrefix,
		JiraEnabled:   h.evLoop.jira != nil,
		PendingKeys:   h.evLoop.queue.PendingKeys(),
		CreatedAt:     time.Now(),
	}

	if h.evLoop.filter != nil {
		result.EventFilter = h.evLoop.filter.String()
	}

	return &result
}

func (h *HTTPService) HandlerStatusFunc(respWr http.ResponseWriter, _ *http.Request) {
	err := h.templates.ExecuteTemplate(respWr, "status.html.tmpl", h.statusData())
	if err != nil {
		h.logger.Info(
			"applying template and sending back result failed",
			logfields.Event("http_status_page_rendering_failed"),
			zap.Error(err),
		)
		http.Error(respWr, err.Error(), http.StatusInternalServerError)
		return
	}
}
