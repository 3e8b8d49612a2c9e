package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/fatigue.report/internal/db"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/httputil"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
	"github.com/banshee-data/fatigue.report/internal/serialmux"
	"github.com/banshee-data/fatigue.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultEventLimit = 50
	defaultCycleLimit = 120
	maxLimit          = 1000
)

// Server exposes a session over HTTP and websockets. The journal, feed and
// ingest channel are optional; their endpoints answer 503 when absent.
type Server struct {
	session *pipeline.Session
	journal *db.DB
	feed    serialmux.SerialMuxInterface
	ingest  chan<- l1landmarks.Frame

	hub      *statusHub
	upgrader websocket.Upgrader
	done     chan struct{}
}

func NewServer(session *pipeline.Session, journal *db.DB, feed serialmux.SerialMuxInterface, ingest chan<- l1landmarks.Frame) *Server {
	return &Server{
		session: session,
		journal: journal,
		feed:    feed,
		ingest:  ingest,
		hub:     newStatusHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The dashboard is served from other origins during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// ObserveCycle pushes the status to every /ws/status client.
func (s *Server) ObserveCycle(st pipeline.Status) {
	s.hub.broadcast(st)
}

// Close disconnects websocket clients and unblocks pending ingest.
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.hub.close()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the hijacker for websockets.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
// Websocket upgrades are passed through untouched.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			monitoring.Logf("[ws] %s%s%s", colorCyan, r.RequestURI, colorReset)
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/cycles", s.listCycles)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/chart", s.showChart)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/ws/status", s.handleStatusWS)
	mux.HandleFunc("/ws/landmarks", s.handleLandmarksWS)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.feed == nil {
		http.Error(w, "No detector attached", http.StatusServiceUnavailable)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.feed.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.session.Status())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultEventLimit, 1, maxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	events, err := s.journal.RecentNotifications(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve events: "+err.Error())
		return
	}
	if events == nil {
		events = []db.NotificationRecord{}
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) listCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.journal == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultCycleLimit, 1, maxLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	cycles, err := s.journal.Cycles(s.session.ID(), limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve cycles: "+err.Error())
		return
	}
	if cycles == nil {
		cycles = []db.CycleRecord{}
	}
	httputil.WriteJSONOK(w, cycles)
}

// configView is the effective session configuration, keyed like the
// tuning file.
type configView struct {
	SessionID            string     `json:"session_id"`
	EyeARThresh          float64    `json:"eye_ar_thresh"`
	EyeARConsecFrames    int        `json:"eye_ar_consec_frames"`
	MARThresh            float64    `json:"mar_thresh"`
	MouthARConsecFrames  int        `json:"mouth_ar_consec_frames"`
	HARThresh            float64    `json:"har_thresh"`
	NodARConsecFrames    int        `json:"nod_ar_consec_frames"`
	AbsenceConsecFrames  int        `json:"absence_consec_frames"`
	SampleWindow         string     `json:"sample_window"`
	AlertInterval        string     `json:"alert_interval"`
	MaxReprojectionError float64    `json:"max_reprojection_error"`
	NotifyBuffer         int        `json:"notify_buffer"`
	CameraMatrix         [9]float64 `json:"camera_matrix"`
	DistCoeffs           [5]float64 `json:"dist_coeffs"`
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg := s.session.Config()
	httputil.WriteJSONOK(w, configView{
		SessionID:            s.session.ID(),
		EyeARThresh:          cfg.Events.EyeARThresh,
		EyeARConsecFrames:    cfg.Events.EyeARConsecFrames,
		MARThresh:            cfg.Events.MouthARThresh,
		MouthARConsecFrames:  cfg.Events.MouthARConsecFrames,
		HARThresh:            cfg.Events.HeadPitchThresh,
		NodARConsecFrames:    cfg.Events.NodConsecFrames,
		AbsenceConsecFrames:  cfg.Events.AbsenceConsecFrames,
		SampleWindow:         cfg.SampleWindow.String(),
		AlertInterval:        cfg.AlertInterval.String(),
		MaxReprojectionError: cfg.Pose.MaxReprojectionError,
		NotifyBuffer:         cfg.NotifyBuffer,
		CameraMatrix:         cfg.Camera.Intrinsics,
		DistCoeffs:           cfg.Camera.Distortion,
	})
}
