package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"stargazer/internal/fits"
	"stargazer/internal/frame"
	"stargazer/internal/preview"
	"stargazer/internal/stack"
	"stargazer/internal/storage"
)

// Server exposes a live dashboard for stacking runs: a JSON API over the
// session store, the current run state, a PNG preview of the growing stack,
// and a websocket feed of run events.
type Server struct {
	addr     string
	log      *slog.Logger
	store    *storage.Store
	bus      *stack.Bus
	upgrader websocket.Upgrader
	hub      *hub

	mu         sync.Mutex
	status     Status
	previewImg *frame.Frame
	previewGen int
	pngCache   []byte
	pngGen     int
}

type hub struct {
	log        *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// Status is the dashboard's view of the most recent run activity.
type Status struct {
	SessionID string      `json:"sessionId"`
	State     string      `json:"state"`
	Message   string      `json:"message"`
	Level     stack.Level `json:"level"`
	Current   int         `json:"current"`
	Total     int         `json:"total"`
	Combined  int         `json:"combined"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type sessionJSON struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Reference  string     `json:"reference"`
	Strategy   string     `json:"strategy"`
	Total      int        `json:"total"`
	Combined   int        `json:"combined"`
	Skipped    int        `json:"skipped"`
	Dropped    int        `json:"dropped"`
	Output     string     `json:"output"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type frameJSON struct {
	Path       string    `json:"path"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// NewServer wires the dashboard to a session store and a run event bus.
// Both may be nil; the affected endpoints then serve empty data.
func NewServer(addr string, log *slog.Logger, store *storage.Store, bus *stack.Bus) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:  addr,
		log:   log,
		store: store,
		bus:   bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		hub: &hub{
			log:        log,
			clients:    make(map[*websocket.Conn]bool),
			broadcast:  make(chan []byte),
			register:   make(chan *websocket.Conn),
			unregister: make(chan *websocket.Conn),
		},
		status: Status{State: "idle"},
	}
}

// SetPreview replaces the frame served at /preview.png. The signature matches
// stack.Callbacks.Preview so a runner can feed the dashboard directly.
func (s *Server) SetPreview(f *frame.Frame, _ *fits.Header) {
	s.mu.Lock()
	s.previewImg = f
	s.previewGen++
	s.mu.Unlock()
}

// Start serves the dashboard until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run()
	go s.pump(ctx)

	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("web dashboard listening", "addr", s.addr, "url", "http://"+s.addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Routes builds the dashboard router. Exposed so tests can mount it without
// binding a listener.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.handleDashboard).Methods("GET")
	router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/api/sessions", s.handleSessions).Methods("GET")
	router.HandleFunc("/api/sessions/{id}/frames", s.handleFrames).Methods("GET")
	router.HandleFunc("/preview.png", s.handlePreview).Methods("GET")
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	return router
}

// pump mirrors bus events into the status snapshot and onto the websocket hub.
func (s *Server) pump(ctx context.Context) {
	if s.bus == nil {
		return
	}
	events, unsub := s.bus.Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.apply(ev)
			if data, err := json.Marshal(ev); err == nil {
				s.hub.broadcast <- data
			}
		}
	}
}

func (s *Server) apply(ev stack.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.SessionID = ev.SessionID
	s.status.UpdatedAt = ev.Time
	switch ev.Type {
	case stack.EventProgress:
		s.status.State = "running"
		s.status.Message = ev.Message
		s.status.Level = ev.Level
	case stack.EventCounter:
		s.status.State = "running"
		s.status.Current = ev.Current
		s.status.Total = ev.Total
	case stack.EventPreview:
		s.status.Combined = ev.Combined
	case stack.EventDone:
		s.status.State = "idle"
		s.status.Combined = ev.Combined
		s.status.Total = ev.Total
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tmpl := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Stargazer Live Stacking</title>
    <style>
        :root {
            --bg-primary: #0f172a;
            --bg-secondary: #1e293b;
            --bg-tertiary: #334155;
            --text-primary: #f8fafc;
            --text-secondary: #cbd5e1;
            --accent: #3b82f6;
            --success: #10b981;
            --warning: #f59e0b;
            --error: #ef4444;
            --border: #475569;
        }

        * { margin: 0; padding: 0; box-sizing: border-box; }

        body {
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            overflow-x: hidden;
        }

        .header {
            background: var(--bg-secondary);
            padding: 1rem 2rem;
            border-bottom: 1px solid var(--border);
            display: flex;
            justify-content: space-between;
            align-items: center;
        }

        .logo {
            font-size: 1.5rem;
            font-weight: bold;
            color: var(--accent);
        }

        .status-indicator {
            display: flex;
            align-items: center;
            gap: 0.5rem;
        }

        .status-dot {
            width: 10px;
            height: 10px;
            border-radius: 50%;
            background: var(--success);
            animation: pulse 2s infinite;
        }

        @keyframes pulse {
            0% { opacity: 1; }
            50% { opacity: 0.5; }
            100% { opacity: 1; }
        }

        .dashboard {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(320px, 1fr));
            gap: 1rem;
            padding: 2rem;
        }

        .card {
            background: var(--bg-secondary);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 1.5rem;
        }

        .card-header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            margin-bottom: 1rem;
            padding-bottom: 0.5rem;
            border-bottom: 1px solid var(--border);
        }

        .card-title {
            font-size: 1.1rem;
            font-weight: 600;
        }

        .metric {
            display: flex;
            justify-content: space-between;
            padding: 0.5rem 0;
        }

        .metric-value {
            font-weight: 600;
            color: var(--accent);
        }

        .progress-bar {
            width: 100%;
            height: 6px;
            background: var(--bg-tertiary);
            border-radius: 3px;
            overflow: hidden;
            margin-top: 0.5rem;
        }

        .progress-fill {
            height: 100%;
            background: var(--accent);
            transition: width 0.3s ease;
        }

        .preview-frame {
            width: 100%;
            border-radius: 6px;
            background: var(--bg-tertiary);
            min-height: 200px;
            object-fit: contain;
        }

        .session-item {
            background: var(--bg-tertiary);
            padding: 0.75rem 1rem;
            border-radius: 6px;
            border-left: 4px solid var(--success);
            margin-bottom: 0.5rem;
        }

        .session-item.failed { border-left-color: var(--error); }
        .session-item.cancelled { border-left-color: var(--warning); }
        .session-item.running { border-left-color: var(--accent); }

        .session-line {
            display: flex;
            justify-content: space-between;
            font-size: 0.9rem;
        }

        .session-sub {
            color: var(--text-secondary);
            font-size: 0.8rem;
        }

        .activity-list {
            max-height: 300px;
            overflow-y: auto;
        }

        .activity-item {
            padding: 0.6rem 0.2rem;
            border-bottom: 1px solid var(--border);
            display: flex;
            gap: 1rem;
            font-size: 0.9rem;
        }

        .activity-item.warning { color: var(--warning); }
        .activity-item.error { color: var(--error); }
        .activity-item.success { color: var(--success); }

        .activity-timestamp {
            color: var(--text-secondary);
            font-size: 0.8rem;
            white-space: nowrap;
        }

        .connection-status {
            position: fixed;
            top: 1rem;
            right: 1rem;
            padding: 0.5rem 1rem;
            border-radius: 4px;
            font-size: 0.9rem;
            z-index: 1000;
        }

        .connected {
            background: var(--success);
            color: white;
        }

        .disconnected {
            background: var(--error);
            color: white;
        }
    </style>
</head>
<body>
    <div class="connection-status disconnected" id="connectionStatus">Connecting...</div>

    <header class="header">
        <div class="logo">&#10024; Stargazer Live Stacking</div>
        <div class="status-indicator">
            <div class="status-dot"></div>
            <span id="runState">Idle</span>
        </div>
    </header>

    <main class="dashboard">
        <div class="card">
            <div class="card-header">
                <h3 class="card-title">Current Run</h3>
                <span id="sessionShort">--</span>
            </div>
            <div class="metrics">
                <div class="metric">
                    <span>Frames Processed</span>
                    <span class="metric-value" id="frameCounter">--</span>
                </div>
                <div class="metric">
                    <span>Frames Stacked</span>
                    <span class="metric-value" id="combinedCount">--</span>
                </div>
                <div class="metric">
                    <span>Last Message</span>
                    <span class="metric-value" id="lastMessage">--</span>
                </div>
            </div>
            <div class="progress-bar">
                <div class="progress-fill" id="runProgress" style="width: 0%"></div>
            </div>
        </div>

        <div class="card">
            <div class="card-header">
                <h3 class="card-title">Live Preview</h3>
                <span id="previewCount">--</span>
            </div>
            <img class="preview-frame" id="previewImage" alt="No preview yet">
        </div>

        <div class="card">
            <div class="card-header">
                <h3 class="card-title">Recent Sessions</h3>
            </div>
            <div id="sessionList">
                <!-- Dynamic session items -->
            </div>
        </div>

        <div class="card">
            <div class="card-header">
                <h3 class="card-title">Activity</h3>
            </div>
            <div class="activity-list" id="activityList">
                <!-- Dynamic activity items -->
            </div>
        </div>
    </main>

    <script>
        class StargazerDashboard {
            constructor() {
                this.ws = null;
                this.reconnectAttempts = 0;
                this.maxReconnectAttempts = 5;
                this.loadStatus();
                this.loadSessions();
                this.connect();
            }

            connect() {
                const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
                const wsURL = protocol + '//' + window.location.host + '/ws';

                this.ws = new WebSocket(wsURL);

                this.ws.onopen = () => {
                    this.reconnectAttempts = 0;
                    document.getElementById('connectionStatus').textContent = 'Connected';
                    document.getElementById('connectionStatus').className = 'connection-status connected';
                };

                this.ws.onmessage = (event) => {
                    this.handleEvent(JSON.parse(event.data));
                };

                this.ws.onclose = () => {
                    document.getElementById('connectionStatus').textContent = 'Disconnected';
                    document.getElementById('connectionStatus').className = 'connection-status disconnected';
                    this.reconnect();
                };

                this.ws.onerror = (error) => {
                    console.error('WebSocket error:', error);
                };
            }

            reconnect() {
                if (this.reconnectAttempts < this.maxReconnectAttempts) {
                    this.reconnectAttempts++;
                    setTimeout(() => this.connect(), 3000);
                } else {
                    document.getElementById('connectionStatus').textContent = 'Connection Failed';
                }
            }

            handleEvent(ev) {
                switch (ev.type) {
                case 'progress':
                    document.getElementById('runState').textContent = 'Stacking';
                    document.getElementById('lastMessage').textContent = ev.message;
                    if (ev.session_id) {
                        document.getElementById('sessionShort').textContent = ev.session_id.slice(0, 8);
                    }
                    this.addActivity(ev);
                    break;
                case 'counter':
                    document.getElementById('frameCounter').textContent = ev.current + ' / ' + ev.total;
                    const pct = ev.total > 0 ? (ev.current / ev.total) * 100 : 0;
                    document.getElementById('runProgress').style.width = pct + '%';
                    break;
                case 'preview':
                    document.getElementById('combinedCount').textContent = ev.combined;
                    document.getElementById('previewCount').textContent = ev.combined + ' frames';
                    document.getElementById('previewImage').src = '/preview.png?t=' + Date.now();
                    break;
                case 'done':
                    document.getElementById('runState').textContent = 'Idle';
                    document.getElementById('combinedCount').textContent = ev.combined;
                    this.loadSessions();
                    break;
                }
            }

            addActivity(ev) {
                const container = document.getElementById('activityList');
                const item = document.createElement('div');
                const level = (ev.level || 'INFO').toLowerCase();
                item.className = 'activity-item ' + level;

                item.innerHTML =
                    '<div class="activity-timestamp">' + new Date(ev.time).toLocaleTimeString() + '</div>' +
                    '<div>' + ev.message + '</div>';

                container.prepend(item);
                while (container.children.length > 50) {
                    container.removeChild(container.lastChild);
                }
            }

            loadStatus() {
                fetch('/api/status')
                    .then(resp => resp.json())
                    .then(st => {
                        document.getElementById('runState').textContent = st.state === 'running' ? 'Stacking' : 'Idle';
                        if (st.sessionId) {
                            document.getElementById('sessionShort').textContent = st.sessionId.slice(0, 8);
                        }
                        if (st.total > 0) {
                            document.getElementById('frameCounter').textContent = st.current + ' / ' + st.total;
                        }
                        if (st.combined > 0) {
                            document.getElementById('combinedCount').textContent = st.combined;
                        }
                        if (st.message) {
                            document.getElementById('lastMessage').textContent = st.message;
                        }
                    })
                    .catch(err => console.error('status fetch failed:', err));
            }

            loadSessions() {
                fetch('/api/sessions')
                    .then(resp => resp.json())
                    .then(sessions => this.updateSessions(sessions))
                    .catch(err => console.error('sessions fetch failed:', err));
            }

            updateSessions(sessions) {
                const container = document.getElementById('sessionList');
                container.innerHTML = '';

                sessions.forEach(sess => {
                    const item = document.createElement('div');
                    item.className = 'session-item ' + sess.state;

                    item.innerHTML =
                        '<div class="session-line">' +
                            '<span>' + (sess.reference || sess.id.slice(0, 8)) + '</span>' +
                            '<span>' + sess.combined + ' / ' + sess.total + ' stacked</span>' +
                        '</div>' +
                        '<div class="session-sub">' + sess.state + ' &middot; ' + sess.strategy +
                            ' &middot; ' + new Date(sess.startedAt).toLocaleString() + '</div>';

                    container.appendChild(item);
                });
            }
        }

        // Initialize dashboard
        new StargazerDashboard();
    </script>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(tmpl))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.store == nil {
		w.Write([]byte("[]"))
		return
	}
	recs, err := s.store.Sessions(50)
	if err != nil {
		s.log.Error("listing sessions failed", "error", err)
		http.Error(w, "listing sessions failed", http.StatusInternalServerError)
		return
	}
	out := make([]sessionJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sessionJSON{
			ID: rec.ID, State: rec.State, Reference: rec.Reference, Strategy: rec.Strategy,
			Total: rec.Total, Combined: rec.Combined, Skipped: rec.Skipped, Dropped: rec.Dropped,
			Output: rec.Output, Error: rec.Error, StartedAt: rec.StartedAt, FinishedAt: rec.FinishedAt,
		})
	}
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	w.Header().Set("Content-Type", "application/json")
	if s.store == nil {
		w.Write([]byte("[]"))
		return
	}
	recs, err := s.store.Frames(id)
	if err != nil {
		s.log.Error("listing frames failed", "session", id, "error", err)
		http.Error(w, "listing frames failed", http.StatusInternalServerError)
		return
	}
	out := make([]frameJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, frameJSON{Path: rec.Path, Status: rec.Status, Reason: rec.Reason, RecordedAt: rec.RecordedAt})
	}
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	img := s.previewImg
	gen := s.previewGen
	cached := s.pngCache
	cachedGen := s.pngGen
	s.mu.Unlock()

	if img == nil {
		http.Error(w, "no preview available", http.StatusNotFound)
		return
	}
	if cached == nil || cachedGen != gen {
		data, err := preview.PNG(img)
		if err != nil {
			s.log.Error("rendering preview failed", "error", err)
			http.Error(w, "rendering preview failed", http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		s.pngCache, s.pngGen = data, gen
		s.mu.Unlock()
		cached = data
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(cached)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
			conn.Close()
		}()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug("websocket client disconnected", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}
