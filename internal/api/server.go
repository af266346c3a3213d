// Package api provides Aurora's read-only HTTP and WebSocket surface:
// health, Prometheus metrics, prediction/weights/backtest lookups, and a
// live feed of the event bus. No mutation endpoints exist — every write
// path (predictions, weights, outcomes) belongs to the Scheduler, Grader,
// and Optimizer, not to an HTTP client. Grounded on the teacher's
// internal/api.Server for the router/websocket-hub shape.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/aurora/internal/backtest"
	"github.com/atlas-desktop/aurora/internal/events"
	"github.com/atlas-desktop/aurora/internal/store"
	"github.com/atlas-desktop/aurora/pkg/types"
)

// Config configures the HTTP server.
type Config struct {
	Host            string
	Port            int
	WebSocketPath   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BacktestWindow  time.Duration // trailing window used by GET /backtest/{ticker}
}

// DefaultConfig returns sane defaults for a single-process daemon.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		WebSocketPath:  "/ws",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		BacktestWindow: 60 * 24 * time.Hour,
	}
}

// Server is Aurora's read-only HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	cfg        Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*client

	repo      store.Repository
	replayer  *backtest.Replayer
	eventBus  *events.EventBus
}

// client is a connected WebSocket subscriber to the event feed.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewServer builds a Server wired to repo for reads, replayer for on-demand
// backtests, and eventBus for the /ws feed.
func NewServer(logger *zap.Logger, cfg Config, repo store.Repository, replayer *backtest.Replayer, eventBus *events.EventBus) *Server {
	s := &Server{
		logger:   logger.Named("api"),
		cfg:      cfg,
		router:   mux.NewRouter(),
		clients:  make(map[string]*client),
		repo:     repo,
		replayer: replayer,
		eventBus: eventBus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.HandleFunc("/api/v1/predictions", s.handlePredictions).Methods("GET")
	s.router.HandleFunc("/api/v1/predictions/{ticker}", s.handlePredictionsForTicker).Methods("GET")
	s.router.HandleFunc("/api/v1/weights/{ticker}", s.handleWeights).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{ticker}", s.handleBacktest).Methods("GET")

	s.router.HandleFunc(s.cfg.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop closes all websocket clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// handlePredictions returns active predictions across all tickers.
func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	predictions, err := s.repo.GetActivePredictions(r.Context(), "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"predictions": predictions,
		"count":       len(predictions),
	})
}

// handlePredictionsForTicker returns active predictions for a single ticker,
// or its N most recent (including closed) when ?recent=N is given.
func (s *Server) handlePredictionsForTicker(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	if n := r.URL.Query().Get("recent"); n != "" {
		count, err := strconv.Atoi(n)
		if err != nil || count <= 0 {
			http.Error(w, "invalid recent count", http.StatusBadRequest)
			return
		}
		predictions, err := s.repo.GetRecentPredictions(r.Context(), ticker, count)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"ticker": ticker, "predictions": predictions, "count": len(predictions)})
		return
	}

	predictions, err := s.repo.GetActivePredictions(r.Context(), ticker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"ticker": ticker, "predictions": predictions, "count": len(predictions)})
}

// handleWeights returns a ticker's active gene set, or the documented
// defaults if the Optimizer has never evolved one.
func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	weights, found, err := s.repo.GetActiveWeights(r.Context(), ticker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		weights = types.DefaultWeights(ticker)
	}
	writeJSON(w, map[string]interface{}{"ticker": ticker, "weights": weights, "isDefault": !found})
}

// handleBacktest replays a ticker's trailing BacktestWindow of candles
// against its current active weights. This is computed on demand rather
// than read from storage — the replay is cheap relative to an HTTP round
// trip and always reflects the ticker's live gene set.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]

	weights, found, err := s.repo.GetActiveWeights(r.Context(), ticker)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		weights = types.DefaultWeights(ticker)
	}

	end := time.Now()
	start := end.Add(-s.cfg.BacktestWindow)

	result, err := s.replayer.Replay(r.Context(), ticker, start, end, weights, backtest.WithMonteCarlo(500))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

// handleWebSocket upgrades the connection and subscribes it to every event
// bus message for the lifetime of the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.New().String(), conn: conn, send: make(chan []byte, 256)}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.logger.Info("websocket client connected", zap.String("id", c.id))

	var sub *events.Subscription
	if s.eventBus != nil {
		sub = s.eventBus.SubscribeAll(func(event events.Event) error {
			payload, err := json.Marshal(event)
			if err != nil {
				return err
			}
			select {
			case c.send <- payload:
			default:
			}
			return nil
		})
	}

	go s.writePump(c, sub)
	s.readPump(c, sub)
}

func (s *Server) readPump(c *client, sub *events.Subscription) {
	defer func() {
		if sub != nil && s.eventBus != nil {
			s.eventBus.Unsubscribe(sub)
		}
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.conn.Close()
		s.logger.Info("websocket client disconnected", zap.String("id", c.id))
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// The feed is one-way (server -> client); any inbound frame only keeps
	// the read deadline alive until the connection closes.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) writePump(c *client, sub *events.Subscription) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
