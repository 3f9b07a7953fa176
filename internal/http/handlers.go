package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool/internal/apperrors"
	"github.com/example/carpool/internal/config"
	"github.com/example/carpool/internal/consensus"
	"github.com/example/carpool/internal/dispatch"
	"github.com/example/carpool/internal/geo"
	"github.com/example/carpool/internal/ingest"
	"github.com/example/carpool/internal/locks"
	"github.com/example/carpool/internal/logging"
	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/optimizer"
	"github.com/example/carpool/internal/rides"
	"github.com/example/carpool/internal/routing"
	"github.com/example/carpool/internal/storage"
)

type Server struct {
	Service  *rides.Service
	Engine   *consensus.Engine
	Users    storage.UserStore
	Requests storage.RequestStore
	Kafka    *ingest.KafkaProducer
	WSReg    *dispatch.WSRegistry

	mux    *mux.Router
	logger *slog.Logger
}

// NewServer wires the coordinator from config: postgres or in-memory stores,
// redis-backed request TTL and geo index when available, OSRM or the
// straight-line estimator as the distance oracle.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var rideStore storage.RideStore
	var reqStore storage.RequestStore
	var userStore storage.UserStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN, cfg.RequestTTL); err == nil {
			rideStore, reqStore, userStore = ps, ps, ps
		} else {
			logger.Error("postgres unavailable, using memory stores", "error", err)
		}
	}
	if rideStore == nil {
		rideStore = storage.NewMemoryRideStore()
		userStore = storage.NewMemoryUserStore()
	}
	if cfg.RedisAddr != "" {
		// native key TTL enforces the bounded waiting period
		reqStore = storage.NewRedisRequestStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RequestTTL)
	}
	if reqStore == nil {
		reqStore = storage.NewMemoryRequestStore(cfg.RequestTTL)
	}

	var ggeo geo.Geo
	if cfg.RedisAddr != "" {
		ggeo = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		ggeo = geo.NewIndex()
	}

	var oracle routing.Oracle
	if cfg.OSRMEndpoint != "" {
		oracle = routing.NewOSRMClient(cfg.OSRMEndpoint, cfg.OracleTimeout)
	} else {
		oracle = routing.HaversineOracle{SpeedMps: cfg.DefaultSpeedMps}
	}
	if cfg.MeasureCacheTTL > 0 {
		oracle = routing.CachedOracle{Inner: oracle, Cache: routing.NewCache(cfg.MeasureCacheTTL)}
	}

	wsreg := dispatch.NewWSRegistry()
	var fallback dispatch.Notifier = &dispatch.LogNotifier{Logger: logger}
	if cfg.FCMEndpoint != "" {
		fallback = dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey)
	}
	notifier := dispatch.NewPushDispatcher(wsreg, fallback)

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	rideLocks := locks.NewKeyedMutex()
	engine := &consensus.Engine{
		Rides:             rideStore,
		Requests:          reqStore,
		Users:             userStore,
		Oracle:            oracle,
		Notifier:          notifier,
		RideLocks:         rideLocks,
		RequestLocks:      locks.NewKeyedMutex(),
		OptimizerDeadline: cfg.OptimizerDeadline,
		Logger:            logging.Component(logger, "consensus"),
	}
	svc := &rides.Service{
		Rides:     rideStore,
		Requests:  reqStore,
		Users:     userStore,
		Geo:       ggeo,
		Engine:    engine,
		Notifier:  notifier,
		RideLocks: rideLocks,
		Logger:    logging.Component(logger, "rides"),
	}

	s := &Server{
		Service:  svc,
		Engine:   engine,
		Users:    userStore,
		Requests: reqStore,
		Kafka:    kp,
		WSReg:    wsreg,
		mux:      mux.NewRouter(),
		logger:   logging.Component(logger, "http"),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func NewServerFromEnv() (*Server, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, err
	}
	return NewServer(cfg, logging.NewLogger(cfg.LogLevel)), nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/users", s.handleRegisterUser).Methods("POST")

	s.mux.HandleFunc("/api/v1/rides", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides", s.handleListRides).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/requests", s.handleSubmitRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/requests", s.handlePendingRequests).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/leave", s.handleLeave).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/passengers/{client_id}/remove", s.handleRemovePassenger).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/end", s.handleEndRide).Methods("POST")

	s.mux.HandleFunc("/api/v1/requests/{request_id}", s.handleRequestStatus).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/vote", s.handleVote).Methods("POST")

	s.mux.HandleFunc("/api/v1/locations", s.handleLocation).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID   string      `json:"id"`
		Role models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if in.Role != models.RoleDriver && in.Role != models.RoleClient {
		s.writeError(w, r, apperrors.ErrInvalidRole)
		return
	}
	if in.ID == "" {
		in.ID = newID()
	}
	u := &models.User{ID: in.ID, Role: in.Role, Updated: time.Now()}
	if err := s.Users.SaveUser(u); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID string         `json:"driver_id"`
		Route    []models.Coord `json:"route"`
		Capacity int            `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	ride, err := s.Service.Create(r.Context(), in.DriverID, in.Route, in.Capacity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	var near *models.Coord
	q := r.URL.Query()
	if q.Get("lat") != "" && q.Get("lon") != "" {
		lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
		lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
		if err1 != nil || err2 != nil {
			s.writeError(w, r, apperrors.ErrInvalidCoordinate)
			return
		}
		near = &models.Coord{Lat: lat, Lon: lon}
	}
	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	out, err := s.Service.List(r.Context(), near, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Service.Get(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClientID string       `json:"client_id"`
		Pickup   models.Coord `json:"pickup"`
		Dropoff  models.Coord `json:"dropoff"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	q, err := s.Engine.Submit(r.Context(), mux.Vars(r)["ride_id"], in.ClientID, in.Pickup, in.Dropoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	out, err := s.Engine.PendingForRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		VoterID  string `json:"voter_id"`
		Approved bool   `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	q, err := s.Engine.CastVote(r.Context(), mux.Vars(r)["request_id"], in.VoterID, in.Approved)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	q, err := s.Requests.GetRequest(mux.Vars(r)["request_id"])
	if err != nil {
		// an expired pending request reads as gone: the rider retries fresh
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": q.Status})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if err := s.Service.Leave(r.Context(), mux.Vars(r)["ride_id"], in.ClientID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"message": "left the ride"})
}

func (s *Server) handleRemovePassenger(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	vars := mux.Vars(r)
	if err := s.Service.Remove(r.Context(), vars["ride_id"], in.DriverID, vars["client_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"message": "passenger removed"})
}

func (s *Server) handleEndRide(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if err := s.Service.End(r.Context(), mux.Vars(r)["ride_id"], in.DriverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"message": "ride ended"})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var in models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badRequest(err))
		return
	}
	if err := s.Service.UpdateLocation(r.Context(), in.UserID, in.Role, in.Loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	// fan out to the ingest pipeline if configured
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(in); err != nil {
			s.logger.Warn("kafka publish failed", "user", in.UserID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// badRequest tags decode failures so writeError maps them to 400.
type decodeError struct{ err error }

func (d decodeError) Error() string { return d.err.Error() }

func badRequest(err error) error { return decodeError{err: err} }

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	var de decodeError
	switch {
	case errors.As(err, &de):
		status = http.StatusBadRequest
	case status == http.StatusInternalServerError && upstreamUnavailable(err):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, map[string]any{"message": err.Error()})
}

// upstreamUnavailable covers oracle and optimizer failures: the operation did
// not happen, but nothing about the request itself was wrong.
func upstreamUnavailable(err error) bool {
	return errors.Is(err, routing.ErrTimeout) ||
		errors.Is(err, routing.ErrUpstream) ||
		errors.Is(err, routing.ErrNoRoute) ||
		errors.Is(err, optimizer.ErrNoBaseRoute) ||
		errors.Is(err, optimizer.ErrNoValidInsertion) ||
		errors.Is(err, consensus.ErrRideChanged)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
