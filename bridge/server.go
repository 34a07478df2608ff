package bridge

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tangyewlabs/civd-go/civd"
)

// Server is an HTTP server that answers GET /submap?time=&cz=&cy=&cx=&radius=&mode=
// with one JSON body holding both the civd.submap.v1 manifest ("manifest")
// and its sidecar as a SubmapDeltaMsg ("sidecar"). It is the bridge's
// pull-mode counterpart to the push-mode PublishToDir/LoadFromBase pair:
// both speak the same sidecar/manifest wire format.
type Server struct {
	world   *civd.World
	logger  *zap.Logger
	metrics *civd.Metrics
	mux     *http.ServeMux
}

// NewServer wires a Server over world, registering its metrics under reg
// (typically prometheus.DefaultRegisterer) and logging through logger —
// zap is scoped to exactly this HTTP surface, the same way the teacher
// scopes zap to its Caddy proxy module rather than the whole codebase.
func NewServer(world *civd.World, logger *zap.Logger, reg prometheus.Registerer, corsOrigin string) (*Server, error) {
	metrics := civd.NewMetrics("civd_bridge")
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}

	s := &Server{world: world, logger: logger, metrics: metrics, mux: http.NewServeMux()}
	s.mux.HandleFunc("/submap", s.handleSubmap)
	s.mux.Handle("/metrics", promhttp.Handler())

	return s, nil
}

// Handler returns the server's http.Handler, optionally wrapped with CORS
// when corsOrigin is non-empty.
func (s *Server) Handler(corsOrigin string) http.Handler {
	if corsOrigin == "" {
		return s.mux
	}
	c := cors.New(cors.Options{AllowedOrigins: []string{corsOrigin}})
	return c.Handler(s.mux)
}

func (s *Server) handleSubmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snapshot := q.Get("time")
	if snapshot == "" {
		http.Error(w, "missing time", http.StatusBadRequest)
		return
	}
	cz, errZ := strconv.Atoi(q.Get("cz"))
	cy, errY := strconv.Atoi(q.Get("cy"))
	cx, errX := strconv.Atoi(q.Get("cx"))
	radius, errR := strconv.Atoi(q.Get("radius"))
	if errZ != nil || errY != nil || errX != nil || errR != nil {
		http.Error(w, "cz, cy, cx, radius must be integers", http.StatusBadRequest)
		return
	}
	mode := civd.QueryMode(q.Get("mode"))
	if mode == "" {
		mode = civd.ModeFull
	}

	sidecar, manifest, err := civd.QuerySubmap(r.Context(), s.world, snapshot, [3]int{cz, cy, cx}, radius, mode)
	s.metrics.ObserveQuery(mode, err, nil, civd.StreamStats{})
	if err != nil {
		s.logger.Warn("submap query failed", zap.String("snapshot", snapshot), zap.Error(err))
		writeCivdError(w, err)
		return
	}

	msg := FromSidecar(sidecar, manifest)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"manifest": manifest,
		"sidecar":  msg,
	}); err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
	}
}

func writeCivdError(w http.ResponseWriter, err error) {
	e, ok := err.(*civd.Error)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	switch e.Kind {
	case civd.KindIO:
		http.Error(w, e.Error(), http.StatusNotFound)
	case civd.KindInvalidMode, civd.KindSchema, civd.KindShape:
		http.Error(w, e.Error(), http.StatusBadRequest)
	default:
		http.Error(w, e.Error(), http.StatusInternalServerError)
	}
}
