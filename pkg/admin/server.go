// Package admin serves and consumes the HTTP admin API of a cluster
// middleware instance.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dd0wney/cluso-dbcluster/pkg/audit"
	"github.com/dd0wney/cluso-dbcluster/pkg/auth"
	"github.com/dd0wney/cluso-dbcluster/pkg/cluster"
	"github.com/dd0wney/cluso-dbcluster/pkg/graphql"
	"github.com/dd0wney/cluso-dbcluster/pkg/health"
	"github.com/dd0wney/cluso-dbcluster/pkg/lock"
	"github.com/dd0wney/cluso-dbcluster/pkg/logging"
	"github.com/dd0wney/cluso-dbcluster/pkg/metrics"
	"github.com/dd0wney/cluso-dbcluster/pkg/synchronization"
)

// MemberStatus is the JSON view of a member served under /members.
type MemberStatus struct {
	ID     string `json:"id"`
	Driver string `json:"driver"`
	Weight int    `json:"weight"`
	Local  bool   `json:"local"`
	State  string `json:"state"`
	Dirty  bool   `json:"dirty"`
}

type server struct {
	cluster *cluster.Cluster
	trail   *audit.Trail
	logger  logging.Logger
}

// defaultAuditLimit caps GET /audit when no limit is given.
const defaultAuditLimit = 100

// NewRouter serves metrics and health openly. The member, audit and
// /graphql endpoints require a viewer token to read and an operator token to
// change the active set when authn is non-nil. Changes to the active set are
// recorded in trail.
func NewRouter(c *cluster.Cluster, hc *health.HealthChecker, registry *metrics.Registry, authn *auth.JWTManager, trail *audit.Trail, logger logging.Logger) (*mux.Router, error) {
	logger = logging.OrNop(logger)
	var recorder audit.Logger
	if trail != nil {
		recorder = trail
	}
	schema, err := graphql.NewSchema(c, recorder, logger)
	if err != nil {
		return nil, err
	}
	a := &server{cluster: c, trail: trail, logger: logger}
	router := mux.NewRouter()
	router.Use(a.loggingMiddleware)

	router.Handle("/metrics", registry.Handler()).Methods("GET")
	router.HandleFunc("/health", hc.HTTPHandler()).Methods("GET")
	router.HandleFunc("/health/ready", hc.ReadinessHandler()).Methods("GET")
	router.HandleFunc("/health/live", hc.LivenessHandler()).Methods("GET")

	protect := func(role string, h http.HandlerFunc) http.Handler {
		if authn == nil {
			return h
		}
		return authn.Require(role)(h)
	}
	router.Handle("/members", protect(auth.RoleViewer, a.listMembers)).Methods("GET")
	router.Handle("/members/{id}", protect(auth.RoleViewer, a.getMember)).Methods("GET")
	router.Handle("/members/{id}/activate", protect(auth.RoleOperator, a.activate)).Methods("POST")
	router.Handle("/members/{id}/deactivate", protect(auth.RoleOperator, a.deactivate)).Methods("POST")
	router.Handle("/audit", protect(auth.RoleViewer, a.listAudit)).Methods("GET")
	router.Handle("/graphql", protect(auth.RoleViewer, graphql.NewHandler(schema, 0).ServeHTTP)).Methods("POST")
	return router, nil
}

func (a *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Latency(time.Since(start)))
	})
}

func (a *server) status(id string) (MemberStatus, error) {
	m, err := a.cluster.Member(id)
	if err != nil {
		return MemberStatus{}, err
	}
	st, err := a.cluster.MemberState(id)
	if err != nil {
		return MemberStatus{}, err
	}
	return MemberStatus{
		ID:     m.ID,
		Driver: m.Source.Driver,
		Weight: m.Weight,
		Local:  m.Local,
		State:  st.String(),
		Dirty:  m.IsDirty(),
	}, nil
}

func (a *server) listMembers(w http.ResponseWriter, r *http.Request) {
	members := a.cluster.Members()
	out := make([]MemberStatus, 0, len(members))
	for _, m := range members {
		st, err := a.status(m.ID)
		if err != nil {
			a.writeError(w, err)
			return
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *server) getMember(w http.ResponseWriter, r *http.Request) {
	st, err := a.status(mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *server) activate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	strategy := r.URL.Query().Get("strategy")
	err := a.cluster.Activate(r.Context(), id, strategy)
	a.record(r, audit.ActionActivate, id, strategy, err)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.getMember(w, r)
}

func (a *server) deactivate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := a.cluster.Deactivate(r.Context(), id)
	a.record(r, audit.ActionDeactivate, id, "", err)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.getMember(w, r)
}

func (a *server) record(r *http.Request, action audit.Action, id, strategy string, opErr error) {
	if a.trail == nil {
		return
	}
	e := audit.NewEvent(r.Context(), action, id, strategy, opErr)
	e.RemoteAddr = r.RemoteAddr
	e.Via = "rest"
	if err := a.trail.Log(e); err != nil {
		a.logger.Warn("failed to record audit event", logging.MemberID(id), logging.Error(err))
	}
}

// listAudit returns recent audit events, newest first. Query parameters
// member, actor, action and status filter; limit caps the result.
func (a *server) listAudit(w http.ResponseWriter, r *http.Request) {
	if a.trail == nil {
		writeJSON(w, http.StatusOK, []*audit.Event{})
		return
	}
	q := r.URL.Query()
	limit := defaultAuditLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	filter := &audit.Filter{
		MemberID: q.Get("member"),
		Actor:    q.Get("actor"),
		Action:   audit.Action(q.Get("action")),
		Status:   audit.Status(q.Get("status")),
	}
	writeJSON(w, http.StatusOK, a.trail.Events(filter, limit))
}

func (a *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cluster.ErrMemberNotFound):
		status = http.StatusNotFound
	case errors.Is(err, synchronization.ErrUnknownStrategy):
		status = http.StatusBadRequest
	case errors.Is(err, cluster.ErrMemberNotAlive):
		status = http.StatusConflict
	case errors.Is(err, lock.ErrVoteRejected), errors.Is(err, lock.ErrVoteTimeout),
		errors.Is(err, cluster.ErrClusterStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("admin request failed", logging.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
