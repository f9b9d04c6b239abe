// Package httpapi is the synchronous decision surface of the vault. The
// handlers are thin: they decode input, call the guards and registries,
// record the decision on the audit chain, and encode the result.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"vaultkit.org/internal/audit"
	"vaultkit.org/internal/consent"
	"vaultkit.org/internal/dissent"
	"vaultkit.org/internal/enforce"
	"vaultkit.org/internal/gauge"
	"vaultkit.org/internal/obs"
)

// ReadyProbe reports whether dependencies are ready to serve.
type ReadyProbe struct {
	Chain audit.Store
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Chain == nil {
		return nil
	}
	_, err := rp.Chain.Len(ctx)
	return err
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	chain    audit.Store
	consents *consent.Registry
	dissent  *dissent.Engine
	enforcer *enforce.Bridge
	bus      *gauge.Bus

	accesses atomic.Int64
}

// Config wires the API's collaborators. Chain, Consents and Dissent are
// required; Enforcer and Bus are optional.
type Config struct {
	Chain    audit.Store
	Consents *consent.Registry
	Dissent  *dissent.Engine
	Enforcer *enforce.Bridge
	Bus      *gauge.Bus
	Version  string
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: ReadyProbe{Chain: cfg.Chain},
		version:    cfg.Version,
		chain:      cfg.Chain,
		consents:   cfg.Consents,
		dissent:    cfg.Dissent,
		enforcer:   cfg.Enforcer,
		bus:        cfg.Bus,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// guard decisions and plane tokens
	a.mux.HandleFunc("/v1/invariants", a.handleInvariants)
	a.mux.HandleFunc("/v1/check/plane", a.handleCheckPlane)
	a.mux.HandleFunc("/v1/check/access", a.handleCheckAccess)
	a.mux.HandleFunc("/v1/check/approvals", a.handleCheckApprovals)
	a.mux.HandleFunc("/v1/check/aggregation", a.handleCheckAggregation)
	a.mux.HandleFunc("/v1/tokens", a.handleTokens)

	// consent lifecycle
	a.mux.HandleFunc("/v1/consents", a.handleConsentsCollection)
	a.mux.HandleFunc("/v1/consents/verify", a.handleConsentVerify)
	a.mux.HandleFunc("/v1/consents/", a.handleConsentResource)

	// dissent commitments and ballots
	a.mux.HandleFunc("/v1/commitments", a.handleCommitmentsCollection)
	a.mux.HandleFunc("/v1/commitments/", a.handleCommitmentResource)
	a.mux.HandleFunc("/v1/ballots", a.handleBallotsCollection)
	a.mux.HandleFunc("/v1/ballots/", a.handleBallotResource)
	a.mux.HandleFunc("/v1/dissent/trail", a.handleDissentTrail)

	// audit chain
	a.mux.HandleFunc("/v1/audit/events", a.handleAuditEvents)
	a.mux.HandleFunc("/v1/audit/verify", a.handleAuditVerify)

	// delegated enforcement
	a.mux.HandleFunc("/v1/enforce/check", a.handleEnforceCheck)
	a.mux.HandleFunc("/v1/enforce/status", a.handleEnforceStatus)

	// cross-system insight events
	a.mux.HandleFunc("/v1/gauge/events", a.handleGaugeEvents)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "vaultkit-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "vaultkit-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// audit appends a decision event to the chain and keeps the chain-length
// gauge current. Append failures are logged, never surfaced: the decision
// has already been made and returned.
func (a *API) audit(ctx context.Context, e audit.Entry) {
	if a.chain == nil {
		return
	}
	if _, err := a.chain.Append(ctx, e); err != nil {
		_ = audit.LogEvent(ctx, "audit.append.failed", map[string]any{
			"action": string(e.Action),
			"error":  err.Error(),
		})
		return
	}
	if n, err := a.chain.Len(ctx); err == nil {
		obs.SetAuditChainLength(n)
	}
}

// emitInsight publishes an outbound snapshot to companion systems after a
// significant privacy operation. Failures to observe are tolerated; the
// event carries whatever could be gathered.
func (a *API) emitInsight(ctx context.Context, typ string) {
	if a.bus == nil {
		return
	}
	insight := gauge.Insight{
		AccessCount:     int(a.accesses.Load()),
		ConsentsPending: a.consents.Pending(ctx),
	}
	if a.chain != nil {
		if n, err := a.chain.Len(ctx); err == nil {
			insight.AuditTrailSize = n
		}
	}
	a.bus.Emit(typ, insight)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// errMissingBody marks an empty request body. Most handlers surface it as
// a 400; handlers whose body is optional treat it as "use defaults".
var errMissingBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errMissingBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
