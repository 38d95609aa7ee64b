package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"metaserver/internal/auth"
	"metaserver/internal/observability/logging"
	"metaserver/internal/observability/metrics"
	"metaserver/internal/reconcile"
	"metaserver/internal/storage"
)

// Handler bundles the pieces every endpoint needs: the document store, the
// capability gate, the reconciliation pipeline and the session manager.
type Handler struct {
	Store               storage.DocumentStore
	Capabilities        *auth.CapabilityStore
	Gate                *auth.Gate
	Sessions            *auth.SessionManager
	Importer            *reconcile.Importer
	Normalizer          *reconcile.Normalizer
	Assembler           *reconcile.Assembler
	Notifier            *auth.ReloadNotifier
	Metrics             *metrics.Recorder
	Logger              *slog.Logger
	SessionCookiePolicy SessionCookiePolicy
}

// NewHandler wires a Handler over the given store and capability table,
// constructing the reconciliation pipeline with defaults.
func NewHandler(store storage.DocumentStore, capabilities *auth.CapabilityStore, sessions *auth.SessionManager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	recorder := metrics.Default()
	return &Handler{
		Store:        store,
		Capabilities: capabilities,
		Gate:         auth.NewGate(capabilities, recorder),
		Sessions:     sessions,
		Importer:     reconcile.NewImporter(store, logging.WithComponent(logger, "importer"), recorder, 0),
		Normalizer:   reconcile.NewNormalizer(store, logging.WithComponent(logger, "normalizer")),
		Assembler:    reconcile.NewAssembler(store),
		Metrics:      recorder,
		Logger:       logger,
	}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

// requestKey extracts the caller's API key: the X-API-Key header wins, the
// "key" query parameter is the fallback, and callers presenting neither act
// as the default key.
func requestKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if key := strings.TrimSpace(r.URL.Query().Get("key")); key != "" {
		return key
	}
	return auth.DefaultKey
}

// errUnauthorized is the only body an authorization failure produces; it
// never names the tokens that would have been accepted.
var errUnauthorized = errors.New("unauthorized")

// authorize checks the caller against verb+target tokens, writing the fixed
// 401 body on failure.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, verb string, targets ...string) bool {
	if err := h.Gate.Authorize(requestKey(r), verb, targets...); err != nil {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return false
	}
	return true
}

// authorizeListing applies the collection-read rule, including the extra
// unfiltered token an unrestricted dump requires.
func (h *Handler) authorizeListing(w http.ResponseWriter, r *http.Request, collection string, filtered bool) bool {
	if err := h.Gate.AuthorizeListing(requestKey(r), collection, filtered); err != nil {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return false
	}
	return true
}

// writeStoreError translates reconciliation and storage failures into the
// error taxonomy: missing objects are 404, malformed bundles are 400, and
// everything else is an opaque 500 with the detail kept in the log.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("not found"))
	case errors.Is(err, reconcile.ErrMalformedBundle):
		writeError(w, http.StatusBadRequest, err)
	default:
		logging.WithContext(r.Context(), h.logger()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func isSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "https") {
				return true
			}
		}
	}
	if r.URL != nil && strings.EqualFold(r.URL.Scheme, "https") {
		return true
	}
	return false
}
