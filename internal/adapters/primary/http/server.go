package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
)

type Server struct {
	feed     ports.FeedService
	recs     ports.RecommendationService
	verifier *TokenVerifier

	// Requêtes par minute et par IP (0 = pas de limite)
	rateLimit int
}

func NewServer(feed ports.FeedService, recs ports.RecommendationService, verifier *TokenVerifier, rateLimit int) *Server {
	return &Server{feed: feed, recs: recs, verifier: verifier, rateLimit: rateLimit}
}

// Routes construit le routeur chi complet
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
		}
		r.Use(Authenticate(s.verifier))

		r.Get("/feed/for-you", s.handleForYou)
		r.Get("/feed/following", s.handleFollowing)
		r.Get("/recommendations/users", s.handleSuggestedUsers)
		r.Get("/recommendations/trending-projects", s.handleTrendingProjects)
	})
	return r
}

func (s *Server) handleForYou(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, s.feed.GetForYouFeed)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	s.serveFeed(w, r, s.feed.GetFollowingFeed)
}

type feedFunc func(ctx context.Context, req domain.FeedRequest) (*domain.FeedPage, error)

func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, get feedFunc) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	page, err := get(r.Context(), domain.FeedRequest{
		ViewerID: ViewerFromContext(r.Context()),
		Cursor:   r.URL.Query().Get("cursor"),
		Limit:    limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedPageDTO(page))
}

func (s *Server) handleSuggestedUsers(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	// Contexte inconnu : profil par défaut
	suggestionCtx := domain.SuggestionContext(r.URL.Query().Get("context"))

	users, err := s.recs.GetSuggestedUsers(r.Context(), ViewerFromContext(r.Context()), limit, suggestionCtx)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listDTO[userSummaryDTO]{Items: toUserSummaryDTOs(users)})
}

func (s *Server) handleTrendingProjects(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	projects, err := s.recs.GetTrendingProjects(r.Context(), ViewerFromContext(r.Context()), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listDTO[projectSummaryDTO]{Items: toProjectSummaryDTOs(projects)})
}

// parseLimit : absent = 0 (défaut du service). Les bornes sont appliquées par le core.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return 0, false
	}
	return limit, true
}

// --- Réponses ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDTO{Code: code, Message: message}})
}

// writeServiceError : mapping Domain -> HTTP
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		slog.Warn("Store unavailable", "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "temporarily unavailable, retry shortly")
	case errors.Is(err, context.Canceled):
		// Client parti : personne ne lira la réponse
		slog.Debug("Request canceled", "path", r.URL.Path)
		w.WriteHeader(499)
	default:
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
