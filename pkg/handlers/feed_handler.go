package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/audit"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/services"
	"github.com/ekaya-inc/ekaya-press/pkg/sql"
)

// FeedHandler serves the public article feed and article pages.
type FeedHandler struct {
	feedService services.FeedService
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewFeedHandler creates a new feed handler.
func NewFeedHandler(feedService services.FeedService, auditor *audit.SecurityAuditor, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{
		feedService: feedService,
		auditor:     auditor,
		logger:      logger,
	}
}

// RegisterRoutes registers the feed handler's routes on the given mux.
func (h *FeedHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/feed", h.List)
	mux.HandleFunc("GET /api/articles/{slug}", h.GetArticle)
}

// List handles GET /api/feed
//
// Query parameters: sort (new|popular), category (id or slug), q, author,
// since, until, cursor, limit.
func (h *FeedHandler) List(w http.ResponseWriter, r *http.Request) {
	query, err := parseFeedQuery(r)
	if err != nil {
		h.auditor.LogInputRejected(r.Context(), r.URL.Path, err.Error(), r.RemoteAddr)
		WriteServiceError(w, err, h.logger)
		return
	}

	if result := sql.CheckText("q", query.Text); result != nil {
		h.auditor.LogInjectionAttempt(r.Context(), r.URL.Path, audit.InjectionDetails{
			ParamName:   result.ParamName,
			ParamValue:  result.ParamValue,
			Fingerprint: result.Fingerprint,
		}, r.RemoteAddr)
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_search", "search text was rejected"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	page, err := h.feedService.ListFeed(r.Context(), query)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: page}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetArticle handles GET /api/articles/{slug}
func (h *FeedHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := h.feedService.GetArticle(r.Context(), r.PathValue("slug"))
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: article}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func parseFeedQuery(r *http.Request) (models.FeedQuery, error) {
	values := r.URL.Query()
	query := models.FeedQuery{
		Sort:     models.FeedSort(values.Get("sort")),
		Category: values.Get("category"),
		Text:     values.Get("q"),
		Cursor:   values.Get("cursor"),
	}

	var err error
	if query.Limit, err = QueryInt(r, "limit"); err != nil {
		return query, err
	}
	if query.AuthorID, err = QueryUUID(r, "author"); err != nil {
		return query, err
	}
	if query.Since, err = QueryTime(r, "since"); err != nil {
		return query, err
	}
	if query.Until, err = QueryTime(r, "until"); err != nil {
		return query, err
	}
	return query, nil
}
