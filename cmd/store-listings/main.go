package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/httputil"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
	"github.com/grasshoppersolutions/convocatorias/internal/services"
)

var (
	storeInstance *services.StoreFunction
	cfg           config.Config
	once          sync.Once
	initErr       error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleStoreListings", handleStoreListings)
}

func main() {}

type storeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	models.UpsertResult
}

// handleStoreListings upserts listings on POST and lists them on GET.
func handleStoreListings(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, initErr = config.Load()
		if initErr == nil {
			storeInstance, initErr = services.NewStore(context.Background(), cfg)
		}
	})
	if initErr != nil {
		slog.Error("Critical: Store initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	if httputil.Preflight(w, r, cfg.AllowedOrigin, "GET, POST, OPTIONS") {
		return
	}

	switch r.Method {
	case http.MethodPost:
		handleUpsert(w, r)
	case http.MethodGet:
		handleList(w, r)
	default:
		httputil.WriteError(w, apperror.New(apperror.MethodNotAllowed, "Method not allowed"))
	}
}

func handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req models.StoreListingsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		httputil.WriteError(w, err)
		return
	}

	res, err := storeInstance.Upsert(r.Context(), &req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, storeResponse{
		Success:      true,
		Message:      "Convocatorias processed successfully",
		UpsertResult: res,
	})
}

func handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.ListListingsRequest{Estado: q.Get("estado")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, apperror.Validationf("limit must be an integer, got %q", raw))
			return
		}
		req.Limit = limit
	}

	res, err := storeInstance.List(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
