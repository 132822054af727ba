package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/httputil"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
	"github.com/grasshoppersolutions/convocatorias/internal/services"
)

var (
	crawlerInstance *services.CrawlerFunction
	cfg             config.Config
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleBatchStatus", handleBatchStatus)
}

func main() {}

// handleBatchStatus checks a job previously returned as timed out.
func handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, initErr = config.Load()
		if initErr == nil {
			crawlerInstance, initErr = services.NewCrawler(context.Background(), cfg)
		}
	})
	if initErr != nil {
		slog.Error("Critical: Crawler initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	if httputil.Preflight(w, r, cfg.AllowedOrigin, "POST, OPTIONS") {
		return
	}
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.JobStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		httputil.WriteError(w, err)
		return
	}

	res, err := crawlerInstance.CheckJob(r.Context(), &req)
	if err != nil {
		slog.Error("Status check failed", "error", err, "jobUrl", req.JobURL)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
