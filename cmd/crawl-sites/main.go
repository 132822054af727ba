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

	functions.HTTP("HandleCrawlSites", handleCrawlSites)
}

func main() {}

func setup(ctx context.Context) (*services.CrawlerFunction, error) {
	crawler, err := services.NewCrawler(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Extraction is optional: without a project the crawl still works.
	if err := cfg.ValidateExtraction(); err != nil {
		slog.Warn("Listing extraction disabled.", "reason", err.Error())
		return crawler, nil
	}
	extractor, err := services.NewExtractor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return crawler.WithIngester(extractor), nil
}

// handleCrawlSites crawls one or more sites, each as its own job.
func handleCrawlSites(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, initErr = config.Load()
		if initErr == nil {
			crawlerInstance, initErr = setup(context.Background())
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

	var req models.CrawlSitesRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		httputil.WriteError(w, err)
		return
	}

	res, err := crawlerInstance.CrawlSites(r.Context(), &req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
