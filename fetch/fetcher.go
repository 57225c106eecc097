// Package fetch drives the upstream job-listing API: paged vacancy
// search, employer lookups, chunked loading with retries, rate
// limiting, and persistence through the store.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/auth"
	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

const (
	// searchPageSize is the upstream per_page maximum.
	searchPageSize = 100
	// lastPageThreshold stops a chunk early: a page this short is
	// almost certainly the last one.
	lastPageThreshold = 50
	// maxPageEstimate is the upstream result window limit.
	maxPageEstimate = 2000
	// defaultPageEstimate is used when the probe request fails.
	defaultPageEstimate = 20
)

// Stats counts fetcher work across a task run.
type Stats struct {
	RequestsMade    int `json:"requests_made"`
	VacanciesLoaded int `json:"vacancies_loaded"`
	ErrorsCount     int `json:"errors_count"`
	PagesProcessed  int `json:"pages_processed"`
}

// ChunkParams delimits one fetch_chunk run: pages [PageStart, PageEnd)
// of a filter, optionally reporting progress to a task.
type ChunkParams struct {
	PageStart int                    `json:"page_start"`
	PageEnd   int                    `json:"page_end"`
	Filter    map[string]interface{} `json:"filter"`
	TaskID    string                 `json:"task_id,omitempty"`
}

// PageError records one failed page inside a chunk.
type PageError struct {
	Page  int    `json:"page"`
	Error string `json:"error"`
}

// ChunkResult summarizes a chunk run.
type ChunkResult struct {
	LoadedCount    int         `json:"loaded_count"`
	ProcessedPages int         `json:"processed_pages"`
	Errors         []PageError `json:"errors"`
	LastPage       int         `json:"last_page"`
	Stats          Stats       `json:"stats"`
}

// Fetcher loads vacancies and employers from the upstream API and
// persists them. One fetcher serves one task handler invocation.
type Fetcher struct {
	client  *Client
	store   *store.Store
	logger  *zap.SugaredLogger
	backoff *Backoff
	stats   Stats

	// rateLimitPause is the extra wait after a 429 before the normal
	// backoff takes over.
	rateLimitPause time.Duration
}

// NewFetcher builds a fetcher from the api config block.
func NewFetcher(cfg config.APIConfig, st *store.Store, registry *auth.Registry, logger *zap.SugaredLogger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	backoff := NewBackoff()
	if cfg.MaxRetries > 0 {
		backoff.MaxRetries = cfg.MaxRetries
	}
	backoff.Jitter = cfg.JitterEnabled

	return &Fetcher{
		client:         NewClient(cfg, registry, logger),
		store:          st,
		logger:         logger,
		backoff:        backoff,
		rateLimitPause: 5 * time.Second,
	}
}

// FetchChunk loads pages [PageStart, PageEnd) of a filter, saving each
// item and reporting progress after every page. Page failures are
// recorded and skipped; the chunk stops early on an empty or short
// page. The returned error is non-nil only when the context ends the
// run.
func (f *Fetcher) FetchChunk(ctx context.Context, params ChunkParams) (*ChunkResult, error) {
	pageStart, pageEnd := params.PageStart, params.PageEnd
	filterID, _ := params.Filter["id"].(string)

	if maxPages, ok := filterInt(params.Filter, "max_pages"); ok && maxPages > 0 && pageEnd > pageStart+maxPages {
		pageEnd = pageStart + maxPages
		f.logger.Debugw("Limited chunk by filter max_pages", "max_pages", maxPages, "page_end", pageEnd)
	}

	result := &ChunkResult{LastPage: pageStart - 1}
	f.logger.Debugw("Starting chunk",
		"page_start", pageStart, "page_end", pageEnd, "filter", filterID)

	for page := pageStart; page < pageEnd; page++ {
		if err := ctx.Err(); err != nil {
			result.Stats = f.stats
			return result, err
		}

		items, err := f.fetchPage(ctx, params.Filter, page)
		if err != nil {
			if errors.IsAny(err, context.Canceled, context.DeadlineExceeded) {
				result.Stats = f.stats
				return result, err
			}
			f.logger.Errorw("Failed to fetch page", "page", page, "error", err)
			result.Errors = append(result.Errors, PageError{Page: page, Error: err.Error()})
			f.stats.ErrorsCount++
			continue
		}

		if len(items) == 0 {
			f.logger.Debugw("No more vacancies, stopping chunk", "page", page)
			break
		}

		saved := f.saveVacancies(items, filterID)
		result.LoadedCount += saved
		result.ProcessedPages++
		result.LastPage = page
		f.stats.PagesProcessed++

		if params.TaskID != "" {
			f.updateTaskProgress(params.TaskID, map[string]interface{}{
				"current_page":     page,
				"pages_processed":  result.ProcessedPages,
				"vacancies_loaded": result.LoadedCount,
				"chunk_progress":   fmt.Sprintf("%d/%d", page-pageStart+1, pageEnd-pageStart),
			})
		}

		if len(items) < lastPageThreshold {
			f.logger.Debugw("Short page, likely the last", "page", page, "items", len(items))
			break
		}
	}

	result.Stats = f.stats
	f.logger.Infow("Chunk completed",
		"loaded", result.LoadedCount,
		"pages", result.ProcessedPages,
		"symbol", sym.Fetch)
	return result, nil
}

// fetchPage requests one search page, retrying with exponential
// backoff. One-shot downgrades (safe UA, dropped auth) retry
// immediately without consuming the retry budget.
func (f *Fetcher) fetchPage(ctx context.Context, filter map[string]interface{}, page int) ([]json.RawMessage, error) {
	query := normalizeFilterParams(filter, page, searchPageSize)
	f.backoff.Reset()

	for {
		items, status, err := f.tryPage(ctx, query)
		if err == nil {
			return items, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if f.client.handleDowngrade(status) {
			continue
		}

		if status == http.StatusTooManyRequests {
			f.logger.Warnw("Rate limit hit, pausing", "page", page)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.rateLimitPause):
			}
		}

		var transportErr error
		if status == 0 {
			transportErr = err
		}
		if !f.backoff.ShouldRetry(status, transportErr) {
			return nil, err
		}
		if _, werr := f.backoff.WaitAndIncrement(ctx); werr != nil {
			return nil, werr
		}
	}
}

// tryPage performs a single attempt. A zero status means the request
// never produced an HTTP response.
func (f *Fetcher) tryPage(ctx context.Context, query url.Values) ([]json.RawMessage, int, error) {
	resp, err := f.client.get(ctx, "/vacancies", query)
	if err != nil {
		return nil, 0, errors.Wrap(err, "vacancies request")
	}
	defer resp.Body.Close()

	f.stats.RequestsMade++

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, resp.StatusCode, errors.Newf("vacancies request: HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, 0, errors.Wrap(err, "decode vacancies response")
	}
	return sr.Items, http.StatusOK, nil
}

// saveVacancies persists a page of items. Individual failures are
// logged and counted, never fatal.
func (f *Fetcher) saveVacancies(items []json.RawMessage, filterID string) int {
	saved := 0
	for _, raw := range items {
		var item apiVacancy
		if err := json.Unmarshal(raw, &item); err != nil {
			f.logger.Errorw("Failed to decode vacancy", "error", err)
			f.stats.ErrorsCount++
			continue
		}

		changed, err := f.store.SaveVacancy(vacancyFromAPI(item, raw, filterID))
		if err != nil {
			f.logger.Errorw("Failed to save vacancy", "hh_id", item.ID, "error", err)
			f.stats.ErrorsCount++
			continue
		}
		if changed {
			saved++
			f.stats.VacanciesLoaded++
		}
	}
	return saved
}

func (f *Fetcher) updateTaskProgress(taskID string, progress map[string]interface{}) {
	progress["timestamp"] = float64(time.Now().UnixNano()) / 1e9
	progress["stats"] = f.stats
	if err := f.store.UpdateTaskProgress(taskID, progress); err != nil {
		f.logger.Errorw("Failed to update task progress", "task_id", taskID, "error", err)
	}
}

// EstimateTotalPages probes the filter with a minimal query and
// derives the page count at the full page size. Capped at the
// upstream result window; a failed probe yields a conservative
// default.
func (f *Fetcher) EstimateTotalPages(ctx context.Context, filter map[string]interface{}) int {
	query := normalizeFilterParams(filter, 0, 1)

	resp, err := f.client.get(ctx, "/vacancies", query)
	if err != nil {
		f.logger.Errorw("Failed to estimate pages", "error", err)
		return defaultPageEstimate
	}
	defer resp.Body.Close()
	f.stats.RequestsMade++

	if resp.StatusCode != http.StatusOK {
		f.logger.Errorw("Failed to estimate pages", "status", resp.StatusCode)
		return defaultPageEstimate
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		f.logger.Errorw("Failed to decode page estimate", "error", err)
		return defaultPageEstimate
	}

	pages := (sr.Found + searchPageSize - 1) / searchPageSize
	if pages > maxPageEstimate {
		pages = maxPageEstimate
	}
	return pages
}

// FetchEmployer loads one employer profile and upserts it. A 404
// yields (nil, nil): the upstream hides some employers.
func (f *Fetcher) FetchEmployer(ctx context.Context, hhID string) (*store.Employer, error) {
	path := "/employers/" + url.PathEscape(hhID)

	resp, err := f.client.get(ctx, path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "employer request %s", hhID)
	}
	f.stats.RequestsMade++

	if resp.StatusCode == http.StatusBadRequest && f.client.handleDowngrade(resp.StatusCode) {
		resp.Body.Close()
		resp, err = f.client.get(ctx, path, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "employer request %s", hhID)
		}
		f.stats.RequestsMade++
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		f.logger.Debugw("Employer not found", "hh_id", hhID)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		f.stats.ErrorsCount++
		return nil, errors.Newf("employer request %s: HTTP %d: %s",
			hhID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read employer %s", hhID)
	}
	var payload apiEmployer
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrapf(err, "decode employer %s", hhID)
	}

	employer := &store.Employer{
		HHID:    payload.ID,
		Name:    payload.Name,
		URL:     payload.AlternateURL,
		RawJSON: string(raw),
	}
	if _, err := f.store.SaveEmployer(employer); err != nil {
		return nil, errors.Wrapf(err, "save employer %s", hhID)
	}
	return employer, nil
}

// Stats returns a copy of the run counters.
func (f *Fetcher) Stats() Stats {
	return f.stats
}

// ResetStats zeroes the run counters.
func (f *Fetcher) ResetStats() {
	f.stats = Stats{}
}

// UserAgent reports the User-Agent currently in effect, for status
// output.
func (f *Fetcher) UserAgent() string {
	return f.client.currentUserAgent()
}

// AuthRegistry exposes the registry the transport rotates on 401/403.
func (f *Fetcher) AuthRegistry() *auth.Registry {
	return f.client.auth
}

func filterInt(filter map[string]interface{}, key string) (int, bool) {
	if n, ok := toInt(filter[key]); ok {
		return n, true
	}
	if nested, ok := filter["params"].(map[string]interface{}); ok {
		if n, ok := toInt(nested[key]); ok {
			return n, true
		}
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	}
	return 0, false
}
