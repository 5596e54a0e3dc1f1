package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/orchestrate"
	"github.com/piratf/kampus-crawler/pkg/parse"
	"github.com/piratf/kampus-crawler/pkg/process"
	"github.com/piratf/kampus-crawler/pkg/score"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// handleListEntities handles the list_entities tool
func (s *Server) handleListEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entities := make([]map[string]interface{}, 0, len(s.cfg.Entities))
	for _, e := range s.cfg.Entities {
		id := utils.EntityID(e.Name, e.SiteURL)
		info := map[string]interface{}{
			"name":      e.Name,
			"site_url":  e.SiteURL,
			"entity_id": id,
		}
		if e.ID != "" {
			info["id"] = e.ID
		}
		if st, err := s.cfg.Store.Status(ctx, id); err == nil && st != models.StatusUnset {
			info["checkpoint_status"] = st
		}
		if s.jobManager.IsRunning(id) {
			info["status"] = "running"
		}
		entities = append(entities, info)
	}

	result := map[string]interface{}{
		"entities":       entities,
		"config_path":    s.cfg.ConfigPath,
		"entities_path":  s.cfg.EntitiesPath,
		"total_entities": len(entities),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// resolveEntity finds one configured entity by name, entity ID or external ID.
func (s *Server) resolveEntity(key string) (models.Entity, error) {
	found, err := orchestrate.SelectEntities(s.cfg.Entities, []string{key})
	if err != nil {
		return models.Entity{}, err
	}
	return found[0], nil
}

// handleRunEntity handles the run_entity tool
func (s *Server) handleRunEntity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := request.GetString("entity", "")
	if key == "" {
		return mcp.NewToolResultError("entity parameter is required"), nil
	}
	e, err := s.resolveEntity(key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id := utils.EntityID(e.Name, e.SiteURL)
	job, created := s.jobManager.CreateJob(id, e.Name)
	if !created {
		result := map[string]interface{}{
			"status":    "already_running",
			"message":   "A run is already in progress for this entity",
			"job_id":    job.ID,
			"entity_id": id,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runEntityJob(job.ID, e)

	result := map[string]interface{}{
		"status":    "started",
		"message":   "Entity run started successfully",
		"job_id":    job.ID,
		"entity_id": id,
		"name":      e.Name,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runEntityJob runs one entity in the background
func (s *Server) runEntityJob(jobID string, e models.Entity) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)

	res := s.cfg.Runner.Run(jobCtx, e)
	if jobCtx.Err() != nil {
		// Already marked cancelled by CancelJob or CancelAll.
		s.log.WithField("entity", e.Name).Info("Entity job cancelled")
		return
	}
	s.jobManager.Finish(jobID, res)
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":        job.ID,
		"entity_id":     job.EntityID,
		"entity_name":   job.EntityName,
		"status":        job.Status,
		"started_at":    job.StartedAt.Format(time.RFC3339),
		"pages_fetched": job.PagesFetched,
		"candidates":    job.Candidates,
		"validated":     job.Validated,
		"valid":         job.Valid,
		"extracted":     job.Extracted,
		"skipped":       job.Skipped,
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	if job.Status == JobStatusRunning {
		if pr, ok := s.cfg.Runner.(ProgressReporter); ok {
			if p, ok := pr.Progress(job.EntityID); ok {
				result["progress"] = p
			}
		}
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetCheckpoint handles the get_checkpoint tool
func (s *Server) handleGetCheckpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := request.GetString("entity", "")
	if key == "" {
		return mcp.NewToolResultError("entity parameter is required"), nil
	}
	e, err := s.resolveEntity(key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id := utils.EntityID(e.Name, e.SiteURL)
	cp, err := s.cfg.Store.Load(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load checkpoint: %v", err)), nil
	}
	if cp == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no checkpoint for entity '%s'", e.Name)), nil
	}

	valid := make([]map[string]interface{}, 0)
	verdicts := make(map[models.Verdict]int)
	for _, v := range cp.Validated {
		verdicts[v.Verdict]++
		if v.Verdict != models.VerdictValid {
			continue
		}
		link := map[string]interface{}{
			"url":      v.URL,
			"kind":     v.Kind,
			"evidence": v.EvidenceSnippet,
		}
		if v.ParentURL != "" {
			link["parent_url"] = v.ParentURL
		}
		valid = append(valid, link)
	}

	result := map[string]interface{}{
		"entity_id":   cp.EntityID,
		"entity_name": cp.EntityName,
		"site_url":    cp.SiteURL,
		"status":      cp.Status,
		"created_at":  cp.CreatedAt.Format(time.RFC3339),
		"updated_at":  cp.UpdatedAt.Format(time.RFC3339),
		"stats":       cp.Stats,
		"verdicts":    verdicts,
		"valid_links": valid,
		"errors":      len(cp.Errors),
	}
	if request.GetBool("include_items", false) {
		result["items"] = cp.Extracted
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleScorePage handles the score_page tool
func (s *Server) handleScorePage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL := request.GetString("url", "")
	if rawURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}
	pageURL, err := parse.Canonicalize(rawURL)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid URL: %v", err)), nil
	}
	maxLinks := request.GetInt("max_links", 10)
	if maxLinks <= 0 {
		maxLinks = 10
	}
	if maxLinks > 50 {
		maxLinks = 50
	}

	startTime := time.Now()
	res, err := s.cfg.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch URL: %v", err)), nil
	}
	if !res.OK || !res.IsHTML() {
		return mcp.NewToolResultError(fmt.Sprintf("not an HTML page: status %d, content type '%s'", res.Status, res.ContentType)), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Content))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse HTML: %v", err)), nil
	}

	kw := s.cfg.Keywords
	final := pageURL
	if res.FinalURL != "" {
		final = res.FinalURL
	}
	text := score.PageText(doc)
	pageScore := kw.ScorePage(doc, string(res.Content))

	links := process.ExtractLinksFromDoc(doc, final, kw, process.LinkOptions{
		Canonicalizer:  parse.NewCanonicalizer(s.cfg.AppConfig.Keywords.ExtraTrackingParams),
		SrcsetMaxWidth: s.cfg.AppConfig.Crawl.SrcsetMaxWidth,
	})
	sort.SliceStable(links, func(i, j int) bool { return links[i].Score > links[j].Score })
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	top := make([]map[string]interface{}, 0, len(links))
	for _, l := range links {
		top = append(top, map[string]interface{}{
			"url":   l.URL,
			"kind":  l.Kind,
			"hint":  l.Hint,
			"score": l.Score,
		})
	}

	query := request.GetString("query", "")
	if query == "" {
		query = firstTopicWord(kw, text)
	}

	result := map[string]interface{}{
		"url":           final,
		"fetch_mode":    res.Mode,
		"page_score":    pageScore,
		"local_gate":    kw.LocalGate(text),
		"has_money":     kw.HasMoney(text),
		"has_date":      kw.HasDate(text),
		"topic_count":   kw.CountTopics(text),
		"noise_count":   kw.CountNoise(text),
		"text_length":   len(text),
		"snippet":       extractSnippet(text, query, 200),
		"top_links":     top,
		"fetch_time_ms": time.Since(startTime).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// firstTopicWord returns the earliest topic keyword occurring in text, or "".
func firstTopicWord(kw *score.Keywords, text string) string {
	lower := strings.ToLower(text)
	best, bestIdx := "", -1
	for _, w := range kw.TopicWords() {
		if i := strings.Index(lower, strings.ToLower(w)); i >= 0 && (bestIdx < 0 || i < bestIdx) {
			best, bestIdx = w, i
		}
	}
	return best
}

// extractSnippet extracts a snippet around the query match, slicing on rune
// boundaries so multi-byte UTF-8 characters are never split.
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	queryRunes := []rune(strings.ToLower(query))
	contentLowerRunes := []rune(strings.ToLower(content))

	idx := -1
	if len(queryRunes) > 0 && len(contentLowerRunes) == len(runes) {
		for i := 0; i <= len(contentLowerRunes)-len(queryRunes); i++ {
			if string(contentLowerRunes[i:i+len(queryRunes)]) == string(queryRunes) {
				idx = i
				break
			}
		}
	}

	if idx == -1 {
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "..."
		}
		return content
	}

	start := max(idx-maxLen/2, 0)
	end := min(idx+len(queryRunes)+maxLen/2, len(runes))

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
