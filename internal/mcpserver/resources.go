package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerResources() {
	templates := []struct {
		uri, name, mime string
	}{
		{"podcast://{task_id}/transcript", "Episode transcript", "text/plain"},
		{"podcast://{task_id}/audio", "Episode audio location", "application/json"},
		{"podcast://{task_id}/metadata", "Episode metadata", "application/json"},
		{"podcast://{task_id}/outline", "Episode outline", "application/json"},
		{"research://{task_id}/{person_id}", "Persona research", "application/json"},
		{"jobs://{task_id}/status", "Task status record", "application/json"},
		{"jobs://{task_id}/warnings", "Task warnings", "application/json"},
		{"jobs://{task_id}/logs", "Task progress log", "text/plain"},
		{"files://{task_id}/cleanup", "On-disk artifact inventory", "application/json"},
	}
	for _, tpl := range templates {
		s.mcp.AddResourceTemplate(&mcpsdk.ResourceTemplate{
			URITemplate: tpl.uri,
			Name:        tpl.name,
			MIMEType:    tpl.mime,
		}, s.readResource)
	}

	s.mcp.AddResource(&mcpsdk.Resource{
		URI:      "config://cleanup",
		Name:     "Cleanup policy configuration",
		MIMEType: "application/json",
	}, s.readResource)
	s.mcp.AddResource(&mcpsdk.Resource{
		URI:      "config://limits",
		Name:     "Runtime limits and supported inputs",
		MIMEType: "application/json",
	}, s.readResource)
}

// readResource dispatches every resource URI. The scheme picks the
// family; path segments pick the task and view.
func (s *Server) readResource(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
	uri := req.Params.URI
	scheme, host, segments, err := splitResourceURI(uri)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "podcast":
		return s.readPodcastResource(ctx, uri, host, segments)
	case "research":
		if len(segments) != 1 {
			return nil, fmt.Errorf("resource %s: expected research://<task_id>/<person_id>", uri)
		}
		return s.readFileResource(uri, host, fmt.Sprintf("persona_research_%s.json", segments[0]))
	case "jobs":
		return s.readJobResource(ctx, uri, host, segments)
	case "files":
		return s.readFilesResource(uri, host)
	case "config":
		return s.readConfigResource(uri, host)
	default:
		return nil, fmt.Errorf("resource %s: unknown scheme %q", uri, scheme)
	}
}

func (s *Server) readPodcastResource(ctx context.Context, uri, taskID string, segments []string) (*mcpsdk.ReadResourceResult, error) {
	if len(segments) != 1 {
		return nil, fmt.Errorf("resource %s: expected podcast://<task_id>/<view>", uri)
	}
	st, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch segments[0] {
	case "transcript":
		if st.ResultEpisode == nil || st.ResultEpisode.Transcript == "" {
			return nil, fmt.Errorf("resource %s: no transcript available yet (status %s)", uri, st.Status)
		}
		return textResult(uri, "text/plain", st.ResultEpisode.Transcript), nil
	case "audio":
		if st.ResultEpisode == nil || st.ResultEpisode.AudioFilepath == "" {
			return nil, fmt.Errorf("resource %s: no audio available yet (status %s)", uri, st.Status)
		}
		return jsonResult(uri, map[string]string{"audio_filepath": st.ResultEpisode.AudioFilepath})
	case "metadata":
		if st.ResultEpisode == nil {
			return nil, fmt.Errorf("resource %s: episode not finalised yet (status %s)", uri, st.Status)
		}
		ep := st.ResultEpisode
		return jsonResult(uri, map[string]any{
			"title":               ep.Title,
			"summary":             ep.Summary,
			"source_attributions": ep.SourceAttributions,
			"warnings":            ep.Warnings,
			"created_at":          st.CreatedAt,
		})
	case "outline":
		return s.readFileResource(uri, taskID, "podcast_outline.json")
	default:
		return nil, fmt.Errorf("resource %s: unknown podcast view %q", uri, segments[0])
	}
}

func (s *Server) readJobResource(ctx context.Context, uri, taskID string, segments []string) (*mcpsdk.ReadResourceResult, error) {
	if len(segments) != 1 {
		return nil, fmt.Errorf("resource %s: expected jobs://<task_id>/<view>", uri)
	}
	st, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch segments[0] {
	case "status":
		return jsonResult(uri, st)
	case "warnings":
		return jsonResult(uri, st.Warnings)
	case "logs":
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s (%d%%): %s\n", st.LastUpdatedAt.Format("2006-01-02 15:04:05"), st.Status, st.ProgressPercentage, st.StatusDescription)
		for _, w := range st.Warnings {
			fmt.Fprintf(&b, "warning: %s\n", w)
		}
		if st.ErrorDetails != nil {
			fmt.Fprintf(&b, "error: %s: %s\n", st.ErrorDetails.Title, st.ErrorDetails.Detail)
		}
		return textResult(uri, "text/plain", b.String()), nil
	default:
		return nil, fmt.Errorf("resource %s: unknown jobs view %q", uri, segments[0])
	}
}

// readFilesResource inventories the task's artifact files for cleanup
// decisions.
func (s *Server) readFilesResource(uri, taskID string) (*mcpsdk.ReadResourceResult, error) {
	taskDir := filepath.Join(s.outputRoot, taskID)
	type fileInfo struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	var files []fileInfo
	var total int64
	err := filepath.Walk(taskDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(taskDir, path)
		files = append(files, fileInfo{Path: rel, Size: info.Size()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", uri, err)
	}
	payload := map[string]any{"task_id": taskID, "files": files, "total_size": total}
	if s.cleaner != nil {
		payload["policy"] = s.cleaner.Config().Policy
	}
	return jsonResult(uri, payload)
}

func (s *Server) readConfigResource(uri, host string) (*mcpsdk.ReadResourceResult, error) {
	switch host {
	case "cleanup":
		if s.cleaner == nil {
			return nil, fmt.Errorf("resource %s: cleanup is not configured", uri)
		}
		return jsonResult(uri, s.cleaner.Config())
	case "limits":
		qs := s.runner.QueueStatus()
		return jsonResult(uri, map[string]any{
			"max_concurrent_tasks":  qs.Max,
			"active_tasks":          qs.Active,
			"available_slots":       qs.Available,
			"supported_input_types": []string{"web_url", "youtube_url", "pdf_path"},
		})
	default:
		return nil, fmt.Errorf("resource %s: unknown config view %q", uri, host)
	}
}

// readFileResource serves one JSON artifact file from the task directory.
func (s *Server) readFileResource(uri, taskID, name string) (*mcpsdk.ReadResourceResult, error) {
	data, err := os.ReadFile(filepath.Join(s.outputRoot, taskID, name))
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", uri, err)
	}
	return textResult(uri, "application/json", string(data)), nil
}

// splitResourceURI breaks scheme://host/seg1/seg2 into its parts.
func splitResourceURI(uri string) (scheme, host string, segments []string, err error) {
	i := strings.Index(uri, "://")
	if i < 0 {
		return "", "", nil, fmt.Errorf("resource %s: malformed URI", uri)
	}
	parts := strings.Split(uri[i+3:], "/")
	if parts[0] == "" {
		return "", "", nil, fmt.Errorf("resource %s: malformed URI", uri)
	}
	return uri[:i], parts[0], parts[1:], nil
}

func textResult(uri, mime, text string) *mcpsdk.ReadResourceResult {
	return &mcpsdk.ReadResourceResult{
		Contents: []*mcpsdk.ResourceContents{{URI: uri, MIMEType: mime, Text: text}},
	}
}

func jsonResult(uri string, v any) (*mcpsdk.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("resource %s: encode: %w", uri, err)
	}
	return textResult(uri, "application/json", string(data)), nil
}
