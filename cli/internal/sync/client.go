package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/zhaobenny/picost/cli/internal/config"
	"github.com/zhaobenny/picost/internal/logger"
	"github.com/zhaobenny/picost/internal/model"
	"go.uber.org/zap"
)

// Client handles syncing to the server
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
}

// SyncRequest represents the sync API request body
type SyncRequest struct {
	ClientID   string       `json:"client_id"`
	ClientName string       `json:"client_name"`
	Records    []SyncRecord `json:"records"`
}

// SyncRecord is the cost of one model within one session.
// Model is null when the log did not name a model.
type SyncRecord struct {
	SessionStart string  `json:"session_start"`
	SessionFile  string  `json:"session_file"`
	Model        *string `json:"model"`
	Cost         float64 `json:"cost"`
}

// SyncResponse represents the sync API response
type SyncResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Upserted int64  `json:"upserted,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SyncStatusResponse represents the sync status response
type SyncStatusResponse struct {
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewClient creates a new sync client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetSyncStatus gets the last sync time from the server
func (c *Client) GetSyncStatus(ctx context.Context) (*time.Time, error) {
	u := fmt.Sprintf("%s/api/sync/status?client_id=%s", c.cfg.Server, url.QueryEscape(c.cfg.ClientID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var status SyncStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}

	if status.Error != "" {
		return nil, fmt.Errorf("%s", status.Error)
	}

	return status.LastSyncAt, nil
}

// Records converts sessions into sync records. Sessions without a valid
// start timestamp are left out.
func Records(sessions []*model.SessionCost) []SyncRecord {
	var records []SyncRecord
	for _, s := range sessions {
		start, ok := s.StartTime()
		if !ok {
			continue
		}
		for key, cost := range s.CostsByModel {
			r := SyncRecord{
				SessionStart: start.UTC().Format(time.RFC3339Nano),
				SessionFile:  filepath.Base(s.Path),
				Cost:         cost,
			}
			if key.Known {
				name := key.Name
				r.Model = &name
			}
			records = append(records, r)
		}
	}
	return records
}

// ChangedSince returns sessions whose log file was modified after since.
// A nil since selects every session.
func ChangedSince(sessions []*model.SessionCost, since *time.Time) []*model.SessionCost {
	if since == nil {
		return sessions
	}

	var changed []*model.SessionCost
	for _, s := range sessions {
		info, err := os.Stat(s.Path)
		if err != nil {
			continue
		}
		if info.ModTime().After(*since) {
			changed = append(changed, s)
		}
	}
	return changed
}

// Sync sends cost records to the server and returns how many rows changed
func (c *Client) Sync(ctx context.Context, records []SyncRecord) (int64, error) {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	data, err := json.Marshal(SyncRequest{
		ClientID:   c.cfg.ClientID,
		ClientName: hostname,
		Records:    records,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Server+"/api/sync", bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var syncResp SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&syncResp); err != nil {
		return 0, fmt.Errorf("decode sync response (status %d): %w", resp.StatusCode, err)
	}

	if !syncResp.Success {
		errMsg := syncResp.Error
		if errMsg == "" {
			errMsg = syncResp.Message
		}
		return 0, fmt.Errorf("%s", errMsg)
	}

	return syncResp.Upserted, nil
}

// SyncSessions sends the sessions changed since the last sync. In dry-run
// mode nothing is sent and the returned count is zero.
func (c *Client) SyncSessions(ctx context.Context, sessions []*model.SessionCost, dryRun bool) ([]SyncRecord, int64, error) {
	lastSync, err := c.GetSyncStatus(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("could not get sync status, sending everything", zap.Error(err))
		lastSync = nil
	}

	records := Records(ChangedSince(sessions, lastSync))
	if len(records) == 0 || dryRun {
		return records, 0, nil
	}

	upserted, err := c.Sync(ctx, records)
	if err != nil {
		return records, 0, err
	}
	return records, upserted, nil
}
