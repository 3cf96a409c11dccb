package logpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// BodyStore archives raw request/response bodies. Storage failure is
// logged and non-fatal to the log record.
type BodyStore interface {
	// Store persists one body pair under the org/request key scheme.
	Store(ctx context.Context, orgID, requestID string, payload []byte) error
	Close() error
}

// bodyKey is the object key scheme shared with downstream consumers.
func bodyKey(orgID, requestID string) string {
	return fmt.Sprintf("organizations/%s/requests/%s/request_response_body", orgID, requestID)
}

// bodyPayload is the archived JSON document.
type bodyPayload struct {
	Request  string `json:"request"`
	Response string `json:"response"`
}

// encodeBodyPayload builds the archived document, honoring the omit
// flags.
func encodeBodyPayload(ex Exchange) ([]byte, error) {
	payload := bodyPayload{}
	if !ex.OmitRequestBody {
		payload.Request = RedactImages(ex.RequestBody)
	}
	if !ex.OmitResponseBody {
		payload.Response = ex.ResponseBody
	}
	return json.Marshal(payload)
}

// FilesystemBodyStore writes archived bodies under a root directory
// using the shared key scheme, and prunes entries past the retention
// period on an hourly schedule.
type FilesystemBodyStore struct {
	root      string
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewFilesystemBodyStore creates the store rooted at dir. A zero
// retention disables pruning.
func NewFilesystemBodyStore(dir string, retention time.Duration) (*FilesystemBodyStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create body store root: %w", err)
	}

	s := &FilesystemBodyStore{
		root:      dir,
		retention: retention,
		logger:    slog.Default().With("component", "body_store"),
	}
	if retention > 0 {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc("@hourly", s.prune); err != nil {
			return nil, fmt.Errorf("failed to schedule retention pruning: %w", err)
		}
		s.cron.Start()
	}
	return s, nil
}

// Store writes the payload to <root>/<key>.
func (s *FilesystemBodyStore) Store(_ context.Context, orgID, requestID string, payload []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(bodyKey(orgID, requestID)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create body directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	return nil
}

// Close stops the retention schedule.
func (s *FilesystemBodyStore) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return nil
}

// prune removes archived bodies older than the retention period.
func (s *FilesystemBodyStore) prune() {
	cutoff := time.Now().Add(-s.retention)
	var removed int

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("retention pruning failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("pruned archived bodies", "removed", removed)
	}
}
