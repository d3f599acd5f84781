package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/thenervelab/miner-ipfs-service/internal/logging"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

// ReportEntry is one line of the unpinnable report document.
type ReportEntry struct {
	CID        string `json:"cid"`
	Reason     string `json:"reason"`
	ReportedAt int64  `json:"reported_at"`
}

// Reporter flushes terminal pin failures to a durable JSON report for
// operator visibility.
type Reporter struct {
	store *pinstate.Store
	path  string
	log   *slog.Logger

	now func() time.Time
}

func NewReporter(store *pinstate.Store, reportPath string, logger *slog.Logger) *Reporter {
	return &Reporter{
		store: store,
		path:  reportPath,
		log:   logging.NewComponentLogger(logger, "report"),
		now:   time.Now,
	}
}

// Flush appends unreported unpinnable CIDs to the report document and
// marks them reported. The document is deduplicated by CID: a CID already
// present is not appended again, but still gets marked reported.
func (r *Reporter) Flush(ctx context.Context) error {
	pending, err := r.store.UnreportedUnpinnables(ctx)
	if err != nil {
		return fmt.Errorf("read unreported unpinnables: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	entries := r.loadReport()
	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		present[entry.CID] = struct{}{}
	}

	flushed := make([]string, 0, len(pending))
	appended := 0
	for _, item := range pending {
		if _, ok := present[item.CID]; !ok {
			entries = append(entries, ReportEntry{
				CID:        item.CID,
				Reason:     item.Reason,
				ReportedAt: r.now().Unix(),
			})
			present[item.CID] = struct{}{}
			appended++
		}
		flushed = append(flushed, item.CID)
	}

	if err := r.writeReport(entries); err != nil {
		return err
	}
	if err := r.store.MarkUnpinnablesReported(ctx, flushed); err != nil {
		return fmt.Errorf("mark unpinnables reported: %w", err)
	}

	r.log.Info("unpinnable report flushed",
		logging.Int("flushed", len(flushed)),
		logging.Int("appended", appended),
		logging.String("path", r.path))
	return nil
}

// loadReport reads the existing document. A missing or unparsable file
// starts the report over from empty.
func (r *Reporter) loadReport() []ReportEntry {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("unreadable report file, starting fresh", logging.Error(err))
		}
		return nil
	}

	var entries []ReportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		r.log.Warn("corrupt report file, starting fresh", logging.Error(err))
		return nil
	}
	return entries
}

func (r *Reporter) writeReport(entries []ReportEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}
