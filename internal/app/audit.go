package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"linechat/internal/storage"
)

// PrintAudit writes the most recent sessions and uploads recorded in the audit
// database at path.
func PrintAudit(ctx context.Context, path string, limit int, w io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audit database: %w", err)
	}
	store, err := storage.NewStore(path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sessions, err := store.ListSessions(ctx, limit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	uploads, err := store.ListUploads(ctx, limit)
	if err != nil {
		return fmt.Errorf("list uploads: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tTRANSPORT\tREMOTE\tNAME\tCONNECTED\tDURATION\tIN\tOUT")
	for _, s := range sessions {
		duration := "active"
		if s.DisconnectedAt.Valid {
			duration = s.DisconnectedAt.Time.Sub(s.ConnectedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%.8s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.Transport, s.RemoteAddr, s.FallbackName, humanize.Time(s.ConnectedAt), duration, s.LinesIn, s.LinesOut)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "FILE\tSIZE\tDECLARED\tFROM\tSESSION\tSEEN\tBLAKE2B")
	for _, u := range uploads {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.8s\t%s\t%.16s\n",
			u.FileName, humanize.Bytes(uint64(u.ByteLen)), u.DeclaredSize, u.UploaderName, u.SessionID, humanize.Time(u.ObservedAt), u.Digest)
	}
	return tw.Flush()
}
