package cli

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"stargazer/internal/storage"
)

func (r *Root) sessionsList(dbPath string, limit int) error {
	store := r.openStore(dbPath)
	if store == nil {
		return fmt.Errorf("no session database configured")
	}
	defer store.Close()

	recs, err := store.Sessions(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No sessions recorded yet.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-10s %-18s %s\n", "ID", "STATE", "STACKED", "STARTED", "REFERENCE")
	for _, rec := range recs {
		fmt.Printf("%-10s %-10s %-10s %-18s %s\n",
			shortID(rec.ID),
			rec.State,
			fmt.Sprintf("%d/%d", rec.Combined, rec.Total),
			humanize.Time(rec.StartedAt),
			rec.Reference,
		)
	}
	return nil
}

func (r *Root) sessionShow(dbPath, id string) error {
	store := r.openStore(dbPath)
	if store == nil {
		return fmt.Errorf("no session database configured")
	}
	defer store.Close()

	rec, err := store.Session(id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Session %s\n", rec.ID)
	fmt.Printf("  State:      %s\n", rec.State)
	fmt.Printf("  Reference:  %s\n", rec.Reference)
	fmt.Printf("  Strategy:   %s\n", rec.Strategy)
	fmt.Printf("  Stacked:    %d of %d frames\n", rec.Combined, rec.Total)
	if rec.Skipped > 0 {
		fmt.Printf("  Skipped:    %d\n", rec.Skipped)
	}
	if rec.Dropped > 0 {
		fmt.Printf("  Dropped:    %d\n", rec.Dropped)
	}
	if rec.BatchSize > 0 {
		fmt.Printf("  Batch size: %d\n", rec.BatchSize)
	}
	if rec.Output != "" {
		fmt.Printf("  Output:     %s\n", rec.Output)
	}
	fmt.Printf("  Started:    %s\n", humanize.Time(rec.StartedAt))
	if rec.FinishedAt != nil {
		fmt.Printf("  Finished:   %s\n", humanize.Time(*rec.FinishedAt))
	}
	if rec.Error != "" {
		fmt.Printf("  Error:      %s\n", rec.Error)
	}

	frames, err := store.Frames(id)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return nil
	}
	fmt.Printf("\nFrames:\n")
	for _, f := range frames {
		marker := "✅"
		switch f.Status {
		case storage.FrameDropped:
			marker = "⚠️ "
		case storage.FrameLoadFailed:
			marker = "❌"
		}
		line := fmt.Sprintf("  %s %s", marker, f.Path)
		if f.Reason != "" {
			line += fmt.Sprintf(" (%s: %s)", f.Status, f.Reason)
		}
		if q, err := store.QualityFor(f.Path); err == nil && q != nil {
			line += fmt.Sprintf("  [score %.0f, %d stars, snr %.1f]", q.Score, q.Stars, q.SNR)
		}
		fmt.Println(line)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
