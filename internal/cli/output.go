package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/geoquiz-ledger/internal/domain"
)

// printer writes a command's result as JSON or as text
type printer struct {
	format string
	out    io.Writer
}

// emit writes data as indented JSON, or calls text in text mode
func (p *printer) emit(data interface{}, text func(w io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(p.out)
	return nil
}

// FormatTime renders seconds as m:ss.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// ModeTitle is the display name of a game mode.
func ModeTitle(mode domain.GameMode) string {
	switch mode {
	case domain.GameModeFindFlag:
		return "Find the Flag"
	case domain.GameModeNameFlag:
		return "Name the Flag"
	case domain.GameModeCapitalQuiz:
		return "Capital Quiz"
	case domain.GameModePopulationQuiz:
		return "Population Quiz"
	default:
		return string(mode)
	}
}

const nameWidth = 20

// RenderLeaderboards writes both views of a mode as text.
func RenderLeaderboards(w io.Writer, boards domain.Leaderboards) {
	fmt.Fprintf(w, "%s\n\n", ModeTitle(boards.GameMode))

	fmt.Fprintln(w, "Global High Scores")
	switch {
	case boards.GlobalStatus == domain.ViewStatusLocalOnly:
		fmt.Fprintln(w, "  Offline: no global leaderboard configured")
	case boards.GlobalStatus == domain.ViewStatusUnavailable:
		fmt.Fprintln(w, "  Could not load the global leaderboard")
	case len(boards.Global) == 0:
		fmt.Fprintln(w, "  No scores yet. Be the first!")
	default:
		for i, rec := range boards.Global {
			owner := rec.Owner()
			if owner == "" {
				owner = "Anonymous"
			}
			fmt.Fprintf(w, "  %2d. %-*s %5s\n", i+1, nameWidth, truncate(owner, nameWidth), FormatTime(rec.TimeElapsed))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Your Best Times")
	if len(boards.Personal) == 0 {
		fmt.Fprintln(w, "  Play a game to see your scores!")
		return
	}
	for i, rec := range boards.Personal {
		fmt.Fprintf(w, "  %2d. %3d correct %9s\n", i+1, rec.Score, FormatTime(rec.TimeElapsed))
	}
}

// RenderSubmit writes the outcome of a submission as text.
func RenderSubmit(w io.Writer, result domain.SubmitResult) {
	rec := result.Record
	fmt.Fprintf(w, "You completed %s in %s with %d correct!\n",
		ModeTitle(rec.GameMode), FormatTime(rec.TimeElapsed), rec.Score)

	var where []string
	if result.StoredLocally {
		where = append(where, "this device")
	}
	if result.StoredRemote {
		where = append(where, "the global leaderboard")
	}
	switch {
	case result.Duplicate:
		fmt.Fprintln(w, "Already recorded.")
	case len(where) == 0:
		fmt.Fprintln(w, "Not saved.")
	default:
		fmt.Fprintf(w, "Saved to %s.\n", strings.Join(where, " and "))
	}

	if result.State == domain.StateNameCaptureOptional {
		fmt.Fprintln(w, "Set a name with `geoquiz name <your name>` to join the global leaderboard.")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
