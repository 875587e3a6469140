package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/ttacon/chalk"

	persistlog "cogs.ai/internal/persistence/log"
	"cogs.ai/internal/persistence/snapshot"
	"cogs.ai/internal/sim/arena"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		episode = flag.String("episode", "", "only report this episode id (optional)")
		steps   = flag.Bool("steps", true, "also scan step logs for per-agent decision stats")
		noColor = flag.Bool("no_color", false, "disable colored output")
		final   = flag.Bool("final", false, "print the final arena state of episodes that kept a snapshot")
	)
	flag.Parse()

	rep, err := summarize(*dataDir, *episode, *steps)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if len(rep.Episodes) == 0 && rep.Decisions == 0 {
		fmt.Fprintln(os.Stderr, "no logs found in", *dataDir)
		os.Exit(1)
	}
	if *final {
		if rep.Finals, err = loadFinals(*dataDir, rep.Episodes); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	color := !*noColor && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	render(os.Stdout, rep, color)
}

type agentStats struct {
	AgentID   string
	Team      int
	Decisions int64
	Errors    int64
	Reward    float64
	Episodes  int
	Total     float64
	Wins      int
}

type report struct {
	Episodes  []arena.EpisodeReport
	Agents    map[string]*agentStats
	Decisions int64
	LogBytes  uint64
	Finals    map[string]snapshot.SnapshotV1
}

func (r *report) agent(id string, team int) *agentStats {
	a, ok := r.Agents[id]
	if !ok {
		a = &agentStats{AgentID: id, Team: team}
		r.Agents[id] = a
	}
	return a
}

func summarize(dataDir, episodeID string, withSteps bool) (*report, error) {
	rep := &report{Agents: map[string]*agentStats{}}

	files, err := persistlog.Files(dataDir, "episodes")
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		rep.LogBytes += fileSize(path)
		err := persistlog.ReadEpisodes(path, func(e arena.EpisodeReport) error {
			if episodeID != "" && e.EpisodeID != episodeID {
				return nil
			}
			rep.Episodes = append(rep.Episodes, e)
			winner := winnerOf(e.Score)
			for _, s := range e.Agents {
				a := rep.agent(s.AgentID, s.Team)
				a.Episodes++
				a.Total += s.Total
				if winner == s.Team {
					a.Wins++
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if withSteps {
		files, err := persistlog.Files(dataDir, "steps")
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			rep.LogBytes += fileSize(path)
			err := persistlog.ReadSteps(path, func(s persistlog.StepEntry) error {
				if episodeID != "" && s.EpisodeID != episodeID {
					return nil
				}
				rep.Decisions++
				a := rep.agent(s.AgentID, s.Team)
				a.Decisions++
				a.Reward += s.Reward
				if s.Error != "" {
					a.Errors++
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(rep.Episodes, func(i, j int) bool { return rep.Episodes[i].Index < rep.Episodes[j].Index })
	return rep, nil
}

// winnerOf returns the team with the strictly highest score, or 0 on a tie.
func winnerOf(score map[int]int) int {
	best, winner := -1, 0
	for _, team := range arena.Teams {
		switch n := score[team]; {
		case n > best:
			best, winner = n, team
		case n == best:
			winner = 0
		}
	}
	return winner
}

// loadFinals reads the kept snapshot of each episode. Episodes whose snapshot
// was pruned are skipped.
func loadFinals(dataDir string, eps []arena.EpisodeReport) (map[string]snapshot.SnapshotV1, error) {
	out := map[string]snapshot.SnapshotV1{}
	for _, e := range eps {
		path, err := snapshot.Find(dataDir, e.EpisodeID)
		if err != nil {
			return nil, err
		}
		if path == "" {
			continue
		}
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return nil, err
		}
		out[e.EpisodeID] = snap
	}
	return out, nil
}

func fileSize(path string) uint64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(st.Size())
}

func render(w io.Writer, rep *report, color bool) {
	paint := func(c chalk.Color, s string) string {
		if !color {
			return s
		}
		return fmt.Sprint(c, s, chalk.Reset)
	}
	signed := func(v float64) string {
		s := fmt.Sprintf("%+.3f", v)
		switch {
		case v > 0:
			return paint(chalk.Green, s)
		case v < 0:
			return paint(chalk.Red, s)
		}
		return s
	}

	fmt.Fprintf(w, "%s episodes=%s decisions=%s logs=%s\n",
		paint(chalk.Blue, "replay"),
		humanize.Comma(int64(len(rep.Episodes))),
		humanize.Comma(rep.Decisions),
		humanize.Bytes(rep.LogBytes))

	for _, e := range rep.Episodes {
		dur := e.EndedAt.Sub(e.StartedAt).Round(time.Millisecond)
		fmt.Fprintf(w, "episode #%d %s ticks=%s..%s wall=%s score 1=%d 2=%d",
			e.Index, e.EpisodeID,
			humanize.Comma(int64(e.StartTick)), humanize.Comma(int64(e.EndTick)),
			dur, e.Score[arena.Team1], e.Score[arena.Team2])
		if t := winnerOf(e.Score); t != 0 {
			fmt.Fprintf(w, " %s", paint(chalk.Yellow, fmt.Sprintf("winner=%d", t)))
		}
		fmt.Fprintln(w)
		for _, s := range e.Agents {
			names := make([]string, 0, len(s.Tally))
			for name := range s.Tally {
				names = append(names, name)
			}
			sort.Strings(names)
			parts := make([]string, 0, len(names))
			for _, name := range names {
				t := s.Tally[name]
				parts = append(parts, fmt.Sprintf("%s x%d %+.3f", name, t.Count, t.Total))
			}
			fmt.Fprintf(w, "  %s team=%d total=%s", s.AgentID, s.Team, signed(s.Total))
			if len(parts) > 0 {
				fmt.Fprintf(w, " [%s]", strings.Join(parts, ", "))
			}
			fmt.Fprintln(w)
		}
		if snap, ok := rep.Finals[e.EpisodeID]; ok {
			renderFinal(w, snap)
		}
	}

	ids := make([]string, 0, len(rep.Agents))
	for id := range rep.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		fmt.Fprintln(w, paint(chalk.Blue, "agents"))
	}
	for _, id := range ids {
		a := rep.Agents[id]
		mean := 0.0
		if a.Episodes > 0 {
			mean = a.Total / float64(a.Episodes)
		}
		fmt.Fprintf(w, "  %s team=%d episodes=%d wins=%d mean_return=%s decisions=%s step_reward=%s",
			a.AgentID, a.Team, a.Episodes, a.Wins, signed(mean), humanize.Comma(a.Decisions), signed(a.Reward))
		if a.Errors > 0 {
			fmt.Fprintf(w, " %s", paint(chalk.Red, fmt.Sprintf("errors=%d", a.Errors)))
		}
		fmt.Fprintln(w)
	}
}

func renderFinal(w io.Writer, snap snapshot.SnapshotV1) {
	for _, a := range snap.Agents {
		fmt.Fprintf(w, "  final %s pos=(%.1f, %.1f) yaw=%.0f carrying=%d",
			a.AgentID, a.Position.X, a.Position.Z, a.Yaw, a.Carrying)
		if a.FrozenFor > 0 {
			fmt.Fprintf(w, " frozen=%.1fs", a.FrozenFor)
		}
		fmt.Fprintln(w)
	}
	free, inBase := 0, map[int]int{}
	for _, t := range snap.Targets {
		switch {
		case t.InBase != 0:
			inBase[t.InBase]++
		case t.Carried == 0:
			free++
		}
	}
	fmt.Fprintf(w, "  final targets free=%d base1=%d base2=%d\n", free, inBase[arena.Team1], inBase[arena.Team2])
}
