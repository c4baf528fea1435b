package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brensch/tttzero/executor/selfplay"
	tea "github.com/charmbracelet/bubbletea"
)

type GameUpdate struct {
	WorkerID int
	Result   selfplay.GameResult
}

type model struct {
	stats       *selfplay.RunStats
	snap        selfplay.Totals
	moves       int64
	inferences  int64
	startTime   time.Time
	recentGames []string
	updates     chan GameUpdate
}

func initialModel(stats *selfplay.RunStats, updates chan GameUpdate) model {
	return model{
		stats:     stats,
		startTime: time.Now(),
		updates:   updates,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		m.inferences = totalInferences.Load()
		m.snap = m.stats.Snapshot()
		return m, tickCmd()
	case GameUpdate:
		r := msg.Result
		line := fmt.Sprintf("worker %d: %s first, reward %+d, %d plies, %s", msg.WorkerID, r.First, r.Reward, r.Plies, r.Duration.Round(time.Millisecond))
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	secs := duration.Seconds()
	rate := func(n float64) float64 {
		if secs < 1 {
			return 0
		}
		return n / secs
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Games Played:     %d\n", m.snap.Games)
	fmt.Fprintf(&sb, "Win/Loss/Draw:    %d/%d/%d (winrate %.1f%%, wins as O %d)\n", m.snap.Wins, m.snap.Losses, m.snap.Draws, m.snap.WinRate(), m.snap.WinsAsO)
	fmt.Fprintf(&sb, "Total Moves:      %d\n", m.moves)
	fmt.Fprintf(&sb, "Total Inferences: %d\n", m.inferences)
	fmt.Fprintf(&sb, "Terminal backups: %d of %d sims\n", m.snap.Terminals, m.snap.Simulations)
	fmt.Fprintf(&sb, "Duration:         %s\n", duration.Round(time.Second))
	fmt.Fprintf(&sb, "Games/Sec:        %.2f\n", rate(float64(m.snap.Games)))
	fmt.Fprintf(&sb, "Moves/Sec:        %.2f\n", rate(float64(m.moves)))
	fmt.Fprintf(&sb, "Inferences/Sec:   %.2f\n\n", rate(float64(m.inferences)))

	sb.WriteString("Recent Games:\n")
	for _, g := range m.recentGames {
		sb.WriteString(g + "\n")
	}

	sb.WriteString("\nPress q to quit.\n")
	return sb.String()
}
