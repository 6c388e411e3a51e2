// Package watch renders a live-refreshing terminal dashboard of heap
// occupancy, GC activity, and thread status while a VM run is in
// progress, adapted from the teacher's internal/watch/app.go: that
// dashboard polled a separate running JVM over JMX, this one polls the
// in-process VM directly, since jovm is the JVM rather than watching one.
package watch

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/NimbleMarkets/ntcharts/linechart/timeserieslinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/mabhi256/jovm/internal/console"
	"github.com/mabhi256/jovm/internal/heap"
	"github.com/mabhi256/jovm/internal/vm"
)

type tickMsg time.Time

type sample struct {
	occupiedPct float64
}

const historyGraphHeight = 8

// keyMap follows the teacher's internal/tui/types.go KeyMap shape: one
// key.Binding per action, rendered through bubbles/help instead of a
// hand-rolled footer string.
type keyMap struct {
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding { return []key.Binding{k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{{k.Quit}} }

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	}
}

// Model is the bubbletea model driving the dashboard. It never mutates
// the VM: every field is read straight off the allocator/collector/
// scheduler each tick.
type Model struct {
	v       *vm.VM
	width   int
	height  int
	history []sample
	chart   timeserieslinechart.Model
	done    atomic.Bool
	keys    keyMap
	help    help.Model
}

// New wires a dashboard onto a VM that a caller is driving on another
// goroutine (cmd/watch.go runs the scheduler loop separately and calls
// MarkDone once every thread dies). The heap-occupancy history graph
// uses ntcharts' timeserieslinechart the same way the teacher's
// internal/monitor/memory_tab.go drove its heap graph, substituting
// occupancy percent for the teacher's used/committed MB series.
func New(v *vm.VM) *Model {
	chart := timeserieslinechart.New(60, historyGraphHeight)
	chart.SetStyle(lipgloss.NewStyle().Foreground(console.InfoColor))
	return &Model{v: v, chart: chart, keys: defaultKeyMap(), help: help.New()}
}

// MarkDone tells the dashboard every thread has finished; the next tick
// quits the program instead of scheduling another one. cmd/watch.go
// calls this from the goroutine driving the scheduler loop, so it goes
// through an atomic instead of a plain field.
func (m *Model) MarkDone() { m.done.Store(true) }

func triggerTick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) Init() tea.Cmd {
	return triggerTick()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		pct := occupiedPercent(m.v.Heap)
		m.history = append(m.history, sample{occupiedPct: pct})
		if len(m.history) > 120 {
			m.history = m.history[len(m.history)-120:]
		}
		m.chart.Push(timeserieslinechart.TimePoint{Time: time.Time(msg), Value: pct})
		if m.done.Load() {
			return m, tea.Quit
		}
		return m, triggerTick()
	}
	return m, nil
}

func occupiedPercent(a *heap.Allocator) float64 {
	capacity := a.Capacity()
	if capacity == 0 {
		return 0
	}
	return 100 * float64(capacity-a.FreeBytes()) / float64(capacity)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "starting...\n"
	}

	header := console.TitleStyle.Render("jovm watch")
	heapLine := fmt.Sprintf("heap: %d/%d bytes occupied", m.v.Heap.Capacity()-m.v.Heap.FreeBytes(), m.v.Heap.Capacity())
	gcLine := fmt.Sprintf("last gc: freed=%d retyped=%d scanned=%d", m.v.GC.LastFreed, m.v.GC.LastRetyped, m.v.GC.LastScanned)
	threadLine := fmt.Sprintf("threads: %d live", liveThreads(m.v))
	graph := heapHistoryGraph(&m.chart, m.history)
	helpView := m.help.View(m.keys)

	body := lipgloss.JoinVertical(lipgloss.Left, heapLine, gcLine, threadLine, "", graph, "", helpView)
	return lipgloss.JoinVertical(lipgloss.Left, header, console.BoxStyle.Render(body))
}

func liveThreads(v *vm.VM) int {
	n := 0
	for _, t := range v.Sched.Threads() {
		if !t.IsDead() {
			n++
		}
	}
	return n
}

// heapHistoryGraph draws the occupancy-history braille line chart, or a
// muted placeholder before enough samples have accumulated to plot a
// line, matching the teacher's renderPlaceholderGraph /
// renderHeapMemoryMultiSeriesGraph split in internal/monitor/memory_tab.go.
func heapHistoryGraph(chart *timeserieslinechart.Model, history []sample) string {
	if len(history) < 2 {
		return console.MutedStyle.Render("(collecting samples...)")
	}
	chart.DrawBrailleAll()
	return chart.View()
}
