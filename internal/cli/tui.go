//go:build !tinygo

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"tigermeter/app"
	"tigermeter/hal"
	"tigermeter/internal/device"
	"tigermeter/internal/logs"
)

var tuiLogLines int

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Boot the firmware headless with a live terminal view",
	Long: `Boot the firmware headless and show the supervisor state, the LED, a
preview of the e-paper glass and the device log.

Keys: d toggle demo mode, u force update, r reboot, q quit.`,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().IntVar(&tuiLogLines, "log-lines", 8, "Device log lines to show")
	addBoardFlags(tuiCmd)
	rootCmd.AddCommand(tuiCmd)
}

// Preview cell size in glass pixels. Each character shows two cells
// stacked with half blocks.
const (
	previewCellW = 4
	previewCellH = 4
)

type tuiTickMsg time.Time

type firmwareDoneMsg struct{}

// firmwareRun is the result of the firmware goroutine, valid once done is
// closed.
type firmwareRun struct {
	done chan struct{}
	err  error
}

type noticeMsg string

type tuiModel struct {
	host hal.Host
	fw   *atomic.Pointer[app.Firmware]
	ring *logs.Ring
	run  *firmwareRun

	snap          device.Snapshot
	glass         []byte
	r, g, b       uint8
	full, partial int
	lines         []string
	notice        string
	logLines      int

	width    int
	height   int
	quitting bool
}

func newTUIModel(h hal.Host, fw *atomic.Pointer[app.Firmware], ring *logs.Ring, run *firmwareRun) tuiModel {
	return tuiModel{
		host:     h,
		fw:       fw,
		ring:     ring,
		run:      run,
		logLines: tuiLogLines,
		width:    100,
		height:   40,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), waitFirmware(m.run))
}

func tuiTick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tuiTickMsg(t)
	})
}

func waitFirmware(run *firmwareRun) tea.Cmd {
	return func() tea.Msg {
		<-run.done
		return firmwareDoneMsg{}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "d":
			return m, m.send(device.Command{Kind: device.CmdSetDemoMode, On: !m.snap.DemoMode}, "demo mode")
		case "u":
			return m, m.send(device.Command{Kind: device.CmdForceUpdate}, "force update")
		case "r":
			return m, m.send(device.Command{Kind: device.CmdReboot}, "reboot")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tuiTickMsg:
		m.refresh()
		return m, tuiTick()

	case noticeMsg:
		m.notice = string(msg)

	case firmwareDoneMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// refresh samples the simulated board.
func (m *tuiModel) refresh() {
	if f := m.fw.Load(); f != nil {
		m.snap = f.Supervisor.Status()
	}
	sim := m.host.PanelSim()
	m.glass = sim.Visible()
	m.full, m.partial, _ = sim.Counts()
	m.r, m.g, m.b = m.host.HostLED().RGB()
	m.lines = m.ring.Snapshot()
}

// send posts c to the running supervisor and reports the result as a
// notice once it has been handled.
func (m tuiModel) send(c device.Command, what string) tea.Cmd {
	f := m.fw.Load()
	if f == nil {
		return func() tea.Msg { return noticeMsg(what + ": still booting") }
	}
	reply := make(chan error, 1)
	c.Reply = reply
	if !f.Supervisor.Commands().TrySend(c) {
		return func() tea.Msg { return noticeMsg(what + ": command queue full") }
	}
	return func() tea.Msg {
		select {
		case err := <-reply:
			if err != nil {
				return noticeMsg(what + ": " + err.Error())
			}
			return noticeMsg(what + ": ok")
		case <-time.After(time.Minute):
			return noticeMsg(what + ": no answer")
		}
	}
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	paperStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("235")).
		Background(lipgloss.Color("254"))

	var s strings.Builder
	s.WriteString(titleStyle.Render("TIGERMETER - HOST BOARD"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Flash: %s | Portal: %s | Press 'q' to quit",
		orDash(flashPath), portalLabel())))
	s.WriteString("\n\n")

	field := func(label, value string) string {
		return labelStyle.Render(label) + " " + valueStyle.Render(value)
	}
	var st strings.Builder
	st.WriteString(field("State:", m.snap.State.String()) + "   " + field("Device:", orDash(m.snap.DeviceID)))
	if m.snap.ClaimCode != "" {
		st.WriteString("   " + field("Claim code:", m.snap.ClaimCode))
	}
	st.WriteString("\n")
	st.WriteString(field("Firmware:", fmt.Sprintf("v%d", m.snap.Firmware)) + "   " +
		field("Latest:", versionLabel(m.snap.LatestVersion)) + "   " +
		field("Auto update:", fmt.Sprintf("%t", m.snap.AutoUpdate)))
	if m.snap.UpdateInProgress {
		st.WriteString("   " + field("Updating:", fmt.Sprintf("%d%%", m.snap.UpdatePercent)))
	}
	st.WriteString("\n")
	led := lipgloss.NewStyle().Background(lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", m.r, m.g, m.b))).Render("    ")
	st.WriteString(labelStyle.Render("LED:") + " " + led + "   " +
		field("Demo:", fmt.Sprintf("%t", m.snap.DemoMode)) + "   " +
		field("Refreshes:", fmt.Sprintf("%d full / %d partial", m.full, m.partial)) + "\n")
	st.WriteString(field("Display hash:", orDash(m.snap.DisplayHash)))
	if m.snap.LastError != "" {
		st.WriteString("\n" + labelStyle.Render("Last error:") + " " + errorStyle.Render(m.snap.LastError))
	}
	s.WriteString(boxStyle.Render(st.String()))
	s.WriteString("\n")

	if m.glass != nil {
		s.WriteString(boxStyle.Render(paperStyle.Render(previewGlass(m.glass))))
		s.WriteString("\n")
	}

	var lg strings.Builder
	lines := m.lines
	if n := m.logLines; n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		if i > 0 {
			lg.WriteString("\n")
		}
		if strings.Contains(l, "error:") {
			lg.WriteString(errorStyle.Render(l))
		} else {
			lg.WriteString(l)
		}
	}
	if len(lines) == 0 {
		lg.WriteString(headerStyle.Render("(no log yet)"))
	}
	s.WriteString(boxStyle.Render(lg.String()))
	s.WriteString("\n")

	help := "d demo  u force update  r reboot  q quit"
	if m.notice != "" {
		help = m.notice + " | " + help
	}
	s.WriteString(headerStyle.Render(help))
	return s.String()
}

// previewGlass draws the glass as text. Ink is drawn as blocks; a cell is
// inked when at least a quarter of its pixels are black.
func previewGlass(native []byte) string {
	w, h := hal.PanelNativeHeight, hal.PanelNativeWidth
	inked := func(cx, cy int) bool {
		n := 0
		for y := cy * previewCellH; y < (cy+1)*previewCellH && y < h; y++ {
			for x := cx * previewCellW; x < (cx+1)*previewCellW && x < w; x++ {
				if hal.LandscapeBlack(native, x, y) {
					n++
				}
			}
		}
		return n*4 >= previewCellW*previewCellH
	}

	cols := w / previewCellW
	rows := (h/previewCellH + 1) / 2
	var b strings.Builder
	for row := 0; row < rows; row++ {
		if row > 0 {
			b.WriteString("\n")
		}
		for col := 0; col < cols; col++ {
			top, bottom := inked(col, 2*row), inked(col, 2*row+1)
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func versionLabel(v int) string {
	if v <= 0 {
		return "unknown"
	}
	return fmt.Sprintf("v%d", v)
}

func portalLabel() string {
	if runNoPortal {
		return "off"
	}
	return runPortal
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := boardConfig()
	if err != nil {
		return err
	}
	panel, release, err := openPanel()
	if err != nil {
		return err
	}
	defer func() { _ = release() }()
	opts := hostOptions(panel)
	opts.Log = io.Discard
	h, err := hal.NewHost(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One ring across reboots so the log view keeps history.
	ring := logs.New(nil)
	var current atomic.Pointer[app.Firmware]
	boot := app.Boot(app.Options{
		Config:   cfg,
		Sink:     ring,
		NoPortal: runNoPortal,
		Started:  func(f *app.Firmware) { current.Store(f) },
	})

	run := &firmwareRun{done: make(chan struct{})}
	go func() {
		run.err = hal.RunFirmware(ctx, h, boot)
		close(run.done)
	}()

	p := tea.NewProgram(newTUIModel(h, &current, ring, run), tea.WithAltScreen())
	_, err = p.Run()
	cancel()
	select {
	case <-run.done:
	case <-time.After(5 * time.Second):
		return errors.New("firmware did not stop")
	}
	if err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	if run.err != nil && !errors.Is(run.err, context.Canceled) {
		return run.err
	}
	return nil
}
