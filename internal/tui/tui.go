// Package tui is the interactive terminal client: an event log, a
// command line, and a live view of the table rendered from game_state
// frames.
package tui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/lox/holdem/internal/client"
	"github.com/lox/holdem/internal/protocol"
	"github.com/lox/holdem/poker"
)

// Model is the bubbletea model for the terminal client.
type Model struct {
	client *client.Client
	logger *log.Logger
	token  string

	logViewport viewport.Model
	input       textinput.Model

	lines    []string
	state    *protocol.GameState
	userID   int64
	username string
	roomID   int64

	width       int
	height      int
	initialized bool
	quitting    bool
}

type frameMsg struct{ msg *protocol.Message }

type disconnectedMsg struct{}

// New creates the model. The token is presented as soon as the
// program starts.
func New(c *client.Client, token string, logger *log.Logger) *Model {
	vp := viewport.New(10, 5)

	ti := textinput.New()
	ti.Placeholder = "fold | check | call | raise 40 | allin | /join 1 | /watch 1 | /say hi | /quit"
	ti.Focus()
	ti.CharLimit = 220
	ti.Prompt = "> "

	return &Model{
		client:      c,
		logger:      logger.WithPrefix("tui"),
		token:       token,
		logViewport: vp,
		input:       ti,
	}
}

// Init authenticates and starts listening for frames.
func (m *Model) Init() tea.Cmd {
	if err := m.client.Authenticate(m.token); err != nil {
		m.appendLine(errorStyle.Render("auth failed: " + err.Error()))
	}
	return tea.Batch(textinput.Blink, m.nextFrame())
}

func (m *Model) nextFrame() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.client.Messages()
		if !ok {
			return disconnectedMsg{}
		}
		return frameMsg{msg}
	}
}

// Update handles UI events and inbound frames.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.logViewport.Width = msg.Width - 4
		m.logViewport.Height = max(5, msg.Height-14)
		m.input.Width = msg.Width - 4
		m.initialized = true
		m.refreshLog()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			_ = m.client.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			cmd := m.handleCommand(strings.TrimSpace(m.input.Value()))
			m.input.SetValue("")
			if cmd != nil {
				return m, cmd
			}
		}

	case frameMsg:
		m.handleFrame(msg.msg)
		return m, m.nextFrame()

	case disconnectedMsg:
		m.appendLine(errorStyle.Render("disconnected from server"))
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.logViewport, cmd = m.logViewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleCommand parses a line of input into a protocol action.
func (m *Model) handleCommand(line string) tea.Cmd {
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "/quit":
		m.quitting = true
		_ = m.client.Close()
		return tea.Quit

	case "/join":
		var roomID int64
		if roomID, err = parseRoomID(args); err == nil {
			m.roomID = roomID
			err = m.client.JoinRoom(roomID)
		}

	case "/watch":
		var roomID int64
		if roomID, err = parseRoomID(args); err == nil {
			m.roomID = roomID
			err = m.client.Spectate(roomID)
		}

	case "/leave":
		err = m.client.LeaveRoom()

	case "/say":
		err = m.client.Chat(strings.Join(args, " "))

	case "fold", "check", "call":
		err = m.client.Act(cmd, 0)

	case "raise":
		var amount int64
		if len(args) != 1 {
			err = fmt.Errorf("usage: raise <amount>")
		} else if amount, err = strconv.ParseInt(args[0], 10, 64); err == nil {
			err = m.client.Act("raise", amount)
		}

	case "allin", "all-in":
		err = m.client.Act("all-in", 0)

	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		m.appendLine(errorStyle.Render(err.Error()))
	}
	return nil
}

func parseRoomID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: /join <room-id>")
	}
	return strconv.ParseInt(args[0], 10, 64)
}

// handleFrame turns an inbound frame into log lines and table state.
func (m *Model) handleFrame(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeAuthSuccess:
		var p protocol.AuthSuccess
		if decode(msg, &p) {
			m.userID, m.username = p.UserID, p.Username
			m.appendLine(fmt.Sprintf("authenticated as %s", p.Username))
		}

	case protocol.TypeJoinedRoom:
		var p protocol.JoinedRoom
		if decode(msg, &p) {
			m.appendLine(fmt.Sprintf("joined room %d at seat %d with %d chips", p.RoomID, p.SeatNumber, p.Stack))
		}

	case protocol.TypeLeftRoom:
		m.state = nil
		m.appendLine("left the room")

	case protocol.TypeSpectating:
		var p protocol.Spectating
		if decode(msg, &p) {
			m.appendLine(fmt.Sprintf("spectating room %d", p.RoomID))
		}

	case protocol.TypeNewRound:
		var p protocol.GameState
		if decode(msg, &p) {
			m.state = &p
			m.appendLine(fmt.Sprintf("--- new hand %s ---", p.HandID))
			if len(p.YourCards) > 0 {
				m.appendLine("your cards: " + renderCards(p.YourCards))
			}
		}

	case protocol.TypeGameState:
		var p protocol.GameState
		if decode(msg, &p) {
			m.state = &p
		}

	case protocol.TypePlayerJoined:
		var p protocol.PlayerJoined
		if decode(msg, &p) {
			m.appendLine(fmt.Sprintf("%s sat down at seat %d (%d chips)", p.Username, p.SeatNumber, p.Stack))
		}

	case protocol.TypePlayerLeft:
		var p protocol.PlayerLeft
		if decode(msg, &p) {
			if p.Reason == "busted" {
				m.appendLine(fmt.Sprintf("player %d busted out", p.UserID))
			} else {
				m.appendLine(fmt.Sprintf("player %d left", p.UserID))
			}
		}

	case protocol.TypePlayerSatOut:
		var p protocol.PlayerSatOut
		if decode(msg, &p) {
			m.appendLine(fmt.Sprintf("%s sat out (%s), %d chips returned", p.Username, p.Reason, p.ChipsReturned))
		}

	case protocol.TypeActionResult:
		var p protocol.ActionResult
		if decode(msg, &p) {
			if p.Amount > 0 {
				m.appendLine(fmt.Sprintf("player %d: %s %d", p.UserID, p.Action, p.Amount))
			} else {
				m.appendLine(fmt.Sprintf("player %d: %s", p.UserID, p.Action))
			}
		}

	case protocol.TypeTimerUpdate:
		var p protocol.TimerUpdate
		if decode(msg, &p) && p.TimedOut {
			m.appendLine(infoStyle.Render(fmt.Sprintf("player %d timed out", p.UserID)))
		}

	case protocol.TypeHandResult:
		var p protocol.HandResult
		if decode(msg, &p) {
			for _, w := range p.Winners {
				line := fmt.Sprintf("%s wins %d", w.Username, w.Amount)
				if w.Hand != nil {
					line += " with " + w.Hand.Description
				}
				m.appendLine(potStyle.Render(line))
			}
			if len(p.CommunityCards) > 0 {
				m.appendLine("board: " + renderCards(p.CommunityCards))
			}
		}

	case protocol.TypeChatMessage:
		var p protocol.ChatBroadcast
		if decode(msg, &p) {
			m.appendLine(fmt.Sprintf("<%s> %s", p.Username, p.Message))
		}

	case protocol.TypeError:
		var p protocol.Error
		if decode(msg, &p) {
			m.appendLine(errorStyle.Render("error: " + p.Message))
		}
	}
}

func decode(msg *protocol.Message, v any) bool {
	return json.Unmarshal(msg.Payload, v) == nil
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > 500 {
		m.lines = m.lines[len(m.lines)-500:]
	}
	m.refreshLog()
}

func (m *Model) refreshLog() {
	m.logViewport.SetContent(strings.Join(m.lines, "\n"))
	m.logViewport.GotoBottom()
}

// View renders the header, table, event log, and input line.
func (m *Model) View() string {
	if m.quitting {
		return "goodbye\n"
	}
	if !m.initialized {
		return "connecting..."
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("holdem") + "\n")
	b.WriteString(m.renderTable() + "\n")
	b.WriteString(m.logViewport.View() + "\n")
	b.WriteString(m.input.View())
	return b.String()
}

func (m *Model) renderTable() string {
	if m.state == nil {
		return tableStyle.Render("no table - /join or /watch a room")
	}
	s := m.state

	var b strings.Builder
	fmt.Fprintf(&b, "room %d  %s  ", s.RoomID, s.Phase)
	b.WriteString(potStyle.Render(fmt.Sprintf("pot %d", s.Pot)))
	if s.CurrentBet > 0 {
		fmt.Fprintf(&b, "  bet %d  min raise %d", s.CurrentBet, s.MinRaise)
	}
	b.WriteString("\n")
	if len(s.CommunityCards) > 0 {
		b.WriteString("board: " + renderCards(s.CommunityCards) + "\n")
	}
	if len(s.YourCards) > 0 {
		b.WriteString("you:   " + renderCards(s.YourCards) + "\n")
	}

	for _, p := range s.Players {
		marker := "  "
		if p.UserID == s.CurrentActorID {
			marker = actorStyle.Render("->") // to act
		}
		var badges []string
		if p.IsDealer {
			badges = append(badges, "D")
		}
		if p.IsSmallBlind {
			badges = append(badges, "SB")
		}
		if p.IsBigBlind {
			badges = append(badges, "BB")
		}
		badge := ""
		if len(badges) > 0 {
			badge = " [" + strings.Join(badges, ",") + "]"
		}
		line := fmt.Sprintf("%s seat %d %-16s %6d chips  %s%s", marker, p.SeatNumber, p.Username, p.Stack, p.Status, badge)
		if p.CurrentBet > 0 {
			line += fmt.Sprintf("  (bet %d)", p.CurrentBet)
		}
		b.WriteString(line + "\n")
	}

	return tableStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderCards(cards []poker.Card) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		style := blackCardStyle
		if c.IsRed() {
			style = redCardStyle
		}
		parts[i] = style.Render(c.String())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, strings.Join(parts, " "))
}
