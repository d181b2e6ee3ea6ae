package internal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	appTitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110")).Padding(0, 1)
	chatHeaderStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	listBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	selectedRowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	rowStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dirStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	sizeStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	separatorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Italic(true)
	markerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	messageBodyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	usernameStyle     = lipgloss.NewStyle().Bold(true)
	selfUsernameStyle = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	detailStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).Italic(true)
	typingStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	infoNoticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorNoticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	presenceDotStyles = map[Status]lipgloss.Style{
		StatusOnline:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		StatusAway:    lipgloss.NewStyle().Foreground(lipgloss.Color("178")),
		StatusOffline: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
	userColorPalette = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("135"),
	}
)

func (model *TUIModel) View() string {
	if model.idle.Panicked() || model.mode == modeBrowser {
		return model.renderBrowserView()
	}
	if model.mode == modeNamePrompt {
		return model.renderNamePromptView()
	}
	return model.renderChatView()
}

// visibleRows flattens the tree in pre-order, descending only into
// expanded directories. The root itself is not a row.
func (model *TUIModel) visibleRows() []NodeID {
	var rows []NodeID
	var walk func(id NodeID)
	walk = func(id NodeID) {
		node := model.tree.Node(id)
		if node == nil {
			return
		}
		if id != model.tree.Root() {
			rows = append(rows, id)
			if !node.Leaf && !model.expanded[id] {
				return
			}
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(model.tree.Root())
	return rows
}

func (model *TUIModel) renderBrowserView() string {
	title := appTitleStyle.Render(model.tree.Node(model.tree.Root()).Name)

	rows := model.visibleRows()
	var lines []string
	for idx, id := range rows {
		lines = append(lines, model.renderBrowserRow(id, idx == model.browseIndex))
	}
	if len(lines) == 0 {
		lines = append(lines, hintStyle.Render("empty directory"))
	}

	sections := []string{title, listBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))}
	sections = append(sections, hintStyle.Render("↑/↓ select • Enter open • q quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderBrowserRow(id NodeID, selected bool) string {
	node := model.tree.Node(id)
	depth := model.rowDepth(id)
	indent := strings.Repeat("  ", depth)

	name := node.Name
	if !node.Leaf {
		name += "/"
	}
	label := indent + name
	if node.Leaf {
		label = fmt.Sprintf("%s  %s", label, sizeStyle.Render(humanSize(node.Size)))
	}

	if selected {
		return selectedRowStyle.Render("➤ " + label)
	}
	if !node.Leaf {
		return "  " + dirStyle.Render(label)
	}
	return rowStyle.Render("  " + label)
}

func (model *TUIModel) rowDepth(id NodeID) int {
	depth := 0
	for current := id; ; {
		node := model.tree.Node(current)
		if node == nil || node.Parent == current || node.Parent == model.tree.Root() {
			return depth
		}
		current = node.Parent
		depth++
	}
}

func (model *TUIModel) renderNamePromptView() string {
	sections := []string{
		appTitleStyle.Render("Who are you?"),
		hintStyle.Render("Pick a display name and press Enter. Esc goes back."),
	}
	sections = append(sections, model.renderNotices()...)
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderChatView() string {
	header := chatHeaderStyle.Render(fmt.Sprintf("%s ┃ %s", model.room, model.username))

	now := time.Now()
	lines := ProjectTranscript(model.reconciler.Messages(), model.username, now)
	var rendered []string
	messageIndex := 0
	for _, line := range lines {
		switch line.Kind {
		case LineSeparator:
			rendered = append(rendered, separatorStyle.Render("── "+line.Label+" ──"))
		case LineMessage:
			messageIndex++
			rendered = append(rendered, model.renderTranscriptLine(line, messageIndex))
		}
	}
	if len(rendered) == 0 {
		rendered = append(rendered, hintStyle.Render("no messages"))
	}

	sections := []string{header, listBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rendered...))}
	sections = append(sections, model.renderRoster())

	if indicator := model.presence.TypingIndicator(); indicator != "" {
		sections = append(sections, typingStyle.Render(indicator))
	}
	sections = append(sections, model.renderNotices()...)
	if model.replyTarget != nil {
		sections = append(sections, model.renderReplyPreview())
	}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
	sections = append(sections, hintStyle.Render("Ctrl+H hide • /reply N • /ring • /clear • /logout • /quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderTranscriptLine(line TranscriptLine, index int) string {
	msg := line.Message

	var nameStyle lipgloss.Style
	if msg.Sender == model.username {
		nameStyle = selfUsernameStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(msg.Sender))
	}

	return lipgloss.JoinHorizontal(lipgloss.Left,
		sizeStyle.Render(fmt.Sprintf("%2d ", index)),
		markerStyle.Render(line.Marker),
		" ",
		nameStyle.Render(msg.Sender),
		": ",
		messageBodyStyle.Render(strings.ReplaceAll(msg.Body, "\n", "\n      ")),
	)
}

// renderReplyPreview shows the quoted target plus its receipt detail,
// the closest a terminal gets to hover text.
func (model *TUIModel) renderReplyPreview() string {
	target := *model.replyTarget
	preview := "replying to " + target.Sender
	if detail := hoverDetail(target, model.username, time.Now()); detail != "" {
		preview += "  (" + strings.ReplaceAll(detail, "\n", ", ") + ")"
	}
	return detailStyle.Render(preview)
}

func (model *TUIModel) renderRoster() string {
	states := model.presence.States()
	if len(states) == 0 {
		return hintStyle.Render("nobody else here")
	}
	users := make([]string, 0, len(states))
	for user := range states {
		users = append(users, user)
	}
	sort.Strings(users)
	var parts []string
	for _, user := range users {
		dot := presenceDotStyles[states[user].Status].Render("●")
		parts = append(parts, dot+" "+user)
	}
	return hintStyle.Render(strings.Join(parts, "   "))
}

func (model *TUIModel) renderNotices() []string {
	var lines []string
	for _, notice := range model.notices {
		if notice.Severity == SeverityError {
			lines = append(lines, errorNoticeStyle.Render(notice.Text))
		} else {
			lines = append(lines, infoNoticeStyle.Render(notice.Text))
		}
	}
	return lines
}

func humanSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
