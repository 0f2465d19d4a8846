package tgui

import (
	"strings"

	kit "likebot/internal/transport"
)

// Card builds an HTML message line by line. Every text argument is escaped.
type Card struct {
	lines   []string
	buttons [][]kit.Button
}

func New() *Card { return &Card{} }

// Title adds a bold heading. emoji may be empty.
func (c *Card) Title(emoji, title string) *Card {
	t := strings.TrimSpace(title)
	if t == "" {
		return c
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	c.lines = append(c.lines, line)
	return c
}

// KV adds a "• key: value" row with the key in bold.
func (c *Card) KV(key, value string) *Card {
	key = strings.TrimSpace(key)
	if key == "" {
		return c
	}
	c.lines = append(c.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return c
}

func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, Esc(s).String())
	return c
}

func (c *Card) Blank() *Card { return c.Line("") }

// Buttons attaches an inline keyboard.
func (c *Card) Buttons(rows [][]kit.Button) *Card {
	c.buttons = rows
	return c
}

// Build returns the text and matching send options.
func (c *Card) Build() (string, *kit.SendOptions) {
	text := strings.Trim(strings.Join(c.lines, "\n"), "\n")
	return text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: c.buttons}
}
