package models

import "strings"

// Role identifies who produced a turn. The values match Gemini's content roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one text segment of a turn.
type Part struct {
	Text string `json:"text"`
}

// Turn is one recorded exchange unit in a conversation log.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{{Text: text}}}
}

func ModelTurn(text string) Turn {
	return Turn{Role: RoleModel, Parts: []Part{{Text: text}}}
}

// Text joins the turn's parts.
func (t Turn) Text() string {
	if len(t.Parts) == 1 {
		return t.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range t.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
