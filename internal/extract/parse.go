package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/perpetual-s/gemi-memory/internal/model"
)

// ErrUnparseable is returned when model output holds no usable JSON.
var ErrUnparseable = errors.New("unparseable extraction output")

type rawCandidate struct {
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	MemoryType string    `json:"memory_type"`
	Importance flexFloat `json:"importance"`
	Tags       []string  `json:"tags"`
}

type rawResponse struct {
	Memories *[]rawCandidate `json:"memories"`
}

// flexFloat accepts 4, 4.5 and "4".
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.v, f.set = v, true
	return nil
}

// Parse decodes model output into at most max candidates. It accepts
// {"memories":[...]} or a bare array, with code fences or prose around it.
func Parse(raw string, max int) ([]model.Candidate, error) {
	body := stripFences(raw)
	start := strings.IndexAny(body, "{[")
	if start < 0 {
		return nil, fmt.Errorf("%w: no json found", ErrUnparseable)
	}
	dec := json.NewDecoder(strings.NewReader(body[start:]))

	var items []rawCandidate
	if body[start] == '[' {
		if err := dec.Decode(&items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
	} else {
		var resp rawResponse
		if err := dec.Decode(&resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		if resp.Memories == nil {
			return nil, fmt.Errorf("%w: missing memories field", ErrUnparseable)
		}
		items = *resp.Memories
	}

	var out []model.Candidate
	for _, it := range items {
		if max > 0 && len(out) >= max {
			break
		}
		content := cleanContent(it.Content)
		if content == "" {
			continue
		}
		out = append(out, model.Candidate{
			Content:    content,
			Type:       candidateType(it),
			Importance: importanceOf(it.Importance),
			Tags:       model.NormalizeTags(it.Tags),
		})
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return s
}

func candidateType(c rawCandidate) model.MemoryType {
	name := c.Type
	if name == "" {
		name = c.MemoryType
	}
	if t, ok := model.ParseType(name); ok {
		return t
	}
	return model.TypeJournalFact
}

func importanceOf(f flexFloat) float64 {
	if !f.set {
		return model.DefaultImportance
	}
	return model.ClampImportance(f.v)
}

var bulletPrefixes = []string{"- ", "* ", "• ", "+ "}

// cleanContent strips list markers and emphasis a model adds despite
// being asked for plain sentences.
func cleanContent(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := s
		for _, p := range bulletPrefixes {
			trimmed = strings.TrimPrefix(trimmed, p)
		}
		trimmed = trimNumbering(trimmed)
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == s {
			break
		}
		s = trimmed
	}
	s = strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// trimNumbering removes "1. " or "2) " list numbering.
func trimNumbering(s string) string {
	b := []byte(s)
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(b) {
		return s
	}
	if (b[i] == '.' || b[i] == ')') && b[i+1] == ' ' {
		return string(bytes.TrimSpace(b[i+1:]))
	}
	return s
}
