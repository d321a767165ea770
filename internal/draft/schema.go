package draft

import (
	"encoding/json"
	"fmt"
	"strings"
)

// modelOutput is the single schema model answers are decoded into. Every
// accepted alternate key name lives here and is resolved in resolve.
type modelOutput struct {
	Title          string `json:"title"`
	JobTitle       string `json:"job_title"`
	Description    string `json:"description"`
	JobDescription string `json:"job_description"`
	Headline       string `json:"headline"`
	Summary        string `json:"summary"`
	Bio            string `json:"bio"`

	Keywords keywordList `json:"keywords"`
	Tags     keywordList `json:"tags"`
	Skills   keywordList `json:"skills"`
}

// keywordList accepts either a JSON array or a comma-separated string.
type keywordList []string

func (k *keywordList) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case nil:
		*k = nil
	case string:
		*k = NormalizeKeywords(strings.Split(val, ","))
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			items = append(items, fmt.Sprint(item))
		}
		*k = NormalizeKeywords(items)
	default:
		return fmt.Errorf("keywords must be an array or a string, got %T", v)
	}
	return nil
}

// NormalizeKeywords trims every entry and drops empty ones. Order and
// duplicates are preserved.
func NormalizeKeywords(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstKeywords(lists ...keywordList) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return []string(l)
		}
	}
	return []string{}
}

// resolve maps the decoded answer onto a Draft of the given kind.
func (m modelOutput) resolve(kind Kind) *Draft {
	d := &Draft{Kind: kind, Keywords: firstKeywords(m.Keywords, m.Tags, m.Skills)}
	switch kind {
	case KindProfile:
		d.Headline = firstNonEmpty(m.Headline, m.Title)
		d.Summary = firstNonEmpty(m.Summary, m.Bio, m.Description)
	default:
		d.Title = firstNonEmpty(m.Title, m.JobTitle)
		d.Description = firstNonEmpty(m.Description, m.JobDescription)
	}
	return d
}
