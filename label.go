package pipeline

import "github.com/liveflow/pipeline/pkg/meta"

// Label is the optional description carried by a Term, used solely to
// name the corresponding Analysis node. A zero Label renders as
// "<anonymous>".
type Label struct {
	Text string
	Meta map[string]any
}

// NewLabel builds a Label with a text description and no metadata.
func NewLabel(text string) Label {
	return Label{Text: text}
}

// WithMeta returns a copy of l with key set in its metadata.
func (l Label) WithMeta(key string, value any) Label {
	m := meta.Merge(l.Meta, map[string]any{key: value})
	return Label{Text: l.Text, Meta: m}
}

func (l Label) String() string {
	if l.Text == "" {
		return "<anonymous>"
	}
	return l.Text
}
