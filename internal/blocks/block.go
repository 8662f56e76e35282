package blocks

// Block is one delimited chunk of input: canonical field names mapped to
// one or more values. A block always contains its marker field.
type Block struct {
	marker string
	line   int
	values map[string][]string
	names  []string
}

func newBlock(marker string, line int) *Block {
	return &Block{marker: marker, line: line, values: make(map[string][]string)}
}

// Marker returns the canonical name of the field that opened the block.
func (b Block) Marker() string { return b.marker }

// Line returns the 1-based line number of the marker field.
func (b Block) Line() int { return b.line }

// Has reports whether the block contains field name.
func (b Block) Has(name string) bool {
	_, ok := b.values[name]
	return ok
}

// Value returns the last value recorded for name, or "" when absent.
func (b Block) Value(name string) string {
	vals := b.values[name]
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// Values returns every value recorded for name in input order.
func (b Block) Values(name string) []string {
	vals := b.values[name]
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, len(vals))
	copy(out, vals)
	return out
}

// Names returns the field names present in first-seen order.
func (b Block) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

func (b *Block) set(f Field, value string) {
	if _, seen := b.values[f.Name]; !seen {
		b.names = append(b.names, f.Name)
	}
	if f.Repeatable {
		b.values[f.Name] = append(b.values[f.Name], value)
		return
	}
	b.values[f.Name] = []string{value}
}

func (b *Block) continueValue(name, text, joiner string) {
	vals := b.values[name]
	last := len(vals) - 1
	if vals[last] == "" {
		vals[last] = text
		return
	}
	vals[last] += joiner + text
}
