package encode

import (
	"fmt"
	"strconv"
	"strings"
)

// Field identifies one position in an encoded vector.
type Field int

const (
	FieldAlpha Field = iota
	FieldNumber
	FieldSpace
	FieldEnter
	FieldTab
	FieldArrow
	FieldBack
	FieldSymbol
	FieldKeyTotal
	FieldClicks
	FieldDwell
	FieldMovement
	FieldDisplacement
	FieldFinalX
	FieldFinalY
	FieldAvgX
	FieldAvgY
	FieldScrollDistance
	FieldFinalScroll
	FieldAvgScroll
	FieldWidth
	FieldHeight
	FieldDocLength
	FieldHiddenMs
	FieldHiddenRatio
	FieldStartScroll
)

var fieldNames = map[Field]string{
	FieldAlpha:          "keys_alpha",
	FieldNumber:         "keys_number",
	FieldSpace:          "keys_space",
	FieldEnter:          "keys_enter",
	FieldTab:            "keys_tab",
	FieldArrow:          "keys_arrow",
	FieldBack:           "keys_back",
	FieldSymbol:         "keys_symbol",
	FieldKeyTotal:       "keys_total",
	FieldClicks:         "clicks",
	FieldDwell:          "dwell",
	FieldMovement:       "movement",
	FieldDisplacement:   "displacement",
	FieldFinalX:         "final_x",
	FieldFinalY:         "final_y",
	FieldAvgX:           "avg_x",
	FieldAvgY:           "avg_y",
	FieldScrollDistance: "scroll_distance",
	FieldFinalScroll:    "final_scroll",
	FieldAvgScroll:      "avg_scroll",
	FieldWidth:          "width",
	FieldHeight:         "height",
	FieldDocLength:      "doc_length",
	FieldHiddenMs:       "hidden_ms",
	FieldHiddenRatio:    "hidden_ratio",
	FieldStartScroll:    "start_scroll",
}

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return "field(" + strconv.Itoa(int(f)) + ")"
}

// Layout is a versioned vector layout. Vectors of different versions are
// never mixed in one history.
type Layout struct {
	Version int
	Name    string
	Fields  []Field
}

// Width is the vector length.
func (l Layout) Width() int { return len(l.Fields) }

// Index returns the position of f, or -1.
func (l Layout) Index(f Field) int {
	for i, x := range l.Fields {
		if x == f {
			return i
		}
	}
	return -1
}

// FieldNames lists the field names in vector order.
func (l Layout) FieldNames() []string {
	out := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		out[i] = f.String()
	}
	return out
}

// Compact is the seven-field layout: aggregate keys, clicks, dwell, movement,
// scroll distance, the scroll offset the snapshot opened at and raw hidden
// milliseconds.
var Compact = Layout{
	Version: 1,
	Name:    "compact",
	Fields: []Field{
		FieldKeyTotal, FieldClicks, FieldDwell, FieldMovement,
		FieldScrollDistance, FieldStartScroll, FieldHiddenMs,
	},
}

// Full is the 23-field layout the classifier is trained on.
var Full = Layout{
	Version: 2,
	Name:    "full",
	Fields: []Field{
		FieldAlpha, FieldNumber, FieldSpace, FieldEnter,
		FieldTab, FieldArrow, FieldBack, FieldSymbol,
		FieldClicks, FieldDwell, FieldMovement, FieldDisplacement,
		FieldFinalX, FieldFinalY, FieldAvgX, FieldAvgY,
		FieldScrollDistance, FieldFinalScroll, FieldAvgScroll,
		FieldWidth, FieldHeight, FieldDocLength, FieldHiddenRatio,
	},
}

// Default is the layout used when none is configured.
var Default = Full

// LayoutByVersion returns the layout with the given version.
func LayoutByVersion(v int) (Layout, error) {
	switch v {
	case Compact.Version:
		return Compact, nil
	case Full.Version:
		return Full, nil
	}
	return Layout{}, fmt.Errorf("encode: unknown layout version %d", v)
}

// ParseLayout accepts a version number or a layout name. Empty means Default.
func ParseLayout(s string) (Layout, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return Default, nil
	case Compact.Name:
		return Compact, nil
	case Full.Name:
		return Full, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return Layout{}, fmt.Errorf("encode: unknown layout %q", s)
	}
	return LayoutByVersion(v)
}
