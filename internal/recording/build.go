package recording

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/rahul/reenact/internal/geometry"
	"github.com/rahul/reenact/internal/ocr"
	"github.com/rahul/reenact/internal/visual"
	"github.com/rahul/reenact/internal/workflow"
)

const (
	pauseThreshold  = 2 * time.Second
	dragThreshold   = 10.0
	signatureSize   = 64
	maxTextDistance = 80.0
)

// ParamHint marks a demonstrated value as a workflow parameter.
type ParamHint struct {
	Name        string
	Value       string
	TypeHint    workflow.TypeHint
	Description string
}

type BuildOptions struct {
	Name        string
	Description string
	Tags        []string
	// OCR names clicked elements. Without it targets are described by
	// screen region only.
	OCR        ocr.Detector
	Parameters []ParamHint
}

var modifierKeys = map[string]string{
	"ctrl": "ctrl", "ctrl_l": "ctrl", "ctrl_r": "ctrl",
	"alt": "alt", "alt_l": "alt", "alt_r": "alt", "alt_gr": "alt",
	"shift": "shift", "shift_l": "shift", "shift_r": "shift",
	"cmd": "super", "cmd_l": "super", "cmd_r": "super", "super": "super",
}

// xdotool names for the listener's special keys.
var specialKeys = map[string]string{
	"enter":     "Return",
	"return":    "Return",
	"tab":       "Tab",
	"esc":       "Escape",
	"escape":    "Escape",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"space":     "space",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"page_up":   "Prior",
	"page_down": "Next",
}

// Build turns a demonstration log into a validated workflow definition.
// Printable keys become type_text, other keys key_combo, clicks
// click_element (drag when the pointer moved), scroll bursts scroll, and
// pauses longer than two seconds wait.
func Build(ctx context.Context, entries []Entry, opts BuildOptions) (*workflow.Definition, error) {
	b := &builder{ctx: ctx, ocr: opts.OCR, detections: map[*Frame][]ocr.Detection{}}
	var events []Event
	for _, e := range entries {
		switch {
		case e.Frame != nil:
			b.frames = append(b.frames, e.Frame)
		case e.Event != nil:
			events = append(events, *e.Event)
		}
	}

	for _, e := range events {
		if e.Kind == EventMove {
			continue
		}
		if !b.last.IsZero() && e.Kind != EventClickUp {
			if gap := e.Time.Sub(b.last); gap > pauseThreshold {
				b.flush()
				b.add(workflow.Step{Action: workflow.ActionWait, Value: seconds(gap)})
			}
		}
		switch e.Kind {
		case EventKey:
			b.key(e)
		case EventClickDown:
			b.flush()
			down := e
			b.down = &down
		case EventClickUp:
			if b.down != nil {
				b.click(*b.down, e)
				b.down = nil
			}
		case EventClick:
			b.flush()
			b.click(e, e)
		case EventScroll:
			b.scroll(e)
		default:
			return nil, fmt.Errorf("unknown event type %q", e.Kind)
		}
		b.last = e.Time
	}
	b.flush()

	steps := collapse(b.steps)
	for i := range steps {
		steps[i].Sequence = i + 1
	}

	def := &workflow.Definition{
		ID:          uuid.NewString(),
		Name:        opts.Name,
		Description: opts.Description,
		Tags:        opts.Tags,
		Steps:       steps,
		CreatedAt:   time.Now().UTC(),
	}
	if err := parameterize(def, opts.Parameters); err != nil {
		return nil, err
	}
	if err := workflow.Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

type builder struct {
	ctx        context.Context
	ocr        ocr.Detector
	frames     []*Frame
	detections map[*Frame][]ocr.Detection

	steps []workflow.Step
	last  time.Time
	text  []rune
	mods  []string
	down  *Event

	scrollDelta int
	scrollLast  time.Time
}

func (b *builder) add(s workflow.Step) {
	b.steps = append(b.steps, s)
}

func (b *builder) flush() {
	b.flushScroll()
	b.flushMods()
	b.flushText()
}

func (b *builder) flushText() {
	if len(b.text) > 0 {
		b.add(workflow.Step{Action: workflow.ActionTypeText, Value: string(b.text)})
		b.text = nil
	}
}

// flushMods emits modifiers pressed on their own, e.g. the launcher key.
func (b *builder) flushMods() {
	if len(b.mods) > 0 {
		b.flushText()
		b.add(workflow.Step{Action: workflow.ActionKeyCombo, Value: strings.Join(b.mods, "+")})
		b.mods = nil
	}
}

func (b *builder) flushScroll() {
	if b.scrollDelta != 0 {
		b.add(workflow.Step{Action: workflow.ActionScroll, Value: strconv.Itoa(b.scrollDelta)})
	}
	b.scrollDelta = 0
	b.scrollLast = time.Time{}
}

func (b *builder) key(e Event) {
	b.flushScroll()
	name := strings.ToLower(e.Key)
	if m, ok := modifierKeys[name]; ok {
		if !slices.Contains(b.mods, m) {
			b.mods = append(b.mods, m)
		}
		return
	}

	runes := []rune(e.Key)
	printable := name == "space" || (len(runes) == 1 && unicode.IsPrint(runes[0]))
	// only presses are reported, so a lone launcher key followed by text
	// reads as "open the launcher, then type"
	if printable && len(b.mods) == 1 && b.mods[0] == "super" {
		b.flushMods()
	}
	shiftOnly := len(b.mods) == 0 || (len(b.mods) == 1 && b.mods[0] == "shift")
	if printable && shiftOnly {
		if name == "space" {
			runes = []rune{' '}
		}
		b.text = append(b.text, runes...)
		b.mods = nil
		return
	}
	if name == "backspace" && len(b.mods) == 0 && len(b.text) > 0 {
		b.text = b.text[:len(b.text)-1]
		return
	}

	key, ok := specialKeys[name]
	if !ok {
		key = e.Key
		if printable {
			key = strings.ToLower(key)
		}
	}
	combo := strings.Join(append(slices.Clone(b.mods), key), "+")
	b.mods = nil
	b.flushText()
	b.add(workflow.Step{Action: workflow.ActionKeyCombo, Value: combo})
}

func (b *builder) scroll(e Event) {
	b.flushMods()
	b.flushText()
	if !b.scrollLast.IsZero() && e.Time.Sub(b.scrollLast) > pauseThreshold {
		b.flushScroll()
	}
	// listener dy is positive upwards, workflow deltas positive downwards
	b.scrollDelta -= e.DY
	b.scrollLast = e.Time
}

func (b *builder) click(down, up Event) {
	frame := b.frameAt(down.Time)
	from, to := down.Point(), up.Point()

	if geometry.Distance(from, to) > dragThreshold {
		s := workflow.Step{Action: workflow.ActionDrag}
		s.Target, s.ReferencePosition, s.VisualSignature = b.describe(frame, from)
		s.DropTarget, s.DropPosition, _ = b.describe(frame, to)
		b.add(s)
		return
	}
	s := workflow.Step{Action: workflow.ActionClickElement}
	s.Target, s.ReferencePosition, s.VisualSignature = b.describe(frame, from)
	b.add(s)
}

// frameAt returns the latest frame taken at or before t, or the first
// frame when the demonstration started before any capture.
func (b *builder) frameAt(t time.Time) *Frame {
	if len(b.frames) == 0 {
		return nil
	}
	i := sort.Search(len(b.frames), func(i int) bool { return b.frames[i].Time.After(t) })
	if i == 0 {
		return b.frames[0]
	}
	return b.frames[i-1]
}

func (b *builder) describe(frame *Frame, p image.Point) (string, *geometry.NormPoint, workflow.Signature) {
	if frame == nil {
		return fmt.Sprintf("element at pixel (%d,%d)", p.X, p.Y), nil, nil
	}
	bounds := frame.Image.Bounds()
	n := geometry.Normalize(p.Sub(bounds.Min), bounds.Size()).Rounded()
	region := geometry.RegionName(n)

	desc := "element near the " + region
	if text := b.nearestText(frame, p); text != "" {
		desc = fmt.Sprintf("%q near the %s", text, region)
	}

	crop := visual.Crop(frame.Image, geometry.RectAround(p, signatureSize, signatureSize, bounds))
	sig, err := visual.EncodePNG(crop)
	if err != nil {
		log.Printf("[recorder] signature for %v: %v", p, err)
		return desc, &n, nil
	}
	return desc, &n, sig
}

// nearestText prefers the smallest detection containing p, then the
// closest detection centre within maxTextDistance.
func (b *builder) nearestText(frame *Frame, p image.Point) string {
	if b.ocr == nil {
		return ""
	}
	dets, ok := b.detections[frame]
	if !ok {
		var err error
		dets, err = b.ocr.Detect(b.ctx, frame.Image)
		if err != nil {
			log.Printf("[recorder] ocr failed: %v", err)
		}
		b.detections[frame] = dets
	}

	best, bestArea := "", math.MaxInt
	for _, d := range dets {
		r := d.Bounds()
		if p.In(r) && r.Dx()*r.Dy() < bestArea {
			best, bestArea = d.Text, r.Dx()*r.Dy()
		}
	}
	if best != "" {
		return strings.TrimSpace(best)
	}

	bestDist := maxTextDistance
	for _, d := range dets {
		if dist := geometry.Distance(p, d.Center()); dist <= bestDist {
			best, bestDist = d.Text, dist
		}
	}
	return strings.TrimSpace(best)
}

// collapse folds launcher and address-bar key sequences into
// open_application and navigate steps.
func collapse(steps []workflow.Step) []workflow.Step {
	var out []workflow.Step
	for i := 0; i < len(steps); i++ {
		if i+2 < len(steps) &&
			steps[i+1].Action == workflow.ActionTypeText &&
			isCombo(steps[i+2], "Return") {
			switch {
			case isCombo(steps[i], "super"):
				out = append(out, workflow.Step{Action: workflow.ActionOpenApplication, Value: steps[i+1].Value})
				i += 2
				continue
			case isCombo(steps[i], "ctrl+l") && looksLikeURL(steps[i+1].Value):
				out = append(out, workflow.Step{Action: workflow.ActionNavigate, Value: steps[i+1].Value})
				i += 2
				continue
			}
		}
		out = append(out, steps[i])
	}
	return out
}

func isCombo(s workflow.Step, combo string) bool {
	return s.Action == workflow.ActionKeyCombo && s.Value == combo
}

func looksLikeURL(s string) bool {
	return !strings.ContainsAny(s, " \t") && (strings.Contains(s, "://") || strings.Contains(s, "."))
}

func parameterize(def *workflow.Definition, hints []ParamHint) error {
	for _, h := range hints {
		hint := h.TypeHint
		if hint == "" {
			hint = workflow.HintString
		}
		first := -1
		for i, s := range def.Steps {
			if h.Value == "" || s.Parameterizable || !s.Contains(h.Value) {
				continue
			}
			def.Steps[i].Parameterizable = true
			def.Steps[i].ParameterName = h.Name
			if first < 0 {
				first = i
			}
		}
		if first < 0 {
			return fmt.Errorf("parameter %q: example value %q does not appear in any step", h.Name, h.Value)
		}
		def.Parameters = append(def.Parameters, workflow.ParameterSpec{
			Name:            h.Name,
			ExampleValue:    h.Value,
			TypeHint:        hint,
			OriginatingStep: def.Steps[first].Sequence,
			Description:     h.Description,
		})
	}
	return nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(math.Round(d.Seconds()*10)/10, 'f', -1, 64)
}
