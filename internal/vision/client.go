// Package vision wraps a multimodal language model behind the narrow
// questions the engine and matcher ask: where is this element, which
// workflow fits this request, what parameters does it imply, and what text
// is on screen.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"image"
	"image/png"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/reenact/internal/geometry"
	"github.com/rahul/reenact/internal/matcher"
	"github.com/rahul/reenact/internal/ocr"
	"github.com/rahul/reenact/internal/resolve"
	"github.com/rahul/reenact/internal/workflow"
)

// LLMLogger records raw model exchanges.
type LLMLogger interface {
	LogLLM(call, runID string, prompt any, response string, toolCalls any)
}

type Option func(*Client)

func WithLogger(l LLMLogger) Option {
	return func(c *Client) { c.logger = l }
}

// Client implements resolve.SemanticLocator, matcher.Ranker,
// matcher.Extractor and ocr.Detector on top of one llms.Model.
type Client struct {
	Model   llms.Model
	Prompts *PromptManager
	logger  LLMLogger
	policy  *bluemonday.Policy
}

var (
	_ resolve.SemanticLocator = (*Client)(nil)
	_ matcher.Ranker          = (*Client)(nil)
	_ matcher.Extractor       = (*Client)(nil)
	_ ocr.Detector            = (*Client)(nil)
)

func New(model llms.Model, prompts *PromptManager, opts ...Option) *Client {
	if prompts == nil {
		prompts = NewPromptManager("")
	}
	c := &Client{Model: model, Prompts: prompts, policy: bluemonday.StrictPolicy()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// clean strips markup from user or catalog text before it enters a prompt.
func (c *Client) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.policy.Sanitize(s)))
}

type hintData struct {
	Region                 string
	MinX, MaxX, MinY, MaxY int
}

type locateData struct {
	Description string
	Hint        *hintData
}

var (
	foundRe = regexp.MustCompile(`(?im)^\W*FOUND:\W*(yes|no)`)
	xRe     = regexp.MustCompile(`(?im)^\W*X:\s*(\d+(?:\.\d+)?)`)
	yRe     = regexp.MustCompile(`(?im)^\W*Y:\s*(\d+(?:\.\d+)?)`)
	confRe  = regexp.MustCompile(`(?im)^\W*CONFIDENCE:\s*(\d+(?:\.\d+)?)`)
)

// Locate asks the model where description is on img.
func (c *Client) Locate(ctx context.Context, img image.Image, description string, hint *image.Rectangle) (resolve.SemanticResult, error) {
	data := locateData{Description: c.clean(description)}
	if hint != nil {
		screen := img.Bounds().Size()
		lo, hi := geometry.NormalizeRect(*hint, screen)
		data.Hint = &hintData{
			Region: geometry.RegionName(geometry.Normalize(geometry.Center(*hint), screen)),
			MinX:   int(lo.X),
			MaxX:   int(hi.X),
			MinY:   int(lo.Y),
			MaxY:   int(hi.Y),
		}
	}
	prompt, err := c.Prompts.Render("locate", data)
	if err != nil {
		return resolve.SemanticResult{}, err
	}
	shot, err := encodePNG(img)
	if err != nil {
		return resolve.SemanticResult{}, err
	}

	resp, err := c.generate(ctx, "locate", []llms.ContentPart{llms.TextPart(prompt), llms.BinaryPart("image/png", shot)})
	if err != nil {
		return resolve.SemanticResult{}, err
	}
	return parseLocate(resp.Content), nil
}

func parseLocate(text string) resolve.SemanticResult {
	m := foundRe.FindStringSubmatch(text)
	if m == nil || !strings.EqualFold(m[1], "yes") {
		return resolve.SemanticResult{}
	}
	x, okX := number(xRe, text)
	y, okY := number(yRe, text)
	if !okX || !okY {
		return resolve.SemanticResult{}
	}
	conf, ok := number(confRe, text)
	if !ok {
		conf = 50
	}
	if conf > 1 {
		conf /= 100
	}
	return resolve.SemanticResult{
		Found:      true,
		Position:   geometry.NormPoint{X: min(x, geometry.Scale), Y: min(y, geometry.Scale)},
		Confidence: min(max(conf, 0), 1),
	}
}

func number(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	return v, err == nil
}

type rankedWorkflow struct {
	Num     int
	Summary string
}

var rankTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "rank_workflows",
		Description: "Report how well each numbered workflow matches the user's request.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"rankings": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"workflow_num": map[string]any{"type": "integer"},
							"similarity":   map[string]any{"type": "number"},
						},
						"required": []string{"workflow_num", "similarity"},
					},
				},
			},
			"required": []string{"rankings"},
		},
	},
}

type rawRanking struct {
	WorkflowNum int     `json:"workflow_num"`
	Similarity  float64 `json:"similarity"`
}

// RankWorkflows scores each description against request. Indexes in the
// result refer to positions in descriptions.
func (c *Client) RankWorkflows(ctx context.Context, request string, descriptions []string) ([]matcher.Ranking, error) {
	items := make([]rankedWorkflow, len(descriptions))
	for i, d := range descriptions {
		items[i] = rankedWorkflow{Num: i + 1, Summary: c.clean(d)}
	}
	prompt, err := c.Prompts.Render("rank", map[string]any{"Request": c.clean(request), "Workflows": items})
	if err != nil {
		return nil, err
	}

	resp, err := c.generate(ctx, "rank", []llms.ContentPart{llms.TextPart(prompt)}, llms.WithTools([]llms.Tool{rankTool}))
	if err != nil {
		return nil, err
	}

	var raw []rawRanking
	if args, ok := toolArguments(resp, "rank_workflows"); ok {
		var wrapped struct {
			Rankings []rawRanking `json:"rankings"`
		}
		if err := json.Unmarshal([]byte(args), &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse rank_workflows arguments: %v", err)
		}
		raw = wrapped.Rankings
	} else if err := json.Unmarshal([]byte(extractJSON(resp.Content, '[', ']')), &raw); err != nil {
		return nil, fmt.Errorf("ranking response is not JSON: %v", err)
	}

	out := make([]matcher.Ranking, 0, len(raw))
	for _, r := range raw {
		out = append(out, matcher.Ranking{Index: r.WorkflowNum - 1, Similarity: min(max(r.Similarity, 0), 1)})
	}
	return out, nil
}

const notFound = "NOT_FOUND"

// ExtractParameters asks the model for a value per spec. Parameters the
// request does not mention are absent from the result.
func (c *Client) ExtractParameters(ctx context.Context, request string, specs []workflow.ParameterSpec) (map[string]string, error) {
	props := map[string]any{}
	names := make([]string, 0, len(specs))
	for _, p := range specs {
		props[p.Name] = map[string]any{
			"type":        "string",
			"description": fmt.Sprintf("%s value, e.g. %q, or %s", p.TypeHint, p.ExampleValue, notFound),
		}
		names = append(names, p.Name)
	}
	tool := llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "extract_parameters",
			Description: "Report the value the user wants for each workflow parameter.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": props,
				"required":   names,
			},
		},
	}

	prompt, err := c.Prompts.Render("extract", map[string]any{"Request": c.clean(request), "Parameters": specs})
	if err != nil {
		return nil, err
	}
	resp, err := c.generate(ctx, "extract", []llms.ContentPart{llms.TextPart(prompt)}, llms.WithTools([]llms.Tool{tool}))
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	args, ok := toolArguments(resp, "extract_parameters")
	if !ok {
		args = extractJSON(resp.Content, '{', '}')
	}
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse extracted parameters: %v", err)
	}

	out := make(map[string]string, len(specs))
	for _, p := range specs {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" || strings.EqualFold(s, notFound) {
			continue
		}
		out[p.Name] = s
	}
	return out, nil
}

type rawText struct {
	Text       string  `json:"text"`
	XPercent   float64 `json:"x_percent"`
	YPercent   float64 `json:"y_percent"`
	Confidence float64 `json:"confidence"`
}

// Detect uses the model as an OCR engine. Boxes are synthesized around the
// reported centres, 8px per character wide and 16px high.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]ocr.Detection, error) {
	prompt, err := c.Prompts.Render("ocr", nil)
	if err != nil {
		return nil, err
	}
	shot, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	resp, err := c.generate(ctx, "ocr", []llms.ContentPart{llms.TextPart(prompt), llms.BinaryPart("image/png", shot)})
	if err != nil {
		return nil, err
	}

	var raw []rawText
	if err := json.Unmarshal([]byte(extractJSON(resp.Content, '[', ']')), &raw); err != nil {
		return nil, fmt.Errorf("ocr response is not JSON: %v", err)
	}
	bounds := img.Bounds()
	dets := make([]ocr.Detection, 0, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		center := image.Pt(
			bounds.Min.X+int(r.XPercent/100*float64(bounds.Dx())),
			bounds.Min.Y+int(r.YPercent/100*float64(bounds.Dy())),
		)
		box := geometry.RectAround(center, 8*len([]rune(text)), 16, bounds)
		dets = append(dets, ocr.Detection{Text: text, Box: ocr.Quad(box), Confidence: min(max(r.Confidence, 0), 1)})
	}
	return dets, nil
}

func (c *Client) generate(ctx context.Context, call string, parts []llms.ContentPart, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	var messages []llms.MessageContent
	if system, err := c.Prompts.GetSystemPrompt(); err == nil {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})

	opts = append(opts, llms.WithTemperature(0))
	resp, err := c.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", call, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s query: empty response", call)
	}
	choice := resp.Choices[0]
	if c.logger != nil {
		c.logger.LogLLM(call, "", promptText(parts), choice.Content, choice.ToolCalls)
	}
	return choice, nil
}

// promptText drops binary parts so logged prompts stay small.
func promptText(parts []llms.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case llms.TextContent:
			b.WriteString(v.Text)
		case llms.BinaryContent:
			fmt.Fprintf(&b, "\n[%s, %d bytes]", v.MIMEType, len(v.Data))
		}
	}
	return b.String()
}

func toolArguments(choice *llms.ContentChoice, name string) (string, bool) {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == name {
			return tc.FunctionCall.Arguments, true
		}
	}
	return "", false
}

// extractJSON returns the outermost opening..closing span of s, which tolerates
// markdown fences and chatter around the payload.
func extractJSON(s string, opening, closing byte) string {
	start := strings.IndexByte(s, opening)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding screenshot: %w", err)
	}
	return buf.Bytes(), nil
}
