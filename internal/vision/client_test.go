package vision

import (
	"context"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/reenact/internal/geometry"
	"github.com/rahul/reenact/internal/workflow"
)

// fakeModel answers every call with a fixed choice and keeps the messages.
type fakeModel struct {
	choice   llms.ContentChoice
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	c := f.choice
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{&c}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeModel) humanText() string {
	var b strings.Builder
	for _, m := range f.messages {
		if m.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				b.WriteString(t.Text)
			}
		}
	}
	return b.String()
}

func (f *fakeModel) hasImage() bool {
	for _, m := range f.messages {
		for _, p := range m.Parts {
			if b, ok := p.(llms.BinaryContent); ok && b.MIMEType == "image/png" && len(b.Data) > 0 {
				return true
			}
		}
	}
	return false
}

type logged struct {
	calls []string
}

func (l *logged) LogLLM(call, _ string, _ any, _ string, _ any) {
	l.calls = append(l.calls, call)
}

func toolChoice(name, args string) llms.ContentChoice {
	return llms.ContentChoice{ToolCalls: []llms.ToolCall{{
		ID:           "call_1",
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}}}
}

func capture() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 1000, 500))
}

func TestLocate(t *testing.T) {
	m := &fakeModel{choice: llms.ContentChoice{Content: "FOUND: yes\nX: 234\nY: 296\nCONFIDENCE: 85"}}
	log := &logged{}
	c := New(m, nil, WithLogger(log))

	hint := image.Rect(0, 0, 500, 250)
	res, err := c.Locate(context.Background(), capture(), "link <b>Machine Learning</b>", &hint)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, geometry.NormPoint{X: 234, Y: 296}, res.Position)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)

	prompt := m.humanText()
	assert.Contains(t, prompt, `"link Machine Learning"`)
	assert.Contains(t, prompt, "top-left")
	assert.True(t, m.hasImage())
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	assert.Equal(t, []string{"locate"}, log.calls)
}

func TestParseLocate(t *testing.T) {
	assert.False(t, parseLocate("FOUND: no").Found)
	assert.False(t, parseLocate("FOUND: yes\nX: 10").Found)
	assert.False(t, parseLocate("I could not find it").Found)

	res := parseLocate("**FOUND:** Yes\nX: 1200\nY: 40.5")
	assert.True(t, res.Found)
	assert.Equal(t, 1000.0, res.Position.X)
	assert.Equal(t, 40.5, res.Position.Y)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestRankWorkflows_ToolCall(t *testing.T) {
	m := &fakeModel{choice: toolChoice("rank_workflows", `{"rankings":[{"workflow_num":1,"similarity":0.2},{"workflow_num":2,"similarity":1.4}]}`)}
	c := New(m, nil)

	got, err := c.RankWorkflows(context.Background(), "open DataVis", []string{"send email", "open course: open a course page"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, 1.0, got[1].Similarity)
	assert.Contains(t, m.humanText(), "2. open course: open a course page")
	require.Len(t, m.opts.Tools, 1)
	assert.Equal(t, "rank_workflows", m.opts.Tools[0].Function.Name)
}

func TestRankWorkflows_JSONFallback(t *testing.T) {
	m := &fakeModel{choice: llms.ContentChoice{Content: "```json\n[{\"workflow_num\": 1, \"similarity\": 0.55}]\n```"}}
	got, err := New(m, nil).RankWorkflows(context.Background(), "x", []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.55, got[0].Similarity)

	m.choice = llms.ContentChoice{Content: "no idea"}
	_, err = New(m, nil).RankWorkflows(context.Background(), "x", []string{"a"})
	assert.Error(t, err)
}

func TestExtractParameters(t *testing.T) {
	specs := []workflow.ParameterSpec{
		{Name: "course_name", ExampleValue: "Machine Learning", TypeHint: workflow.HintString},
		{Name: "zoom", ExampleValue: "110", TypeHint: workflow.HintNumber},
		{Name: "url", ExampleValue: "https://a.b", TypeHint: workflow.HintURL},
	}
	m := &fakeModel{choice: toolChoice("extract_parameters", `{"course_name":" DataVis ","zoom":125,"url":"NOT_FOUND"}`)}

	got, err := New(m, nil).ExtractParameters(context.Background(), "open DataVis at 125%", specs)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"course_name": "DataVis", "zoom": "125"}, got)
	assert.Contains(t, m.humanText(), `course_name (string)`)

	m.choice = llms.ContentChoice{Content: `Sure: {"course_name": "Stats"}`}
	got, err = New(m, nil).ExtractParameters(context.Background(), "open Stats", specs)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"course_name": "Stats"}, got)
}

func TestDetect(t *testing.T) {
	m := &fakeModel{choice: llms.ContentChoice{Content: `[{"text":"Machine Learning","x_percent":45,"y_percent":64,"confidence":0.9},{"text":"  ","x_percent":1,"y_percent":1,"confidence":1}]`}}
	dets, err := New(m, nil).Detect(context.Background(), capture())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "Machine Learning", dets[0].Text)
	assert.Equal(t, image.Pt(450, 320), dets[0].Center())
	assert.Equal(t, 128, dets[0].Bounds().Dx())
	assert.Equal(t, 16, dets[0].Bounds().Dy())
	assert.True(t, m.hasImage())
}
