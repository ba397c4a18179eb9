package desktop

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	display string
	name    string
	args    []string
}

type scripted struct {
	calls []call
	fail  map[string]error
	out   map[string][]byte
}

func (s *scripted) run(_ context.Context, display, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, call{display, name, args})
	if err := s.fail[name]; err != nil {
		return nil, err
	}
	if name == "scrot" {
		return nil, os.WriteFile(args[len(args)-1], s.out[name], 0o644)
	}
	return s.out[name], nil
}

func (s *scripted) last() string {
	c := s.calls[len(s.calls)-1]
	return c.name + " " + strings.Join(c.args, " ")
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestDispatchArguments(t *testing.T) {
	s := &scripted{}
	d := NewWithRunner("", s.run)
	ctx := context.Background()

	require.NoError(t, d.Click(ctx, image.Pt(450, 320)))
	assert.Equal(t, "xdotool mousemove 450 320 click 1", s.last())

	require.NoError(t, d.Type(ctx, "-DataVis"))
	assert.Equal(t, "xdotool type --delay 20 -- -DataVis", s.last())

	require.NoError(t, d.KeyCombo(ctx, "ctrl+l"))
	assert.Equal(t, "xdotool key --clearmodifiers ctrl+l", s.last())

	require.NoError(t, d.Scroll(ctx, image.Pt(10, 20), 5))
	assert.Equal(t, "xdotool mousemove 10 20 click --repeat 5 5", s.last())

	require.NoError(t, d.Scroll(ctx, image.Pt(10, 20), -3))
	assert.Equal(t, "xdotool mousemove 10 20 click --repeat 3 4", s.last())

	require.NoError(t, d.Drag(ctx, image.Pt(1, 2), image.Pt(3, 4)))
	assert.Equal(t, "xdotool mousemove 1 2 mousedown 1 mousemove --sync 3 4 mouseup 1", s.last())

	n := len(s.calls)
	require.NoError(t, d.Scroll(ctx, image.Pt(0, 0), 0))
	assert.Len(t, s.calls, n)

	assert.Error(t, d.Type(ctx, ""))
	assert.Error(t, d.KeyCombo(ctx, ""))

	for _, c := range s.calls {
		assert.Equal(t, ":0.0", c.display, c.name)
	}

	s.calls = nil
	require.NoError(t, NewWithRunner(":1", s.run).Click(ctx, image.Pt(5, 5)))
	require.Len(t, s.calls, 1)
	assert.Equal(t, ":1", s.calls[0].display)
}

func TestCapture_FFmpeg(t *testing.T) {
	s := &scripted{out: map[string][]byte{"ffmpeg": pngBytes(t, 64, 32)}}
	img, err := NewWithRunner(":1", s.run).Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())
	assert.Contains(t, s.last(), "-i :1")
}

func TestCapture_ScrotFallback(t *testing.T) {
	s := &scripted{
		fail: map[string]error{"ffmpeg": errors.New("no x11grab")},
		out:  map[string][]byte{"scrot": pngBytes(t, 8, 8)},
	}
	img, err := NewWithRunner("", s.run).Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	require.Len(t, s.calls, 2)
	assert.Equal(t, "scrot", s.calls[1].name)
	assert.Equal(t, ":0.0", s.calls[1].display)
}

func TestCapture_BothFail(t *testing.T) {
	s := &scripted{fail: map[string]error{"ffmpeg": errors.New("a"), "scrot": errors.New("b")}}
	_, err := NewWithRunner("", s.run).Capture(context.Background())
	assert.ErrorContains(t, err, "scrot: b")
}

func TestExecRunner_SetsDisplay(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	t.Setenv("DISPLAY", ":9")
	out, err := execRunner(context.Background(), ":1", "sh", "-c", `printf %s "$DISPLAY"`)
	require.NoError(t, err)
	assert.Equal(t, ":1", string(out))
}
