package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
)

// Tesseract shells out to the tesseract CLI and groups its word-level TSV
// output into lines.
type Tesseract struct {
	Binary   string
	Language string
}

func NewTesseract(binary, lang string) *Tesseract {
	if binary == "" {
		binary = "tesseract"
	}
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{Binary: binary, Language: lang}
}

func (t *Tesseract) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return nil, fmt.Errorf("encoding capture: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.Binary, "stdin", "stdout", "-l", t.Language, "tsv")
	cmd.Stdin = &in
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return nil, fmt.Errorf("tesseract is not installed: %w", err)
		}
		return nil, fmt.Errorf("running tesseract: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseTSV(out)
}

type lineKey struct{ page, block, par, line int }

type lineAcc struct {
	words []string
	box   image.Rectangle
	conf  float64
}

// ParseTSV converts tesseract's TSV output into line detections. Word
// confidences (0..100) are averaged and scaled to 0..1.
func ParseTSV(data []byte) ([]Detection, error) {
	var (
		order []lineKey
		lines = make(map[lineKey]*lineAcc)
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		n, err := atois(cols[1:10])
		if err != nil {
			return nil, fmt.Errorf("parsing tesseract row %q: %w", sc.Text(), err)
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing tesseract confidence %q: %w", cols[10], err)
		}
		if conf < 0 {
			continue
		}

		key := lineKey{n[0], n[1], n[2], n[3]}
		box := image.Rect(n[5], n[6], n[5]+n[7], n[6]+n[8])
		acc, ok := lines[key]
		if !ok {
			acc = &lineAcc{box: box}
			lines[key] = acc
			order = append(order, key)
		}
		acc.words = append(acc.words, text)
		acc.box = acc.box.Union(box)
		acc.conf += conf
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	dets := make([]Detection, 0, len(order))
	for _, k := range order {
		acc := lines[k]
		dets = append(dets, Detection{
			Text:       strings.Join(acc.words, " "),
			Box:        Quad(acc.box),
			Confidence: acc.conf / float64(len(acc.words)) / 100,
		})
	}
	return dets, nil
}

func atois(cols []string) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		v, err := strconv.Atoi(c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
