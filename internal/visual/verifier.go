package visual

import (
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
)

// DefaultChangeThreshold is the minimum number of differing hash bits
// counted as a visible change.
const DefaultChangeThreshold = 3

// Verdict is the outcome of comparing the screen before and after an action.
type Verdict struct {
	Changed  bool `json:"screen_changed"`
	Distance int  `json:"distance"`
}

// Verifier detects that something changed on screen. It does not prove the
// intended change happened; no change is a signal to retry.
type Verifier struct {
	Threshold int
}

func NewVerifier(threshold int) *Verifier {
	if threshold <= 0 {
		threshold = DefaultChangeThreshold
	}
	return &Verifier{Threshold: threshold}
}

// Verify hashes both states with a 256-bit difference hash.
func (v *Verifier) Verify(before, after image.Image) (Verdict, error) {
	if before == nil || after == nil {
		return Verdict{}, fmt.Errorf("verify: missing screen state")
	}
	if before.Bounds().Size() != after.Bounds().Size() {
		// resolution or window size changed
		return Verdict{Changed: true, Distance: -1}, nil
	}
	a, err := goimagehash.ExtDifferenceHash(before, 16, 16)
	if err != nil {
		return Verdict{}, fmt.Errorf("hashing before state: %w", err)
	}
	b, err := goimagehash.ExtDifferenceHash(after, 16, 16)
	if err != nil {
		return Verdict{}, fmt.Errorf("hashing after state: %w", err)
	}
	dist, err := a.Distance(b)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Changed: dist >= v.Threshold, Distance: dist}, nil
}
