package budget

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Weight is one category of a probability distribution.
type Weight struct {
	Key         string
	Probability float64
}

// Distribution keeps the order the categories arrived in, which decides who
// gets clipped when the budget runs out.
type Distribution []Weight

// UnmarshalJSON reads a JSON object while preserving member order.
func (d *Distribution) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*d = nil
		return nil
	}
	members := orderedmap.New[string, float64]()
	if err := json.Unmarshal(data, members); err != nil {
		return fmt.Errorf("decode distribution: %w", err)
	}
	out := make(Distribution, 0, members.Len())
	for pair := members.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Weight{Key: pair.Key, Probability: pair.Value})
	}
	*d = out
	return nil
}

func (d Distribution) MarshalJSON() ([]byte, error) {
	members := orderedmap.New[string, float64]()
	for _, w := range d {
		members.Set(w.Key, w.Probability)
	}
	return members.MarshalJSON()
}

// Argmax returns the most probable key. On ties the later key wins, as the
// classification screen has always picked it.
func (d Distribution) Argmax() (string, bool) {
	if len(d) == 0 {
		return "", false
	}
	best := d[0]
	for _, w := range d[1:] {
		if w.Probability >= best.Probability {
			best = w
		}
	}
	return best.Key, true
}

type Share struct {
	Key    string
	Points int
}

// Allocate converts a distribution into point writes. Each probability is
// rounded to the nearest point and written in order while the running total
// stays within Max. The first category that would overflow is clipped to
// what is left, if anything, and every category after it is dropped.
func Allocate(d Distribution) []Share {
	shares := make([]Share, 0, len(d))
	total := 0
	for _, w := range d {
		points := int(math.Round(w.Probability * Max))
		if total+points <= Max {
			shares = append(shares, Share{Key: w.Key, Points: points})
			total += points
			continue
		}
		if rest := Max - total; rest > 0 {
			shares = append(shares, Share{Key: w.Key, Points: rest})
		}
		break
	}
	return shares
}
