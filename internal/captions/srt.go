package captions

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// WriteSRT writes the groups as SubRip cues using their nominal ranges
func (tl Timeline) WriteSRT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, g := range tl.groups {
		if _, err := fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(g.Start), srtTimestamp(g.End), g.Text()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// srtTimestamp formats seconds as HH:MM:SS,mmm
func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}
