package cli

import "strings"

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// sparkline is a one-line scrolling chart, used to show the VU ramp shape in
// the progress line.
type sparkline struct {
	data  []uint64
	width int
}

func newSparkline(width int) *sparkline {
	return &sparkline{width: width, data: make([]uint64, 0, width)}
}

func (s *sparkline) add(v uint64) {
	s.data = append(s.data, v)
	if len(s.data) > s.width {
		s.data = s.data[len(s.data)-s.width:]
	}
}

// String scales the visible window to its own max and pads to width.
func (s *sparkline) String() string {
	if s.width <= 0 {
		return ""
	}
	var peak uint64
	for _, v := range s.data {
		peak = max(peak, v)
	}

	var b strings.Builder
	for _, v := range s.data {
		if peak == 0 {
			b.WriteString(levels[0])
			continue
		}
		idx := int(float64(v) / float64(peak) * float64(len(levels)-1))
		b.WriteString(levels[min(max(idx, 0), len(levels)-1)])
	}
	if pad := s.width - len(s.data); pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	return b.String()
}
