package board

import (
	"planboard/internal/timescale"
	logx "planboard/pkg/logx"
)

// Navigate moves the visible range. Gestures started before the change keep
// the scale they began with.
func (b *Board) Navigate(dir timescale.Direction) timescale.Scale {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setScaleLocked(b.scale.Navigate(dir, b.clock.Now()))
	return b.scale
}

// SetPreset switches the zoom level, keeping the current anchor.
func (b *Board) SetPreset(p timescale.Preset) (timescale.Scale, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scale.WithPreset(p)
	if err != nil {
		return b.scale, err
	}
	b.setScaleLocked(s)
	return s, nil
}

// SetWidth follows a resize of the rendering surface.
func (b *Board) SetWidth(width float64) (timescale.Scale, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, err := b.scale.WithWidth(width)
	if err != nil {
		return b.scale, err
	}
	b.setScaleLocked(s)
	return s, nil
}

func (b *Board) setScaleLocked(s timescale.Scale) {
	cfg := s.Config()
	b.scale = s
	b.ctl.SetScale(s)
	b.dirty = true
	b.log.Debug("scale changed",
		logx.String("preset", string(cfg.Preset)),
		logx.Time("start", cfg.RangeStart),
		logx.Time("end", cfg.RangeEnd),
	)
}
