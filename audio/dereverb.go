package audio

import (
	"fmt"
	"math"
)

// Dereverb attenuates reverberant tails. Per channel it follows a fast and a
// slow amplitude envelope; when the fast envelope falls below the slow one
// the signal is decaying and is attenuated in proportion to the level.
type Dereverb struct {
	level      float64
	sampleRate int
	fastAlpha  float64
	slowAlpha  float64
	gainAlpha  float64
	channels   []dereverbState
}

type dereverbState struct {
	fast float64
	slow float64
	gain float64
}

// NewDereverb creates the dereverb stage with strength level in [0, 1].
func NewDereverb(level float64, sampleRate int) (*Dereverb, error) {
	d := &Dereverb{}
	if err := d.SetLevel(level); err != nil {
		return nil, err
	}
	d.SetSampleRate(sampleRate)
	return d, nil
}

// SetLevel updates the strength without resetting the envelopes.
func (d *Dereverb) SetLevel(level float64) error {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return fmt.Errorf("%w: dereverb level %.2f outside 0-1", ErrInvalidConfig, level)
	}
	d.level = level
	return nil
}

// SetSampleRate recomputes the envelope coefficients.
func (d *Dereverb) SetSampleRate(rate int) {
	if rate <= 0 {
		rate = 48000
	}
	if rate == d.sampleRate {
		return
	}
	d.sampleRate = rate
	coef := func(seconds float64) float64 {
		return 1 - math.Exp(-1/(seconds*float64(rate)))
	}
	d.fastAlpha = coef(0.005)
	d.slowAlpha = coef(0.2)
	d.gainAlpha = coef(0.002)
}

// Process attenuates decaying tails in place.
func (d *Dereverb) Process(samples []int16, channels int) ([]int16, error) {
	if channels <= 0 {
		channels = 1
	}
	if len(d.channels) != channels {
		d.channels = make([]dereverbState, channels)
		for i := range d.channels {
			d.channels[i].gain = 1
		}
	}
	minGain := 1 - 0.9*d.level
	for i, s := range samples {
		st := &d.channels[i%channels]
		x := math.Abs(float64(s))
		st.fast += d.fastAlpha * (x - st.fast)
		st.slow += d.slowAlpha * (x - st.slow)

		target := 1.0
		if st.slow > 1 && st.fast < st.slow {
			ratio := st.fast / st.slow
			target = math.Max(1-d.level*(1-ratio), minGain)
		}
		st.gain += d.gainAlpha * (target - st.gain)
		samples[i] = int16(math.Round(float64(s) * st.gain))
	}
	return samples, nil
}

// GetName returns the effect name for debugging and logging.
func (d *Dereverb) GetName() string {
	return fmt.Sprintf("Dereverb(%.2f)", d.level)
}

// Reset clears the envelopes.
func (d *Dereverb) Reset() {
	d.channels = nil
}

// Close releases effect resources (no-op for dereverb).
func (d *Dereverb) Close() error {
	return nil
}
