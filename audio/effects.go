package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/opd-ai/micbridge/pcm"
	"github.com/sirupsen/logrus"
)

// MaxAmplification is the largest linear gain the amplifier accepts.
const MaxAmplification = 60.0

// AudioEffect defines the interface for one stage of the processing pipeline.
//
// Effects process interleaved PCM samples in-place or return new samples.
// An effect may return fewer samples than it received when it buffers
// internally. Effects are not safe for concurrent use; the Pipeline
// serializes all calls.
type AudioEffect interface {
	// Process applies the effect to interleaved samples with the given channel count
	Process(samples []int16, channels int) ([]int16, error)

	// GetName returns a human-readable name for the effect
	GetName() string

	// Reset clears adaptive state without releasing heavy resources
	Reset()

	// Close releases any resources used by the effect
	Close() error
}

// GainEffect implements linear amplification with saturation.
//
// Gain values: 0.0 = silence, 1.0 = no change, up to MaxAmplification.
// Each output sample is clamped to the int16 range, so large gains saturate
// instead of wrapping.
type GainEffect struct {
	gain float64
}

// NewGainEffect creates a new gain control effect.
//
// Parameters:
//   - gain: Linear gain multiplier (0.0 = silence, 1.0 = unity, 60.0 = +35.6dB)
//
// Returns:
//   - *GainEffect: New gain effect instance
//   - error: Validation error if gain is invalid
func NewGainEffect(gain float64) (*GainEffect, error) {
	if err := validateGain(gain); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewGainEffect",
			"gain":     gain,
			"error":    err.Error(),
		}).Error("Gain validation failed")
		return nil, err
	}
	return &GainEffect{gain: gain}, nil
}

func validateGain(gain float64) error {
	if math.IsNaN(gain) || gain < 0.0 {
		return fmt.Errorf("%w: gain cannot be negative: %f", ErrInvalidConfig, gain)
	}
	if gain > MaxAmplification {
		return fmt.Errorf("%w: gain too high (max %.0f): %f", ErrInvalidConfig, MaxAmplification, gain)
	}
	return nil
}

// Process multiplies each sample by the gain factor with clipping protection.
func (g *GainEffect) Process(samples []int16, _ int) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}

	clippedCount := 0
	for i, sample := range samples {
		floatSample := float64(sample) * g.gain
		if floatSample > math.MaxInt16 || floatSample < math.MinInt16 {
			clippedCount++
		}
		samples[i] = pcm.ClampInt16(floatSample)
	}

	if clippedCount > 0 {
		logrus.WithFields(logrus.Fields{
			"function":      "GainEffect.Process",
			"clipped_count": clippedCount,
			"total_samples": len(samples),
			"gain":          g.gain,
		}).Debug("Audio clipping during amplification")
	}

	return samples, nil
}

// GetName returns the effect name for debugging and logging.
func (g *GainEffect) GetName() string {
	return fmt.Sprintf("Gain(%.2f)", g.gain)
}

// SetGain updates the gain value.
func (g *GainEffect) SetGain(gain float64) error {
	if err := validateGain(gain); err != nil {
		return err
	}
	g.gain = gain
	return nil
}

// GetGain returns the current gain value.
func (g *GainEffect) GetGain() float64 {
	return g.gain
}

// Reset is a no-op; the gain effect holds no adaptive state.
func (g *GainEffect) Reset() {}

// Close releases effect resources (no-op for gain effect).
func (g *GainEffect) Close() error {
	return nil
}

// AutoGainEffect implements automatic gain control (AGC).
//
// Uses a peak-following algorithm: the smoothed peak level sets a desired
// gain, the applied gain moves toward it at bounded attack and release
// rates, and within each buffer the gain ramps linearly from its previous
// value so no step appears at buffer or configuration boundaries. All
// channels share one gain so the stereo image is preserved.
type AutoGainEffect struct {
	targetLevel float64 // Target peak level (0.0 to 1.0)
	currentGain float64 // Gain applied at the end of the previous buffer
	peakLevel   float64 // Smoothed peak level
	attackRate  float64 // Rate of gain increase (per sample frame)
	releaseRate float64 // Rate of gain decrease (per sample frame)
	minGain     float64 // Minimum gain limit
	maxGain     float64 // Maximum gain limit
}

// NewAutoGainEffect creates a new automatic gain control effect.
//
// Parameters:
//   - target: loudness target on a 0-100 scale
//
// Returns:
//   - *AutoGainEffect: New AGC effect instance
//   - error: Validation error if target is out of range
func NewAutoGainEffect(target int) (*AutoGainEffect, error) {
	agc := &AutoGainEffect{
		currentGain: 1.0,
		attackRate:  0.0001,
		releaseRate: 0.0005,
		minGain:     0.1,
		maxGain:     8.0,
	}
	if err := agc.SetTarget(target); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewAutoGainEffect",
		"target_level": agc.targetLevel,
		"min_gain":     agc.minGain,
		"max_gain":     agc.maxGain,
	}).Debug("Auto gain control effect created")

	return agc, nil
}

// targetLevelFor maps the 0-100 scale to a peak level between -30 dBFS and -1 dBFS.
func targetLevelFor(target int) float64 {
	db := -30.0 + 29.0*float64(target)/100.0
	return math.Pow(10, db/20)
}

// SetTarget updates the loudness target. The applied gain is kept, so the
// change takes effect gradually.
func (a *AutoGainEffect) SetTarget(target int) error {
	if target < 0 || target > 100 {
		return fmt.Errorf("%w: agc target %d outside 0-100", ErrInvalidConfig, target)
	}
	a.targetLevel = targetLevelFor(target)
	return nil
}

// Process applies automatic gain control to interleaved samples.
func (a *AutoGainEffect) Process(samples []int16, channels int) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels

	peak := a.calculatePeakLevel(samples)
	a.smoothPeakLevel(peak)

	desiredGain := a.limitGainToSafeRange(a.calculateDesiredGain())

	startGain := a.currentGain
	a.smoothGainChanges(desiredGain, frames)
	a.applyGainRamp(samples, channels, startGain, a.currentGain)

	return samples, nil
}

// calculatePeakLevel computes the peak audio level in the current buffer.
func (a *AutoGainEffect) calculatePeakLevel(samples []int16) float64 {
	var peak float64
	for _, sample := range samples {
		absSample := math.Abs(float64(sample) / 32768.0)
		if absSample > peak {
			peak = absSample
		}
	}
	return peak
}

// smoothPeakLevel applies fast attack and slow release to the peak level.
func (a *AutoGainEffect) smoothPeakLevel(peak float64) {
	if peak > a.peakLevel {
		a.peakLevel += (peak - a.peakLevel) * 0.5
	} else {
		a.peakLevel += (peak - a.peakLevel) * 0.05
	}
}

// calculateDesiredGain determines the target gain based on current peak level.
// Near-silent input holds the current gain rather than pumping up noise.
func (a *AutoGainEffect) calculateDesiredGain() float64 {
	if a.peakLevel > 0.001 {
		return a.targetLevel / a.peakLevel
	}
	return a.currentGain
}

// limitGainToSafeRange constrains the desired gain within configured limits.
func (a *AutoGainEffect) limitGainToSafeRange(desiredGain float64) float64 {
	if desiredGain < a.minGain {
		return a.minGain
	} else if desiredGain > a.maxGain {
		return a.maxGain
	}
	return desiredGain
}

// smoothGainChanges moves the current gain toward the desired gain.
// Reductions are faster than increases to catch sudden loud input.
func (a *AutoGainEffect) smoothGainChanges(desiredGain float64, frameCount int) {
	if desiredGain > a.currentGain {
		a.currentGain += a.attackRate * float64(frameCount)
		if a.currentGain > desiredGain {
			a.currentGain = desiredGain
		}
	} else {
		a.currentGain -= a.releaseRate * float64(frameCount)
		if a.currentGain < desiredGain {
			a.currentGain = desiredGain
		}
	}
}

// applyGainRamp interpolates the gain linearly across the buffer.
func (a *AutoGainEffect) applyGainRamp(samples []int16, channels int, from, to float64) {
	frames := len(samples) / channels
	if frames == 0 {
		return
	}
	step := (to - from) / float64(frames)
	gain := from
	for f := 0; f < frames; f++ {
		gain += step
		base := f * channels
		for c := 0; c < channels; c++ {
			samples[base+c] = pcm.ClampInt16(float64(samples[base+c]) * gain)
		}
	}
}

// GetName returns the effect name for debugging and logging.
func (a *AutoGainEffect) GetName() string {
	return fmt.Sprintf("AutoGain(%.2f)", a.currentGain)
}

// GetCurrentGain returns the current gain being applied.
func (a *AutoGainEffect) GetCurrentGain() float64 {
	return a.currentGain
}

// Reset returns the AGC to unity gain with no peak history.
func (a *AutoGainEffect) Reset() {
	a.currentGain = 1.0
	a.peakLevel = 0
}

// Close releases effect resources (no-op for AGC effect).
func (a *AutoGainEffect) Close() error {
	return nil
}

// EffectChain manages a sequence of audio effects.
//
// Processes audio through multiple effects in order. Effects are applied
// sequentially and an error stops processing immediately.
type EffectChain struct {
	effects []AudioEffect
}

// NewEffectChain creates a new audio effect chain.
func NewEffectChain(effects ...AudioEffect) *EffectChain {
	return &EffectChain{
		effects: append(make([]AudioEffect, 0, len(effects)), effects...),
	}
}

// AddEffect adds an effect to the end of the processing chain.
func (e *EffectChain) AddEffect(effect AudioEffect) {
	e.effects = append(e.effects, effect)
}

// Process applies all effects in the chain sequentially.
//
// Parameters:
//   - samples: Input interleaved PCM samples to process
//   - channels: Channel count of the interleaved samples
//
// Returns:
//   - []int16: Processed samples after all effects
//   - error: First error encountered during processing
func (e *EffectChain) Process(samples []int16, channels int) ([]int16, error) {
	currentSamples := samples
	for i, effect := range e.effects {
		processedSamples, err := effect.Process(currentSamples, channels)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "EffectChain.Process",
				"effect_index": i,
				"effect_name":  effect.GetName(),
				"error":        err.Error(),
			}).Error("Effect processing failed")
			return nil, fmt.Errorf("effect %d (%s) failed: %w", i, effect.GetName(), err)
		}
		currentSamples = processedSamples
	}
	return currentSamples, nil
}

// GetEffectCount returns the number of effects in the chain.
func (e *EffectChain) GetEffectCount() int {
	return len(e.effects)
}

// GetEffectNames returns the names of all effects in the chain.
func (e *EffectChain) GetEffectNames() []string {
	names := make([]string, len(e.effects))
	for i, effect := range e.effects {
		names[i] = effect.GetName()
	}
	return names
}

// Reset resets every effect in the chain.
func (e *EffectChain) Reset() {
	for _, effect := range e.effects {
		effect.Reset()
	}
}

// Close releases the resources of every effect in the chain. The effects
// stay in the chain; those that allocate on demand remain usable.
func (e *EffectChain) Close() error {
	var errs []error
	for i, effect := range e.effects {
		if err := effect.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "EffectChain.Close",
				"effect_index": i,
				"effect_name":  effect.GetName(),
				"error":        err.Error(),
			}).Error("Failed to close effect")
			errs = append(errs, fmt.Errorf("effect %d (%s) close failed: %w", i, effect.GetName(), err))
		}
	}
	return errors.Join(errs...)
}
