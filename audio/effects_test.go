package audio

import (
	"math"
	"testing"

	"github.com/opd-ai/micbridge/pcm"
	"pgregory.net/rapid"
)

// generateSineWave returns a mono sine of the given length and amplitude.
func generateSineWave(length int, amplitude int16) []int16 {
	samples := make([]int16, length)
	for i := range samples {
		samples[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*float64(i)/48))
	}
	return samples
}

func constantSamples(length int, value int16) []int16 {
	samples := make([]int16, length)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestGainEffect_NewGainEffect(t *testing.T) {
	tests := []struct {
		name    string
		gain    float64
		wantErr bool
	}{
		{name: "valid gain zero", gain: 0.0},
		{name: "valid gain unity", gain: 1.0},
		{name: "valid gain amplification", gain: 2.0},
		{name: "valid gain maximum", gain: MaxAmplification},
		{name: "invalid negative gain", gain: -0.5, wantErr: true},
		{name: "invalid too high gain", gain: 61.0, wantErr: true},
		{name: "invalid NaN gain", gain: math.NaN(), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, err := NewGainEffect(tt.gain)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewGainEffect() expected error for gain %f, got nil", tt.gain)
				}
				return
			}
			if err != nil {
				t.Errorf("NewGainEffect() unexpected error: %v", err)
				return
			}
			if effect.GetGain() != tt.gain {
				t.Errorf("NewGainEffect() gain = %f, want %f", effect.GetGain(), tt.gain)
			}
		})
	}
}

func TestGainEffect_Process(t *testing.T) {
	tests := []struct {
		name     string
		gain     float64
		input    []int16
		expected []int16
	}{
		{
			name:     "silence gain",
			gain:     0.0,
			input:    []int16{1000, -1000, 5000, -5000},
			expected: []int16{0, 0, 0, 0},
		},
		{
			name:     "unity gain",
			gain:     1.0,
			input:    []int16{1000, -1000, 5000, -5000},
			expected: []int16{1000, -1000, 5000, -5000},
		},
		{
			name:     "half gain",
			gain:     0.5,
			input:    []int16{1000, -1000, 2000, -2000},
			expected: []int16{500, -500, 1000, -1000},
		},
		{
			name:     "double gain",
			gain:     2.0,
			input:    []int16{1000, -1000, 2000, -2000},
			expected: []int16{2000, -2000, 4000, -4000},
		},
		{
			name:     "empty input",
			gain:     1.0,
			input:    []int16{},
			expected: []int16{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, err := NewGainEffect(tt.gain)
			if err != nil {
				t.Fatalf("NewGainEffect() error: %v", err)
			}

			result, err := effect.Process(tt.input, 1)
			if err != nil {
				t.Errorf("Process() error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("Process() result length = %d, want %d", len(result), len(tt.expected))
				return
			}

			for i, sample := range result {
				if sample != tt.expected[i] {
					t.Errorf("Process() sample[%d] = %d, want %d", i, sample, tt.expected[i])
				}
			}
		})
	}
}

func TestGainEffect_ProcessClipping(t *testing.T) {
	effect, err := NewGainEffect(60.0)
	if err != nil {
		t.Fatalf("NewGainEffect() error: %v", err)
	}

	input := []int16{16384, -16384, 32767, -32768, 600, -600}
	result, err := effect.Process(input, 2)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	expected := []int16{32767, -32768, 32767, -32768, 32767, -32768}
	for i, sample := range result {
		if sample != expected[i] {
			t.Errorf("Process() clipped sample[%d] = %d, want %d", i, sample, expected[i])
		}
	}
}

func TestGainEffect_SaturatesNeverWraps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		gain := rapid.Float64Range(0, MaxAmplification).Draw(t, "gain")
		samples := rapid.SliceOf(rapid.Int16()).Draw(t, "samples")

		effect, err := NewGainEffect(gain)
		if err != nil {
			t.Fatalf("NewGainEffect(%f) error: %v", gain, err)
		}
		input := append([]int16(nil), samples...)
		result, err := effect.Process(samples, 1)
		if err != nil {
			t.Fatalf("Process() error: %v", err)
		}
		for i, s := range result {
			want := pcm.ClampInt16(float64(input[i]) * gain)
			if s != want {
				t.Fatalf("sample %d: got %d, want %d", i, s, want)
			}
			if input[i] > 0 && s < 0 || input[i] < 0 && s > 0 {
				t.Fatalf("sample %d changed sign: %d -> %d", i, input[i], s)
			}
		}
	})
}

func TestGainEffect_SetGain(t *testing.T) {
	effect, err := NewGainEffect(1.0)
	if err != nil {
		t.Fatalf("NewGainEffect() error: %v", err)
	}

	for _, gain := range []float64{0.0, 0.5, 1.0, 2.0, 60.0} {
		if err := effect.SetGain(gain); err != nil {
			t.Errorf("SetGain(%f) unexpected error: %v", gain, err)
		}
		if effect.GetGain() != gain {
			t.Errorf("SetGain(%f) gain = %f, want %f", gain, effect.GetGain(), gain)
		}
	}

	for _, gain := range []float64{-0.1, 60.5} {
		if err := effect.SetGain(gain); err == nil {
			t.Errorf("SetGain(%f) expected error, got nil", gain)
		}
	}
}

func TestAutoGainEffect_Process(t *testing.T) {
	tests := []struct {
		name      string
		amplitude int16
		wantUp    bool
	}{
		{name: "quiet signal is amplified", amplitude: 1000, wantUp: true},
		{name: "loud signal is attenuated", amplitude: 30000, wantUp: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, err := NewAutoGainEffect(30)
			if err != nil {
				t.Fatalf("NewAutoGainEffect() error: %v", err)
			}
			for i := 0; i < 20; i++ {
				if _, err := effect.Process(generateSineWave(480, tt.amplitude), 1); err != nil {
					t.Fatalf("Process() error: %v", err)
				}
			}
			gain := effect.GetCurrentGain()
			if tt.wantUp && gain <= 1.0 {
				t.Errorf("gain = %f, want > 1", gain)
			}
			if !tt.wantUp && gain >= 1.0 {
				t.Errorf("gain = %f, want < 1", gain)
			}
		})
	}
}

func TestAutoGainEffect_RampHasNoSteps(t *testing.T) {
	effect, err := NewAutoGainEffect(80)
	if err != nil {
		t.Fatalf("NewAutoGainEffect() error: %v", err)
	}

	var previous int16 = 1000
	for buffer := 0; buffer < 50; buffer++ {
		out, err := effect.Process(constantSamples(480, 1000), 1)
		if err != nil {
			t.Fatalf("Process() error: %v", err)
		}
		for i, s := range out {
			diff := int(s) - int(previous)
			if diff > 2 || diff < -2 {
				t.Fatalf("buffer %d sample %d jumped from %d to %d", buffer, i, previous, s)
			}
			previous = s
		}
	}
	if effect.GetCurrentGain() <= 1.0 {
		t.Errorf("gain = %f, want > 1 for a quiet constant input", effect.GetCurrentGain())
	}
}

func TestAutoGainEffect_LinkedChannels(t *testing.T) {
	effect, err := NewAutoGainEffect(50)
	if err != nil {
		t.Fatalf("NewAutoGainEffect() error: %v", err)
	}

	input := make([]int16, 960)
	for i := 0; i < 480; i++ {
		input[2*i] = 2000
		input[2*i+1] = 1000
	}
	for i := 0; i < 10; i++ {
		out, err := effect.Process(append([]int16(nil), input...), 2)
		if err != nil {
			t.Fatalf("Process() error: %v", err)
		}
		for f := 0; f < 480; f++ {
			left, right := int(out[2*f]), int(out[2*f+1])
			if d := left - 2*right; d > 2 || d < -2 {
				t.Fatalf("frame %d: left %d right %d, channel ratio not preserved", f, left, right)
			}
		}
	}
}

func TestAutoGainEffect_SetTarget(t *testing.T) {
	effect, err := NewAutoGainEffect(0)
	if err != nil {
		t.Fatalf("NewAutoGainEffect() error: %v", err)
	}
	if err := effect.SetTarget(100); err != nil {
		t.Errorf("SetTarget(100) unexpected error: %v", err)
	}
	for _, target := range []int{-1, 101} {
		if err := effect.SetTarget(target); err == nil {
			t.Errorf("SetTarget(%d) expected error, got nil", target)
		}
	}
	if _, err := NewAutoGainEffect(150); err == nil {
		t.Error("NewAutoGainEffect(150) expected error, got nil")
	}
}

func TestAutoGainEffect_Reset(t *testing.T) {
	effect, _ := NewAutoGainEffect(100)
	for i := 0; i < 10; i++ {
		effect.Process(generateSineWave(480, 500), 1)
	}
	effect.Reset()
	if effect.GetCurrentGain() != 1.0 {
		t.Errorf("gain after Reset = %f, want 1.0", effect.GetCurrentGain())
	}
}

func TestEffectChain_Process(t *testing.T) {
	chain := NewEffectChain()
	gain1, _ := NewGainEffect(2.0)
	gain2, _ := NewGainEffect(0.5)
	chain.AddEffect(gain1)
	chain.AddEffect(gain2)

	if chain.GetEffectCount() != 2 {
		t.Fatalf("GetEffectCount() = %d, want 2", chain.GetEffectCount())
	}
	names := chain.GetEffectNames()
	if names[0] != "Gain(2.00)" || names[1] != "Gain(0.50)" {
		t.Errorf("GetEffectNames() = %v", names)
	}

	input := []int16{1000, -1000, 2000, -2000}
	result, err := chain.Process(input, 1)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	expected := []int16{1000, -1000, 2000, -2000}
	for i, sample := range result {
		if sample != expected[i] {
			t.Errorf("Process() sample[%d] = %d, want %d", i, sample, expected[i])
		}
	}
}

func TestEffectChain_ResetAndClose(t *testing.T) {
	agc, _ := NewAutoGainEffect(50)
	chain := NewEffectChain(agc)

	for i := 0; i < 10; i++ {
		chain.Process(generateSineWave(480, 500), 1)
	}
	chain.Reset()
	if agc.GetCurrentGain() != 1.0 {
		t.Errorf("gain after chain Reset = %f, want 1.0", agc.GetCurrentGain())
	}

	if err := chain.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if chain.GetEffectCount() != 1 {
		t.Errorf("GetEffectCount() after Close = %d, want 1", chain.GetEffectCount())
	}
}

func TestVoiceGate_OpensOnSpeech(t *testing.T) {
	gate, err := NewVoiceGate(10)
	if err != nil {
		t.Fatalf("NewVoiceGate() error: %v", err)
	}

	if _, err := gate.Process(generateSineWave(960, 10000), 1); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if gate.Closed() {
		t.Error("gate closed after loud input")
	}

	input := generateSineWave(960, 10000)
	out, _ := gate.Process(append([]int16(nil), input...), 1)
	for i := range out {
		if out[i] != input[i] {
			t.Fatalf("sample %d = %d, want %d once the gate is open", i, out[i], input[i])
		}
	}
}

func TestVoiceGate_SilenceStaysClosed(t *testing.T) {
	gate, _ := NewVoiceGate(10)
	out, _ := gate.Process(constantSamples(960, 3), 1)
	if !gate.Closed() {
		t.Error("gate open for input below threshold")
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %d, want 0", i, s)
		}
	}
}

func TestVoiceGate_HangoverThenClose(t *testing.T) {
	gate, _ := NewVoiceGate(10)
	gate.Process(generateSineWave(960, 10000), 1)

	quiet := constantSamples(FrameSize*(vadHangoverBlocks-1), 3)
	out, _ := gate.Process(append([]int16(nil), quiet...), 1)
	for i := range out {
		if out[i] != quiet[i] {
			t.Fatalf("sample %d attenuated during hangover", i)
		}
	}

	gate.Process(constantSamples(FrameSize*20, 3), 1)
	gate.Process(constantSamples(FrameSize, 3), 1)
	if !gate.Closed() {
		t.Error("gate still open after hangover and release ramp")
	}
}

func TestVoiceGate_ThresholdScale(t *testing.T) {
	gate, _ := NewVoiceGate(100)
	gate.Process(generateSineWave(960, 10000), 1)
	if !gate.Closed() {
		t.Error("threshold 100 opened for a -13 dBFS signal")
	}
	if _, err := NewVoiceGate(101); err == nil {
		t.Error("NewVoiceGate(101) expected error, got nil")
	}
}

func TestVoiceGate_SpeechProbabilityOverridesLevel(t *testing.T) {
	gate, _ := NewVoiceGate(10)

	gate.SetSpeechProbability(0.9, true)
	gate.Process(constantSamples(960, 3), 1)
	if gate.Closed() {
		t.Error("gate closed despite high speech probability")
	}

	loud, _ := NewVoiceGate(10)
	loud.SetSpeechProbability(0.0, true)
	loud.Process(generateSineWave(960, 10000), 1)
	if !loud.Closed() {
		t.Error("gate opened despite zero speech probability")
	}
}

func rms(samples []int16) float64 {
	return pcm.RMS(samples)
}

func TestDereverb_ZeroLevelIsIdentity(t *testing.T) {
	d, err := NewDereverb(0, 48000)
	if err != nil {
		t.Fatalf("NewDereverb() error: %v", err)
	}
	input := generateSineWave(4800, 12000)
	out, _ := d.Process(append([]int16(nil), input...), 1)
	for i := range out {
		if out[i] != input[i] {
			t.Fatalf("sample %d = %d, want %d", i, out[i], input[i])
		}
	}
}

func TestDereverb_AttenuatesTail(t *testing.T) {
	d, _ := NewDereverb(1, 48000)
	d.Process(generateSineWave(4800, 20000), 1)

	tail := generateSineWave(4800, 2000)
	out, _ := d.Process(append([]int16(nil), tail...), 1)
	if rms(out) >= 0.8*rms(tail) {
		t.Errorf("tail rms %.4f not reduced from %.4f", rms(out), rms(tail))
	}
}

func TestDereverb_InvalidLevel(t *testing.T) {
	for _, level := range []float64{-0.1, 1.1, math.NaN()} {
		if _, err := NewDereverb(level, 48000); err == nil {
			t.Errorf("NewDereverb(%f) expected error, got nil", level)
		}
	}
}

func BenchmarkGainEffect_Process(b *testing.B) {
	effect, _ := NewGainEffect(1.5)
	samples := generateSineWave(960, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		effect.Process(samples, 2)
	}
}

func BenchmarkAutoGainEffect_Process(b *testing.B) {
	effect, _ := NewAutoGainEffect(30)
	samples := generateSineWave(960, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		effect.Process(samples, 2)
	}
}
