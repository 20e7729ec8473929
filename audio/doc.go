// Package audio provides the streaming DSP chain applied to microphone audio
// between the network and the output device.
//
// The processing pipeline:
//
//	PCM16 in → Noise Suppression → Dereverb → VAD Gate → AGC → Amplification → PCM16 out
//
// Each stage is an AudioEffect operating on interleaved int16 samples and is
// skipped entirely when disabled, so a pipeline with every stage off returns
// its input bit for bit.
//
// Noise suppression works on fixed sub-frames of FrameSize samples per
// channel. Each channel gets its own Denoiser handle, created lazily for the
// selected algorithm only:
//
//   - NoiseRecurrent: RNNoise when built with the "rnnoise" tag and cgo,
//     otherwise a pure-Go decision-directed Wiener filter. Both report a
//     speech probability that the VAD gate uses in place of its level test.
//   - NoiseSpectralModel: an ONNX mask model run through onnxruntime.
//   - NoiseClassical: spectral subtraction with a learned noise floor.
//
// Samples that do not fill a whole sub-frame are carried into the next call,
// so the pipeline may return fewer samples than it received. When noise
// suppression is switched off the carried samples are emitted unmodified
// ahead of the next buffer.
//
// Configuration updates are serialized with processing and take effect at
// the next frame boundary.
package audio
