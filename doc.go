// Package micbridge turns an Android phone running the MicYou app into a
// microphone for this computer.
//
// The phone connects over Wi-Fi, Bluetooth RFCOMM or USB (through an adb
// reverse tunnel) and streams PCM audio. micbridge cleans the audio up with
// an optional DSP chain and plays it into a virtual audio device: VB-Cable on
// Windows, a PipeWire null sink and source on Linux, BlackHole on macOS.
// Applications then record from the virtual device like any other input.
//
// # Getting Started
//
//	cfg := config.Default()
//	bridge, err := micbridge.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bridge.Close(context.Background())
//
//	// One-time setup of the virtual device.
//	for p := range bridge.Strategy().Install(ctx) {
//	    fmt.Println(p.Message)
//	}
//
//	if err := bridge.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	states, cancel := bridge.Supervisor().State().Subscribe()
//	defer cancel()
//	for st := range states {
//	    fmt.Println("state:", st)
//	}
//
// # Packages
//
//   - transport: handshake, framing, resync and the listeners
//   - audio: noise suppression, AGC, VAD, dereverb and amplification
//   - device: per-OS virtual device strategies
//   - output: playback device selection and buffering
//   - supervisor: the streaming state machine and telemetry
//   - config, observe: settings and metrics
//
// The cmd/micbridge command wraps all of this in a CLI.
package micbridge
