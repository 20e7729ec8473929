// Package output plays processed PCM16 audio into the virtual device.
//
// A Router picks a playback device when the first frame of a stream
// arrives: it prepares the platform's virtual device, tries the strategy's
// output targets in order and falls back to the system default. Audio is
// queued in a bounded ring buffer that the device callback drains; the
// queued duration feeds the pipeline's backlog control.
//
// Example:
//
//	backend, err := output.NewMalgoBackend()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer backend.Close()
//
//	router := output.NewRouter(backend, strategy)
//	if err := router.Init(ctx, 48000, 1); err != nil {
//		log.Fatal(err)
//	}
//	router.Write(frame.Buffer)
package output
