// Package device manages the virtual audio device that exposes the received
// stream as a system microphone.
//
// One Strategy exists per operating system and is selected from the
// detected Platform:
//
//   - Windows uses the VB-Cable driver. When it is missing the installer is
//     taken from a configured path, the working directory, or the vendor's
//     driver pack, and run elevated. The cable's capture endpoint is made the
//     default for every role through IPolicyConfig.
//   - Linux builds a PipeWire graph of a null sink, a null source and a
//     loopback between them, then makes the source the default input.
//   - macOS relies on a preinstalled BlackHole device and switches the default
//     input with SwitchAudioSource, restoring the previous input on teardown.
//
// Every operation reports failure as an error or a Progress event; none of
// them panic. External programs run through a Runner so tests can script
// their output.
package device
