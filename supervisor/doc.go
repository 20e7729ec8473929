// Package supervisor owns the streaming state machine. It accepts one sender
// at a time through the transport package, runs every received frame through
// the processing pipeline and writes the result to the output router.
//
// # States
//
//	Idle -> Connecting -> Streaming -> Connecting (sender left) ...
//	Connecting | Streaming -> Error (listener or session failure)
//	any -> Idle (Stop)
//
// Start is first-writer-wins: a second call while a job is starting or
// running is ignored. Stop always releases the pipeline and the output,
// even when shutting the listener down fails.
//
// # Telemetry
//
// State, level, last error and mute are exposed as Observable values. A
// subscriber receives the current value immediately and afterwards only the
// latest value; intermediate updates are conflated.
//
//	sup := supervisor.New(pipeline, router)
//	states, cancel := sup.State().Subscribe()
//	defer cancel()
//	if err := sup.Start(ctx, req); err != nil {
//	    return err
//	}
//	for st := range states {
//	    log.Println(st)
//	}
package supervisor
