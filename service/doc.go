// Package service runs the acquisition daemon's long-lived work.
//
// BaseService supplies the lifecycle every service shares:
//   - states Stopped → Starting → Running → Stopping
//   - periodic health checks through a HealthCheckFunc
//   - service goroutines started with Go and awaited by Stop
//   - status gauges in the core metrics
//
// Acquisition builds on it. It owns one session.Session and, once started,
// drains complete batches from every channel on a fixed interval and hands
// them to each output.Sink:
//
//	acq, err := service.NewAcquisition(service.AcquisitionConfig{
//	    Channels:      []string{"analog:0", "digital:3"},
//	    DrainInterval: 50 * time.Millisecond,
//	}, service.AcquisitionDeps{
//	    Client:  client,
//	    Session: sess,
//	    Sinks:   []output.Sink{natsSink, wsSink},
//	})
//	if err != nil {
//	    return err
//	}
//	if err := acq.Start(ctx); err != nil {
//	    return err
//	}
//	defer acq.Stop(5 * time.Second)
//
// Start sends the configured graph template, sets the data connection
// timeout and activates the channels in order. A channel that cannot be
// activated is logged and reported as unhealthy; the others keep running.
//
// Sink failures never stop the loop. They are logged, counted per sink
// (SinkErrors) and recorded in the errors_total metric. Stop performs a last
// drain so buffered batches reach the sinks before they are closed.
//
// Manager runs a set of Components (anything with Start, Stop and Health).
// It starts them in registration order, stops them in reverse, and rolls
// back the started ones when a later Start fails.
package service
