// Package gpsbridge supervises an external position helper process.
//
// NMEA decoding stays outside the agent. Deployments without an MQTT-speaking
// GPS bridge can instead let the agent launch a helper (for example a gpsd
// client wrapped in a script) that prints one JSON fix per line on stdout:
//
//	{"latitude":51.5074,"longitude":-0.1278,"valid":true}
//
// Each line is handed to a LineHandler, which in cmd/shadow-agent delivers it
// to the control loop on the position topic. The supervisor:
//   - Restarts the helper on exit with exponential backoff
//   - Kills and restarts a helper that stops producing fixes
//   - Signals the whole process group on shutdown
//
// Example usage:
//
//	sup := gpsbridge.NewSupervisor(gpsbridge.Config{
//	    Command: "/usr/local/bin/gps-fix-stream",
//	    Args:    []string{"--device", "/dev/ttyS0"},
//	}, handler)
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package gpsbridge
