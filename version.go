// Package clipshrink holds build metadata shared by the binary and the API.
package clipshrink

// Version is the application version reported at startup and by /health.
const Version = "0.3.0"
