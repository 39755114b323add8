// Package planner compiles source recordings and a user-chosen Settings
// record into a Plan that the ffmpeg package turns into a command line.
//
// Compilation is pure: the same sources, settings and stamp always yield
// the same Plan. Malformed settings degrade to defaults during decoding;
// the only compile failure is an empty source list.
package planner
