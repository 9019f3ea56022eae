// Package pipeline defines the ordered stages a build runs inside its
// sandbox.
//
// Each stage is a self-contained shell script executed in the sandbox work
// directory: unarchive the sources, optionally relay and seal them with
// the coordinating API, install the requested toolchain, compile, and
// normalize the output names. Scripts report failures through reserved
// exit codes so [Classify] can map an outcome onto the session failure
// taxonomy without parsing output.
package pipeline
