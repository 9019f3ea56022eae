// Package volume manages the fixed-capacity loop devices that back each
// build's private storage.
//
// A volume is an ext4-formatted backing file exposed as a loop device via
// udisks, sized so a runaway build fills its own disk instead of the
// host's. Volumes are provisioned fresh per session, released when the
// session ends, and swept at startup to reclaim anything an unclean
// shutdown left attached.
package volume
