// Parses flags and configures logging for the builderd daemon.
//
// The daemon accepts the following flags:
//
//	-q, --quiet     Suppress informational output.
//	-d, --debug     Enable debug output.
//	-c, --config    Path to the configuration file.
//	-s, --socket    Unix socket path.
//
// Flags override build-time defaults set via linker flags. After parsing, the
// global logger is reconfigured to reflect the final level before the server
// starts.
package cli
