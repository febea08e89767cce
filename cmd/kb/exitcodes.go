package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (unreadable or invalid config)
	ExitDataError   = 3 // Data error (unsupported format, empty query, unreadable document)
	ExitRemoteError = 4 // Generative or embedding service failure
)
