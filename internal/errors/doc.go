// Package errors provides structured, actionable errors for the mirror
// command and its configuration.
//
// Each error has a code (e.g., "E102") that maps to a category, a short
// message, an explanation and a documentation link. The CLI prints them
// with Format:
//
//	err := errors.New("E102").
//	    WithKey("server.heartbeat_interval").
//	    WithDetail("must not be shorter than one second").
//	    WithSuggestion("Use a duration such as 30s or 5m")
//
//	fmt.Print(err.Format())
//	// ERROR E102: Invalid configuration value
//	//
//	//   server.heartbeat_interval
//	//
//	//   must not be shorter than one second
//	//
//	//   Hint: Use a duration such as 30s or 5m
//
// Errors of the UI protocol itself travel as protocol.ErrorMessage, not
// through this package.
package errors
