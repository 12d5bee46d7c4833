package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://github.com/vango-dev/mirror/blob/main/docs/errors.md#"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration errors (E100-E119)

	"E100": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "The configuration file given with --config does not exist.",
		DocURL:   docBase + "e100",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Failed to parse configuration",
		Detail:   "The configuration file is not valid YAML, or a value has the wrong type.",
		DocURL:   docBase + "e101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		DocURL:   docBase + "e102",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Unknown push mode or transport",
		Detail:   "Push mode must be disabled, manual or automatic. Transport must be websocket, websocket-xhr or long-polling.",
		DocURL:   docBase + "e103",
	},

	// Storage errors (E120-E139)

	"E120": {
		Category: CategoryStorage,
		Message:  "Failed to open session store",
		Detail:   "The session store could not be opened or its schema could not be created.",
		DocURL:   docBase + "e120",
	},
	"E121": {
		Category: CategoryStorage,
		Message:  "Unknown session store",
		Detail:   "The session store must be memory, sqlite:<path> or postgres:<dsn>.",
		DocURL:   docBase + "e121",
	},
	"E122": {
		Category: CategoryStorage,
		Message:  "Failed to open upload store",
		Detail:   "The upload directory could not be created, or the S3 client could not be configured.",
		DocURL:   docBase + "e122",
	},

	// Server errors (E140-E159)

	"E140": {
		Category: CategoryServer,
		Message:  "Failed to listen",
		Detail:   "The server could not bind its address. Another process may be using the port.",
		DocURL:   docBase + "e140",
	},
	"E141": {
		Category: CategoryServer,
		Message:  "Shutdown did not complete",
		Detail:   "Open UIs and connections were not closed within the shutdown timeout.",
		DocURL:   docBase + "e141",
	},

	// Protocol errors (E160-E179)

	"E160": {
		Category: CategoryProtocol,
		Message:  "Protocol version mismatch",
		Detail:   "The client and server use incompatible protocol versions.",
		DocURL:   docBase + "e160",
	},
	"E161": {
		Category: CategoryProtocol,
		Message:  "Session expired",
		Detail:   "The server no longer knows the UI. Open a new one.",
		DocURL:   docBase + "e161",
	},

	// CLI errors (E180-E199)

	"E180": {
		Category: CategoryCLI,
		Message:  "Invalid command-line flag",
		DocURL:   docBase + "e180",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
