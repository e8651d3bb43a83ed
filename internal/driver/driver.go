package driver

// FailureKind classifies why a capture failed. It is a closed set; the
// coordinator maps each kind to a snapshot status without inspecting
// protocol-level detail.
type FailureKind string

const (
	FailureAuth       FailureKind = "auth"
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureEnable     FailureKind = "enable_failed"
	FailureOther      FailureKind = "other"
)

// CaptureResult is the outcome of a single capture attempt. Either Success
// is true and Config holds the raw configuration text, or Success is false
// and ErrorKind/ErrorMessage describe the typed failure. Duration is always
// populated.
type CaptureResult struct {
	Success      bool
	Config       string
	VendorInfo   map[string]string
	Duration     float64 // Seconds
	ErrorKind    FailureKind
	ErrorMessage string
}

// CommandSet is the sequence of commands used to capture a configuration.
// Pre commands set up the terminal (paging off), Backup commands produce the
// configuration text, Post commands clean up.
type CommandSet struct {
	Pre    []string
	Backup []string
	Post   []string

	// EnableCommand is sent before the backup commands when the device
	// requires privileged mode; empty means no enable step.
	EnableCommand string

	// InfoCommands collect vendor metadata, keyed by metadata field name.
	InfoCommands map[string]string
}

// DefaultCommands returns the built-in command set for a vendor. Unknown
// vendors get a generic single-command capture.
func DefaultCommands(vendor string) CommandSet {
	switch vendor {
	case "cisco":
		return CommandSet{
			Pre:           []string{"terminal length 0"},
			Backup:        []string{"show running-config"},
			EnableCommand: "enable",
			InfoCommands:  map[string]string{"version": "show version | include Version"},
		}
	case "arista":
		return CommandSet{
			Pre:           []string{"terminal length 0"},
			Backup:        []string{"show running-config"},
			EnableCommand: "enable",
			InfoCommands:  map[string]string{"version": "show version | include Software"},
		}
	case "juniper":
		return CommandSet{
			Pre:    []string{"set cli screen-length 0"},
			Backup: []string{"show configuration | display set"},
		}
	case "fortinet":
		return CommandSet{
			Backup: []string{"show full-configuration"},
		}
	case "paloalto":
		return CommandSet{
			Pre:    []string{"set cli pager off"},
			Backup: []string{"show config running"},
		}
	case "mikrotik":
		return CommandSet{
			Backup: []string{"/export"},
		}
	default:
		return CommandSet{
			Backup: []string{"show running-config"},
		}
	}
}

// Driver is the capture capability the coordinator depends on. The concrete
// implementation owns its own connection-level timeouts and must always
// return within a bounded time.
type Driver interface {
	Capture() CaptureResult
}
