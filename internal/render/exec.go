package render

import "os/exec"

// commandContext is swapped in tests to avoid invoking poppler.
var commandContext = exec.CommandContext
