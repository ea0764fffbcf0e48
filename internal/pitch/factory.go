package pitch

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/edoardograci/track-loop-main/internal/exec"
)

// Options select and configure a Source.
type Options struct {
	Engine     string
	Params     Params
	Python     string
	ScriptsDir string

	// Output is the scratch file the script engine writes to.
	Output string
}

// NewSource returns the Source named by opts.Engine.
func NewSource(opts Options, runner exec.CommandRunner, log logrus.FieldLogger) (Source, error) {
	switch opts.Engine {
	case EngineScript, "":
		return &ScriptSource{
			Runner:     runner,
			Python:     opts.Python,
			ScriptsDir: opts.ScriptsDir,
			Output:     opts.Output,
			Params:     opts.Params,
			Log:        log,
		}, nil
	case EngineBuiltin:
		return NewBuiltinSource(opts.Params), nil
	default:
		return nil, fmt.Errorf("unknown pitch engine %q (must be %s or %s)", opts.Engine, EngineScript, EngineBuiltin)
	}
}
