package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// PathPlaceholder in a command argument is replaced by the file path. Without
// it, the path is appended as the last argument.
const PathPlaceholder = "{path}"

// ErrNoPlayer is returned when no player program is configured or found.
var ErrNoPlayer = errors.New("no audio player command available")

// linuxPlayers are tried in order on Linux and other Unix systems.
var linuxPlayers = [][]string{
	{"paplay"},
	{"aplay", "-q"},
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
}

// CommandPlayer runs an external program per file and waits for it to exit.
type CommandPlayer struct {
	argv []string
}

// NewCommandPlayer uses argv, or the platform default player when argv is empty.
func NewCommandPlayer(argv []string) (*CommandPlayer, error) {
	if len(argv) == 0 {
		detected, err := DefaultCommand(runtime.GOOS, exec.LookPath)
		if err != nil {
			return nil, err
		}

		argv = detected
	}

	if strings.TrimSpace(argv[0]) == "" {
		return nil, ErrNoPlayer
	}

	return &CommandPlayer{argv: argv}, nil
}

// Command returns the argv used for path.
func (p *CommandPlayer) Command(path string) []string {
	args := make([]string, 0, len(p.argv)+1)
	substituted := false

	for _, arg := range p.argv {
		if strings.Contains(arg, PathPlaceholder) {
			arg = strings.ReplaceAll(arg, PathPlaceholder, path)
			substituted = true
		}

		args = append(args, arg)
	}

	if !substituted {
		args = append(args, path)
	}

	return args
}

// Play runs the player on path and returns once it exits.
func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	args := p.Command(path)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			return fmt.Errorf("audio player %s failed: %w: %s", args[0], err, detail)
		}

		return fmt.Errorf("audio player %s failed: %w", args[0], err)
	}

	return nil
}

// DefaultCommand picks the player for goos, checking availability with lookPath.
func DefaultCommand(goos string, lookPath func(string) (string, error)) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{"afplay"}, nil
	case "windows":
		return []string{
			"powershell", "-NoProfile", "-NonInteractive", "-Command",
			"(New-Object Media.SoundPlayer '" + PathPlaceholder + "').PlaySync()",
		}, nil
	default:
		for _, candidate := range linuxPlayers {
			_, err := lookPath(candidate[0])
			if err == nil {
				return candidate, nil
			}
		}

		return nil, fmt.Errorf("%w: install one of paplay, aplay or ffplay", ErrNoPlayer)
	}
}
