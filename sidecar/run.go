package sidecar

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
	"k8s.io/klog/v2"
)

// terminationGrace is how long a cancelled sidecar process group is given
// to exit after SIGTERM before the engine escalates to SIGKILL: a fixed,
// short grace period followed by an unconditional kill, recorded in
// DESIGN.md.
const terminationGrace = 3 * time.Second

// LineParser maps one line of sidecar stdout to at most one progress event
// and/or one log event. It must never panic; a parser bug must not corrupt
// the bus invariants (spec §9 "Progress-from-stdout coupling").
type LineParser func(line string) (*model.ProgressEvent, *model.LogEvent)

var percentPattern = regexp.MustCompile(`(\d{1,3})\s*%`)

// PercentProgressParser is the catalog default for families that report
// progress as a bare "NN%" token in their stdout (mkfs/fsck/resize
// binaries). It never returns a LogEvent, so Run's raw-line fallback still
// logs every line verbatim alongside whatever progress it extracts.
func PercentProgressParser(line string) (*model.ProgressEvent, *model.LogEvent) {
	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, nil
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil || pct < 0 || pct > 100 {
		return nil, nil
	}
	return &model.ProgressEvent{Percent: pct}, nil
}

// RunRequest describes a single sidecar invocation.
type RunRequest struct {
	Binary string
	Args   []string
	Source string // tag used on emitted LogEvents
	Parser LineParser
	Bus    *bus.Bus
}

// RunResult carries the sidecar's exit status and a tail of its stderr for
// error reporting (spec §7 SubprocessFailed{binary, exit, stderr_tail}).
type RunResult struct {
	ExitCode   int
	StderrTail string
	Cancelled  bool
}

// Run starts req.Binary in its own process group, streams its combined
// stdout/stderr through req.Parser, fanning decoded events out to req.Bus,
// and checks the bus cancel flag after every line. On cancellation it
// terminates the whole process group (spec §5 "sub-process invocations use
// process groups so cancellation can terminate the whole group").
func Run(ctx context.Context, req RunRequest) (RunResult, oxierr.DriverError) {
	cmd := exec.CommandContext(ctx, req.Binary, req.Args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{}, oxierr.ErrIO.Wrap(err)
	}
	cmd.Stderr = cmd.Stdout // combine; sidecars generally don't distinguish

	var stderrTail strings.Builder

	if err := cmd.Start(); err != nil {
		return RunResult{}, oxierr.SubprocessFailed(req.Binary, -1, err.Error())
	}

	cancelled := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		appendTail(&stderrTail, line)

		var progress *model.ProgressEvent
		var logEv *model.LogEvent
		if req.Parser != nil {
			progress, logEv = req.Parser(line)
		}
		if req.Bus != nil {
			if progress != nil {
				req.Bus.EmitProgress(*progress)
			}
			if logEv != nil {
				req.Bus.EmitLog(*logEv)
			} else {
				req.Bus.EmitLog(model.LogEvent{Source: req.Source, Line: line})
			}
		}

		if req.Bus != nil && req.Bus.Cancelled() {
			cancelled = true
			terminateProcessGroup(cmd, terminationGrace)
			break
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		klog.V(2).Infof("sidecar %s: stdout scan error: %s", req.Binary, err)
	}

	waitErr := cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail.String(),
		Cancelled:  cancelled,
	}

	if cancelled {
		return result, oxierr.ErrCancelled.WithMessage(req.Binary)
	}
	if exitCode != 0 {
		return result, oxierr.SubprocessFailed(req.Binary, exitCode, result.StderrTail)
	}
	return result, nil
}

func appendTail(b *strings.Builder, line string) {
	const maxTail = 4096
	b.WriteString(line)
	b.WriteByte('\n')
	if b.Len() > maxTail {
		s := b.String()
		b.Reset()
		b.WriteString(s[len(s)-maxTail:])
	}
}
