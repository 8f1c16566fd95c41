package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"wgate/internal/apperr"
	"wgate/internal/logs"
)

// Result — итог выполнения команды.
type Result struct {
	Stdout  string
	Stderr  string
	Success bool
}

// Gateway исполняет шаблонные shell-команды (sudo wg ..., iptables ...).
type Gateway interface {
	Run(ctx context.Context, command string) Result
}

// Exec запускает команды через sh -c. Каждый вызов ограничен Timeout,
// зависшая команда не блокирует вызывающего бесконечно.
type Exec struct {
	Shell   string
	Timeout time.Duration
}

func NewExec(timeout time.Duration) *Exec {
	return &Exec{Shell: "/bin/sh", Timeout: timeout}
}

func (e *Exec) Run(ctx context.Context, command string) Result {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	sh := e.Shell
	if sh == "" {
		sh = "/bin/sh"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, sh, "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// потомки sh могут держать pipe открытым после kill
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	log := logs.Component("shell").WithField("cmd", command).WithField("dur", time.Since(start))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			stderr.WriteString("command timed out after " + e.Timeout.String())
		}
		log.WithError(err).Debug("command failed")
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), Success: false}
	}
	log.Trace("command ok")
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), Success: true}
}

// Require превращает неуспешный результат в SystemCommandError.
func Require(res Result, command string, hints ...string) (string, error) {
	if res.Success {
		return strings.TrimSpace(res.Stdout), nil
	}
	return "", &apperr.SystemCommandError{
		Command: command,
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
		Hints:   hints,
		Err:     errors.New("non-zero exit"),
	}
}

// Quote экранирует аргумент для sh.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]#~!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
