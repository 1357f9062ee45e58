package app

import (
	"fmt"
	"strings"
)

// Command はauthgateのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"
	CommandWorker      Command = "worker"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ErrUnknownCommand は未知のサブコマンドを表す。
type ErrUnknownCommand struct {
	Name string
}

func (e *ErrUnknownCommand) Error() string {
	names := make([]string, len(knownCommands))
	for i, c := range knownCommands {
		names[i] = string(c)
	}
	return fmt.Sprintf("unknown command %q (available: %s)", e.Name, strings.Join(names, ", "))
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数が無ければ serve。2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}
	for _, c := range knownCommands {
		if Command(args[0]) == c {
			return c, nil
		}
	}
	return "", &ErrUnknownCommand{Name: args[0]}
}
