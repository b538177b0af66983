package app

import (
	"fmt"
	"strings"
)

// Command はiceblinkバイナリのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"
	CommandMigrate     Command = "migrate"
	CommandHealthcheck Command = "healthcheck"
	CommandVersion     Command = "version"
)

// commands は受け付けるサブコマンドの一覧。エラーメッセージの表示順を兼ねる。
var commands = []Command{CommandServe, CommandMigrate, CommandHealthcheck, CommandVersion}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数がなければserveとみなす。未知のサブコマンドは誤入力のままサーバーを
// 起動しないようエラーにする。2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	for _, c := range commands {
		if Command(args[0]) == c {
			return c, nil
		}
	}

	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return "", fmt.Errorf("unknown command %q (available: %s)", args[0], strings.Join(names, ", "))
}
