package main

import (
	"log/slog"
	"os"

	"github.com/ellavondegurechaff/redpacket/cmd"
	"github.com/ellavondegurechaff/redpacket/redpacket/logger"
)

func main() {
	slog.SetDefault(slog.New(logger.NewHandler(os.Stdout, slog.LevelInfo)))
	cmd.Execute()
}
