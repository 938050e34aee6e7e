package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lox/watershed/internal/tiles"
	"github.com/lox/watershed/internal/toolbox"
)

type CLI struct {
	Config kong.ConfigFlag `help:"Load flag defaults from a YAML file." type:"existingfile"`

	Run    RunCmd    `cmd:"" help:"Delineate the watershed of every pour point."`
	Tiles  TilesCmd  `cmd:"" help:"Print the elevation tiles needed around a point."`
	Report ReportCmd `cmd:"" help:"Summarise recent runs recorded in a workspace."`
}

var vars = kong.Vars{
	"tile_url": tiles.DefaultBaseURL,
	"whitebox": toolbox.DefaultWhiteboxBinary,
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("watershed"),
		kong.Description("Delineate upstream watersheds of lake sampling sites from SRTM elevation data."),
		kong.UsageOnError(),
		kong.Configuration(yamlConfig, "watershed.yaml", "~/.config/watershed/config.yaml"),
		vars,
	)
	ctx.FatalIfErrorf(ctx.Run())
}
