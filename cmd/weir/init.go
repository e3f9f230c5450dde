package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func initFlags(ko *koanf.Koanf) {
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	f.StringSlice("config", nil, "path to one or more config files (will be merged in order)")
	f.String("http.addr", "localhost:8080", "address for the status http service")
	f.String("backend.type", "fs", "state backend: fs, memory, badger, bolt or mongo")
	f.String("backend.fs.base_dir", "data/checkpoints", "base directory for the fs backend")
	f.String("backend.fs.compression", "none", "snapshot compression: none, snappy or zstd")
	f.String("backend.badger.dir", "data/badger", "directory for the badger backend")
	f.String("backend.bolt.path", "data/weir.db", "database file for the bolt backend")
	f.String("backend.mongo.uri", "mongodb://localhost:27017", "connection string for the mongo backend")
	f.Duration("checkpoint.interval", 0, "period of the checkpoint trigger loop")
	f.Duration("checkpoint.timeout", 0, "bounded wait for operator snapshot reports")
	f.Int("checkpoint.max_retained_checkpoints", 0, "successful checkpoints kept before pruning")
	f.Int("recovery.max_recovery_attempts", 0, "recovery attempts per component before giving up")
	f.Bool("dev", false, "enable human-readable development logging")
	f.Bool("version", false, "show current version of the build")

	if err := f.Parse(os.Args[1:]); err != nil {
		log.Fatal().Msgf("error loading flags: %v", err)
	}

	for _, path := range mustStrings(f, "config") {
		log.Debug().Msgf("Reading config from %s", path)
		var parser koanf.Parser
		switch path[strings.LastIndex(path, ".")+1:] {
		case "yaml", "yml":
			parser = yaml.Parser()
		case "json":
			parser = json.Parser()
		default:
			log.Fatal().Msgf("unsupported config file extension: %s", path)
		}
		if err := ko.Load(file.Provider(path), parser); err != nil {
			log.Fatal().Msgf("error reading config: %v", err)
		}
	}

	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		log.Fatal().Msgf("error reading flag config: %v", err)
	}
}

func mustStrings(f *flag.FlagSet, name string) []string {
	v, err := f.GetStringSlice(name)
	if err != nil {
		log.Fatal().Msgf("error reading flag %s: %v", name, err)
	}
	return v
}
