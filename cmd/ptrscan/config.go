package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"ptrscan/pointer_map"
)

const (
	configBaseName   = "ptrscan"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	envPrefix = "PTRSCAN"

	dumpChunkSizeKey    = "dump.chunk_size"
	dumpPointerWidthKey = "dump.pointer_width"
	dumpUnalignedKey    = "dump.unaligned"
	dumpWorkersKey      = "dump.workers"

	scanMaxDepthKey   = "scan.max_depth"
	scanMaxOffsetKey  = "scan.max_offset"
	scanMaxResultsKey = "scan.max_results"
	scanAllowStackKey = "scan.allow_stack"
	scanWorkersKey    = "scan.workers"

	logVerboseKey = "log.verbose"

	defaultPointerWidth = 8
	defaultMaxDepth     = 5
	defaultMaxOffset    = 0x1000
	defaultMaxResults   = 1000
)

func init() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.SetDefault(dumpChunkSizeKey, pointer_map.DefaultChunkSize)
	viper.SetDefault(dumpPointerWidthKey, defaultPointerWidth)
	viper.SetDefault(dumpUnalignedKey, false)
	viper.SetDefault(dumpWorkersKey, runtime.NumCPU())

	viper.SetDefault(scanMaxDepthKey, defaultMaxDepth)
	viper.SetDefault(scanMaxOffsetKey, defaultMaxOffset)
	viper.SetDefault(scanMaxResultsKey, defaultMaxResults)
	viper.SetDefault(scanAllowStackKey, false)
	viper.SetDefault(scanWorkersKey, runtime.NumCPU())

	viper.SetDefault(logVerboseKey, false)
}

// readConfig loads ptrscan.yaml from dir. A missing file is fine, a file
// that cannot be parsed is not.
func readConfig(dir string) error {
	viper.SetConfigFile(filepath.Join(dir, configFileName))
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config %s: %w", viper.ConfigFileUsed(), err)
	}
	return nil
}
