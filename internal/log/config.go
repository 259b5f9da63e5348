package log

import (
	"os"
	"strings"
	"sync"

	"github.com/iancoleman/strcase"
	"go.uber.org/zap/zapcore"
)

const levelEnv = "LOG_LEVEL"

// levels maps module paths to log levels. A module Rooms.MediaPaths reads
// LOG_LEVEL__ROOMS__MEDIA_PATHS, then LOG_LEVEL__ROOMS, then LOG_LEVEL.
// Results are cached per path; the environment is read once per key.
type levels struct {
	lookup func(key string) (string, bool)

	mu    sync.Mutex
	cache map[string]zapcore.Level
}

func newLevels(lookup func(key string) (string, bool)) *levels {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &levels{
		lookup: lookup,
		cache:  map[string]zapcore.Level{},
	}
}

func (l *levels) resolve(names []string) zapcore.Level {
	path := strings.Join(names, ".")

	l.mu.Lock()
	defer l.mu.Unlock()
	if lv, ok := l.cache[path]; ok {
		return lv
	}

	lv := zapcore.InfoLevel
	for _, key := range levelKeys(names) {
		if v, ok := l.lookup(key); ok {
			if parsed, ok := parseLevel(v); ok {
				lv = parsed
				break
			}
		}
	}
	l.cache[path] = lv
	return lv
}

// levelKeys lists env keys from the most to the least specific.
func levelKeys(names []string) []string {
	keys := make([]string, 0, len(names)+1)
	key := levelEnv
	for _, n := range names {
		key += "__" + strcase.ToScreamingSnake(n)
		keys = append(keys, key)
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return append(keys, levelEnv)
}

func parseLevel(s string) (zapcore.Level, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return zapcore.InfoLevel, false
	}
	var lv zapcore.Level
	if err := lv.Set(strings.ToLower(s)); err != nil {
		return zapcore.InfoLevel, false
	}
	return lv, true
}
