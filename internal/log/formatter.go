package log

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type formatter struct {
	pattern string
	time    string
}

// Format renders the entry through the pattern. Supported verbs: %time, %level, %field, %msg,
// %caller, %func, %goroutine.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var frame runtime.Frame
	var ok bool
	if needsCaller(f.pattern) {
		frame, ok = callerFrame()
	}
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", strings.ToUpper(entry.Level.String()),
		"%field", buildFields(entry),
		"%msg", entry.Message,
		"%caller", getCaller(frame, ok),
		"%func", getFunc(frame, ok),
		"%goroutine", goroutineVerb(f.pattern),
	)
	out := r.Replace(f.pattern)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return []byte(out), nil
}

func needsCaller(pattern string) bool {
	return strings.Contains(pattern, "%caller") || strings.Contains(pattern, "%func")
}

// callerFrame finds the first frame outside logrus and this package's adapter.
func callerFrame() (runtime.Frame, bool) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		base := filepath.Base(f.File)
		internal := strings.Contains(f.Function, "sirupsen/logrus") ||
			base == "logger_adapter.go" || base == "formatter.go"
		if !internal && f.Function != "" {
			return f, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

// getCaller returns package/file:line.
func getCaller(frame runtime.Frame, ok bool) string {
	if !ok {
		return "unknown"
	}
	pkg := ""
	fn := frame.Function[strings.LastIndex(frame.Function, "/")+1:]
	if dot := strings.Index(fn, "."); dot > 0 {
		pkg = fn[:dot]
	}
	return fmt.Sprintf("%s/%s:%d", pkg, filepath.Base(frame.File), frame.Line)
}

// getFunc keeps only the function or method name.
func getFunc(frame runtime.Frame, ok bool) string {
	if !ok {
		return "unknown"
	}
	return frame.Function[strings.LastIndex(frame.Function, ".")+1:]
}

func goroutineVerb(pattern string) string {
	if !strings.Contains(pattern, "%goroutine") {
		return ""
	}
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))
	if len(idField) > 0 {
		return idField[0]
	}
	return "unknown"
}

// buildFields joins entry fields as key=value, sorted by key.
func buildFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		val := entry.Data[key]
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		fields = append(fields, fmt.Sprintf("%s=%v", key, val))
	}
	return strings.Join(fields, ",")
}
