package visit

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// preamble is emitted once at the top of every script. Any uncaught
// exception terminates VisIt with exit status 1 so the caller sees the batch
// fail instead of a hanging interpreter.
const preamble = `# -*- coding: utf-8 -*-
import glob
import os
import sys
import traceback


def _fail(kind, value, tb):
    traceback.print_exception(kind, value, tb)
    sys.stdout.flush()
    os._exit(1)

sys.excepthook = _fail

SuppressMessages(True)
SuppressQueryOutputOn()


def _capitalize(key):
    return key[:1].upper() + key[1:]


def apply_attributes(obj, values):
    for path in sorted(values.keys()):
        value = values[path]
        keys = path.split(".")
        target = obj
        for key in keys[:-1]:
            if isinstance(target, dict):
                target = target[key]
            else:
                target = getattr(target, key)
        key = keys[-1]
        if isinstance(target, dict):
            target[key] = value
            continue
        current = getattr(target, key, None)
        if isinstance(value, str) and isinstance(current, int):
            value = getattr(target, value)
        try:
            setattr(target, key, value)
        except Exception:
            setter = getattr(target, "Set" + _capitalize(key), None)
            if setter is None:
                sys.stderr.write("Can't set value %s for key '%s'\n" % (str(value), path))
                raise
            setter(value)


def make_color_table(name, colors, discrete):
    ccpl = ColorControlPointList()
    if discrete:
        ccpl.discreteFlag = 1
        ccpl.smoothing = 0
    n = len(colors)
    for i in range(n):
        p = ColorControlPoint()
        p.colors = colors[i]
        if n > 1:
            p.position = float(i) / float(n - 1)
        else:
            p.position = 0.0
        ccpl.AddControlPoints(p)
    AddColorTable(name, ccpl)


def close_pattern(pattern):
    for f in glob.glob(pattern):
        CloseDatabase(f)
`

// Script accumulates the statements of one VisIt CLI script.
type Script struct {
	b    strings.Builder
	vars int
}

// NewScript returns a script starting with the preamble.
func NewScript() *Script {
	s := &Script{}
	s.b.WriteString(preamble)
	s.b.WriteByte('\n')
	return s
}

// String returns the script source.
func (s *Script) String() string { return s.b.String() }

// Line appends one raw statement.
func (s *Script) Line(format string, args ...any) *Script {
	fmt.Fprintf(&s.b, format, args...)
	s.b.WriteByte('\n')
	return s
}

// Comment appends a comment line.
func (s *Script) Comment(text string) *Script {
	for _, line := range strings.Split(text, "\n") {
		s.b.WriteString("# " + line + "\n")
	}
	return s
}

// Print makes the host echo msg to its log.
func (s *Script) Print(msg string) *Script {
	return s.Call("print", msg).Call("sys.stdout.flush")
}

// Call appends fn(args...), rendering each argument with Literal.
func (s *Script) Call(fn string, args ...any) *Script {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Literal(a)
	}
	return s.Line("%s(%s)", fn, strings.Join(parts, ", "))
}

// NewVar returns a fresh variable name with the given prefix.
func (s *Script) NewVar(prefix string) string {
	s.vars++
	return fmt.Sprintf("%s%d", prefix, s.vars)
}

// Attributes creates an attribute object with ctor(), assigns defaults
// directly and applies overrides through apply_attributes. It returns the
// variable holding the object.
func (s *Script) Attributes(prefix, ctor string, defaults, overrides map[string]any) string {
	v := s.NewVar(prefix)
	s.Line("%s = %s()", v, ctor)
	s.assignAll(v, defaults)
	s.Apply(v, overrides)
	return v
}

func (s *Script) assignAll(v string, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.Line("%s.%s = %s", v, k, Literal(values[k]))
	}
}

// Apply emits apply_attributes(v, values) when values is not empty.
func (s *Script) Apply(v string, values map[string]any) *Script {
	if len(values) == 0 {
		return s
	}
	return s.Line("apply_attributes(%s, %s)", v, Literal(values))
}

// OpenDatabase opens a data file.
func (s *Script) OpenDatabase(path string) *Script { return s.Call("OpenDatabase", path) }

// CloseDatabase closes a data file.
func (s *Script) CloseDatabase(path string) *Script { return s.Call("CloseDatabase", path) }

// ClosePattern closes every open database matching a glob pattern.
func (s *Script) ClosePattern(pattern string) *Script { return s.Call("close_pattern", pattern) }

// AddPlot adds a plot of variable to the active database.
func (s *Script) AddPlot(kind, variable string) *Script { return s.Call("AddPlot", kind, variable) }

// SetPlotOptions applies an attribute object to the active plot.
func (s *Script) SetPlotOptions(v string) *Script { return s.Call("SetPlotOptions", Ident(v)) }

// AddOperator adds an operator to the active plot.
func (s *Script) AddOperator(name string) *Script { return s.Call("AddOperator", name) }

// SetOperatorOptions applies an attribute object to the active operator.
func (s *Script) SetOperatorOptions(v string) *Script {
	return s.Call("SetOperatorOptions", Ident(v))
}

// DrawPlots draws all plots.
func (s *Script) DrawPlots() *Script { return s.Call("DrawPlots") }

// DeleteAllPlots removes all plots.
func (s *Script) DeleteAllPlots() *Script { return s.Call("DeleteAllPlots") }

// ClearWindow clears the window.
func (s *Script) ClearWindow() *Script { return s.Call("ClearWindow") }

// CloseComputeEngine restarts the compute engine on next use.
func (s *Script) CloseComputeEngine() *Script { return s.Call("CloseComputeEngine") }

// Quit ends the script.
func (s *Script) Quit() *Script { return s.Line("sys.exit(0)") }

// SaveWindow saves the window as a PNG image named exactly filename in dir.
func (s *Script) SaveWindow(dir, filename string) *Script {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	v := s.Attributes("save", "SaveWindowAttributes", map[string]any{
		"outputToCurrentDirectory": 0,
		"outputDirectory":          dir,
		"fileName":                 name,
		"family":                   0,
	}, map[string]any{"format": "PNG"})
	s.Call("SetSaveWindowAttributes", Ident(v))
	return s.Call("SaveWindow")
}

// SetView3D applies a 3D camera.
func (s *Script) SetView3D(view View3D) *Script {
	v := s.NewVar("view")
	s.Line("%s = GetView3D()", v)
	s.assignAll(v, view.Attributes())
	return s.Call("SetView3D", Ident(v))
}

// SetView2D applies a 2D window.
func (s *Script) SetView2D(view View2D) *Script {
	v := s.NewVar("view")
	s.Line("%s = GetView2D()", v)
	s.assignAll(v, view.Attributes())
	return s.Call("SetView2D", Ident(v))
}

// SetAnnotation applies annotation attribute paths.
func (s *Script) SetAnnotation(values map[string]any) *Script {
	v := s.NewVar("annotation")
	s.Line("%s = GetAnnotationAttributes()", v)
	s.Apply(v, values)
	return s.Call("SetAnnotationAttributes", Ident(v))
}

// ColorTable defines a named colour table.
func (s *Script) ColorTable(t ColorTable) *Script {
	colors := make([][4]int, len(t.Colors))
	for i, c := range t.Colors {
		colors[i] = [4]int{int(c.R), int(c.G), int(c.B), int(c.A)}
	}
	return s.Call("make_color_table", t.Name, colors, t.Discrete)
}

// Text2D adds a text annotation object.
func (s *Script) Text2D(text string, attrs map[string]any) *Script {
	v := s.NewVar("text")
	s.Line("%s = CreateAnnotationObject(%s)", v, Literal("Text2D"))
	s.Line("%s.text = %s", v, Literal(text))
	return s.Apply(v, attrs)
}
