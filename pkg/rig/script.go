package rig

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/archfuse/pkg/kernel"
)

// ScriptError is a parse or runtime error in a classifier script.
type ScriptError struct {
	Line    int
	Message string
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("classifier script line %d: %s", e.Line, e.Message)
	}
	return "classifier script: " + e.Message
}

// ScriptClassifier classifies parts with a zygomys program. The program
// is evaluated in a fresh sandbox for every part and must return a role
// name string. It can call:
//
//	(part-name)              the name of the part being classified
//	(has-prefix s prefix)    case-insensitive prefix test
//	(has-substr s sub)       case-insensitive substring test
//	(lower-case s)
//
// Example:
//
//	(cond (has-prefix (part-name) "screw") "screw-hole"
//	      (has-prefix (part-name) "filler") "filler"
//	      "ignored")
type ScriptClassifier struct {
	source  string
	timeout time.Duration
}

var _ Classifier = (*ScriptClassifier)(nil)

// NewScriptClassifier compiles source once to report syntax errors early.
// A non-positive timeout selects DefaultScriptTimeout.
func NewScriptClassifier(source string, timeout time.Duration) (*ScriptClassifier, error) {
	if strings.TrimSpace(source) == "" {
		return nil, &ScriptError{Message: "empty script"}
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	s := &ScriptClassifier{source: preprocessSource(source), timeout: timeout}

	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, "")
	if err := env.LoadString(s.source); err != nil {
		return nil, parseScriptError(err)
	}
	return s, nil
}

// LoadScriptClassifier reads a classifier script from path.
func LoadScriptClassifier(path string, timeout time.Duration) (*ScriptClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rig: read classifier script: %w", err)
	}
	return NewScriptClassifier(string(data), timeout)
}

// Classify implements Classifier.
func (s *ScriptClassifier) Classify(name string) (kernel.Role, error) {
	ch := make(chan scriptResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- scriptResult{err: fmt.Errorf("panic during classification: %v", r)}
			}
		}()

		role, err := s.run(name)
		ch <- scriptResult{role: role, err: err}
	}()

	return waitWithTimeout(ch, s.timeout)
}

func (s *ScriptClassifier) run(name string) (kernel.Role, error) {
	env := zygo.NewZlispSandbox()
	defer env.Stop()
	registerBuiltins(env, name)

	if err := env.LoadString(s.source); err != nil {
		return "", parseScriptError(err)
	}
	out, err := env.Run()
	if err != nil {
		return "", parseScriptError(err)
	}

	str, ok := out.(*zygo.SexpStr)
	if !ok {
		return "", &ScriptError{Message: fmt.Sprintf("expected a role string for %q, got %s", name, out.SexpString(nil))}
	}
	role, err := kernel.ParseRole(strings.TrimSpace(str.S))
	if err != nil {
		return "", &ScriptError{Message: err.Error()}
	}
	return role, nil
}

func registerBuiltins(env *zygo.Zlisp, partName string) {
	env.AddFunction("part_name", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 0 {
			return zygo.SexpNull, fmt.Errorf("part-name takes no arguments, got %d", len(args))
		}
		return &zygo.SexpStr{S: partName}, nil
	})

	env.AddFunction("has_prefix", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		s, p, err := twoStrings("has-prefix", args)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &zygo.SexpBool{Val: strings.HasPrefix(strings.ToLower(s), strings.ToLower(p))}, nil
	})

	env.AddFunction("has_substr", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		s, sub, err := twoStrings("has-substr", args)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &zygo.SexpBool{Val: strings.Contains(strings.ToLower(s), strings.ToLower(sub))}, nil
	})

	env.AddFunction("lower_case", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("lower-case requires 1 argument, got %d", len(args))
		}
		s, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("lower-case: %w", err)
		}
		return &zygo.SexpStr{S: strings.ToLower(s)}, nil
	})
}

func twoStrings(fn string, args []zygo.Sexp) (string, string, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("%s requires 2 arguments, got %d", fn, len(args))
	}
	a, err := toString(args[0])
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", fn, err)
	}
	b, err := toString(args[1])
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", fn, err)
	}
	return a, b, nil
}

// toString extracts a Go string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// preprocessSource converts ; line comments to the // form zygomys reads
// and kebab-case identifiers to underscores. String literals are left
// untouched.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/8)
	b := []byte(source)
	i := 0
	for i < len(b) {
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Only a hyphen between identifier characters; a lone - is subtraction.
		if b[i] == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

func parseScriptError(err error) *ScriptError {
	msg := err.Error()
	if m := linePattern.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		return &ScriptError{Line: line, Message: strings.TrimSpace(m[2])}
	}
	return &ScriptError{Message: strings.TrimSpace(msg)}
}
