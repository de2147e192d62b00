// Command sqllint checks that every SQL string constant starts with a unique
// "--sql <uuid>" marker line, which SQLRunner strips and logs.
//
// Usage:
//
//	go run ./internal/tools/sqllint ./internal/sqlinline
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlKeyword = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create|alter|drop)\b`)
	markerLine = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type violation struct {
	pos     token.Position
	name    string
	message string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", v.pos.Filename, v.pos.Line, v.message, v.name)
}

func main() {
	flag.Parse()
	os.Exit(run(flag.Args(), os.Stderr))
}

func run(targets []string, stderr io.Writer) int {
	if len(targets) == 0 {
		targets = []string{"."}
	}
	violations, err := lint(targets)
	if err != nil {
		fmt.Fprintf(stderr, "sqllint: %v\n", err)
		return 2
	}
	if len(violations) == 0 {
		return 0
	}
	fmt.Fprintln(stderr, "sqllint: SQL marker violations")
	for _, v := range violations {
		fmt.Fprintf(stderr, "  %s\n", v)
	}
	return 1
}

func lint(targets []string) ([]violation, error) {
	l := &linter{fset: token.NewFileSet(), seen: map[string]token.Position{}}
	for _, target := range targets {
		err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != target && (strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") || d.Name() == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			return l.file(path)
		})
		if err != nil {
			return nil, err
		}
	}
	return l.violations, nil
}

type linter struct {
	fset       *token.FileSet
	seen       map[string]token.Position
	violations []violation
}

func (l *linter) file(path string) error {
	f, err := parser.ParseFile(l.fset, path, nil, 0)
	if err != nil {
		return err
	}
	ast.Inspect(f, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range spec.Values {
			lit, ok := value.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			raw, err := unquote(lit.Value)
			if err != nil || !sqlKeyword.MatchString(raw) {
				continue
			}
			name := "_"
			if i < len(spec.Names) {
				name = spec.Names[i].Name
			}
			l.check(l.fset.Position(lit.Pos()), name, raw)
		}
		return true
	})
	return nil
}

func (l *linter) check(pos token.Position, name, raw string) {
	m := markerLine.FindStringSubmatch(firstLine(raw))
	if m == nil {
		l.violations = append(l.violations, violation{pos: pos, name: name, message: "missing or invalid --sql <uuid> marker"})
		return
	}
	if prev, dup := l.seen[m[1]]; dup {
		l.violations = append(l.violations, violation{
			pos:     pos,
			name:    name,
			message: fmt.Sprintf("marker %s already used at %s:%d", m[1], prev.Filename, prev.Line),
		})
		return
	}
	l.seen[m[1]] = pos
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func unquote(v string) (string, error) {
	if strings.HasPrefix(v, "`") {
		return strings.Trim(v, "`"), nil
	}
	return strconv.Unquote(v)
}
